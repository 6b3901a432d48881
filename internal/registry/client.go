// Package registry implements the Registry Client component from spec
// §4.1: typed read-only access to the Wally registry API — search,
// metadata, latest_version, download.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/jellypm/jelly/internal/core"
	"github.com/jellypm/jelly/internal/httpclient"
)

// DefaultBaseURL is the default Wally registry API, per spec §4.1.
const DefaultBaseURL = "https://api.wally.run"

// WallyVersion is sent on every request as the Wally-Version header,
// matching the API version Jelly speaks, per spec §4.1/§6.
const WallyVersion = "0.3.2"

// UserAgent is sent as the User-Agent header on every request.
const UserAgent = "jelly-cli/0.1.0"

const defaultSearchLimit = 20

// Client is a typed, read-only client for the Wally registry API. Its
// metadata cache is owned by the value (no package-level singleton, per
// spec §9's redesign flag) and is keyed by PackageId only — there is no
// cross-version invalidation, per spec §4.1.
type Client struct {
	baseURL string
	http    *httpclient.Client

	cacheMu sync.RWMutex
	cache   map[core.PackageId]*core.RegistryMetadata
}

// New constructs a registry Client. If baseURL is empty, DefaultBaseURL is
// used. If httpClient is nil, a new one with jelly's default options is
// created.
func New(baseURL string, httpClient *httpclient.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = httpclient.New(
			httpclient.WithUserAgent(UserAgent),
			httpclient.WithHeader("Wally-Version", WallyVersion),
		)
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
		cache:   make(map[core.PackageId]*core.RegistryMetadata),
	}
}

// Search queries the registry's package-search endpoint. limit<=0 uses
// defaultSearchLimit, matching Wally's own API default (spec §10).
func (c *Client) Search(ctx context.Context, query string, limit int) ([]core.SearchResult, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	u := fmt.Sprintf("%s/v1/package-search?query=%s", c.baseURL, url.QueryEscape(query))
	var resp searchResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}

	results := make([]core.SearchResult, 0, len(resp.Data))
	for i, item := range resp.Data {
		if i >= limit {
			break
		}
		id, err := core.ParsePackageId(item.Scope + "/" + item.Name)
		if err != nil {
			continue
		}
		versions := make([]core.Version, 0, len(item.Versions))
		for _, vs := range item.Versions {
			if v, err := core.ParseVersion(vs); err == nil {
				versions = append(versions, v)
			}
		}
		results = append(results, core.SearchResult{
			Id:          id,
			Versions:    versions,
			Description: item.Description,
			Keywords:    item.Keywords,
			Repository:  item.Repository,
			License:     item.License,
		})
	}
	return results, nil
}

// Metadata returns the full registry metadata for id, served from the
// in-memory cache when present (spec §4.1: "metadata results are cached in
// memory for the process lifetime").
func (c *Client) Metadata(ctx context.Context, id core.PackageId) (*core.RegistryMetadata, error) {
	c.cacheMu.RLock()
	if cached, ok := c.cache[id]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	u := fmt.Sprintf("%s/v1/package-metadata/%s/%s", c.baseURL, id.Scope, id.Name)
	var resp metadataResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		if err == httpclient.ErrNotFound {
			return nil, &core.PackageNotFoundError{Id: id}
		}
		return nil, err
	}

	meta, err := resp.toCore(id)
	if err != nil {
		return nil, fmt.Errorf("parsing metadata for %s: %w", id, err)
	}

	c.cacheMu.Lock()
	c.cache[id] = meta
	c.cacheMu.Unlock()

	return meta, nil
}

// LatestVersion returns the first (highest) entry of Metadata(id) — the
// registry guarantees descending order, per spec §4.1.
func (c *Client) LatestVersion(ctx context.Context, id core.PackageId) (core.Version, error) {
	meta, err := c.Metadata(ctx, id)
	if err != nil {
		return core.Version{}, err
	}
	latest, ok := meta.Latest()
	if !ok {
		return core.Version{}, &core.VersionNotFoundError{Id: id}
	}
	return latest.Version, nil
}

// Download streams the archive bytes for (id, version). The caller must
// close the returned io.ReadCloser. Download results are never cached in
// memory, per spec §4.1 — the caller streams straight to disk.
func (c *Client) Download(ctx context.Context, id core.PackageId, v core.Version) (io.ReadCloser, int64, error) {
	u := fmt.Sprintf("%s/v1/package-contents/%s/%s/%s", c.baseURL, id.Scope, id.Name, v.String())

	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("building download request: %w", err)
	}
	req.Header.Set("Accept", "application/zip")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		if err == httpclient.ErrNotFound {
			return nil, 0, &core.PackageNotFoundError{Id: id}
		}
		return nil, 0, translateHTTPError(u, err)
	}

	return resp.Body, resp.Size, nil
}

// getJSON issues a GET request with Accept: application/json and decodes
// the JSON body into out.
func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decoding JSON from %s: %w", rawURL, err)
	}
	return nil
}

func translateHTTPError(url string, err error) error {
	switch err {
	case httpclient.ErrNotFound:
		return &core.RegistryError{StatusCode: http.StatusNotFound, URL: url}
	case httpclient.ErrRateLimited:
		return &core.RegistryError{StatusCode: http.StatusTooManyRequests, URL: url}
	case httpclient.ErrUpstreamDown:
		return &core.RegistryError{StatusCode: http.StatusServiceUnavailable, URL: url}
	}
	if statusErr, ok := err.(*httpclient.StatusError); ok {
		return &core.RegistryError{StatusCode: statusErr.StatusCode, URL: statusErr.URL, Body: statusErr.Body}
	}
	return &core.RegistryError{StatusCode: 0, URL: url, Body: err.Error()}
}
