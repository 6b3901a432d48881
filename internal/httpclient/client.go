// Package httpclient provides the retrying, circuit-broken, DNS-cached
// HTTP client shared by the Registry Client's metadata/search calls and
// the Installer's archive downloads. It generalizes the teacher pack's
// fetch.Fetcher (DNS-cached dialer, jittered exponential backoff) and
// fetch.CircuitBreakerFetcher (per-host circuit breaking) into a single
// client value with no global/static state.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"
)

// Response is a successful HTTP response the caller must close.
type Response struct {
	Body        io.ReadCloser
	StatusCode  int
	ContentType string
	Size        int64 // -1 if unknown
	ETag        string
}

// Client is an HTTP client with retry, DNS caching, and per-host circuit
// breaking, tuned for talking to a package registry and its CDN-backed
// download host.
type Client struct {
	http       *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	headers    map[string]string

	breakersMu sync.RWMutex
	breakers   map[string]*circuit.Breaker

	resolver *dnscache.Resolver
	stopDNS  chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithHeader sets a static header sent on every request (e.g. the Wally
// registry's required Wally-Version header, spec §4.1).
func WithHeader(name, value string) Option {
	return func(c *Client) {
		if c.headers == nil {
			c.headers = map[string]string{}
		}
		c.headers[name] = value
	}
}

// WithTimeout sets the underlying http.Client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithMaxRetries sets the maximum retry attempts for transient failures.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// New creates a Client with sensible defaults: 30s timeout, 3 retries with
// jittered exponential backoff starting at 500ms, a DNS-cached dialer
// refreshed every 5 minutes, and a per-host circuit breaker that trips
// after 5 consecutive failures.
func New(opts ...Option) *Client {
	resolver := &dnscache.Resolver{}
	stop := make(chan struct{})

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	c := &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: dnsCachedDial(resolver, dialer),
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		userAgent:  "jelly-cli/0.1.0",
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		breakers:   make(map[string]*circuit.Breaker),
		resolver:   resolver,
		stopDNS:    stop,
	}
	for _, opt := range opts {
		opt(c)
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				resolver.Refresh(true)
			case <-stop:
				return
			}
		}
	}()

	return c
}

// Close stops the background DNS-cache refresh goroutine.
func (c *Client) Close() {
	select {
	case <-c.stopDNS:
	default:
		close(c.stopDNS)
	}
}

func dnsCachedDial(resolver *dnscache.Resolver, dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, ip := range ips {
			conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if dialErr == nil {
				return conn, nil
			}
			lastErr = dialErr
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("no addresses resolved for %s", host)
		}
		return nil, lastErr
	}
}

// breakerFor returns or lazily creates the circuit breaker for a host.
func (c *Client) breakerFor(host string) *circuit.Breaker {
	c.breakersMu.RLock()
	b, ok := c.breakers[host]
	c.breakersMu.RUnlock()
	if ok {
		return b
	}

	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	if b, ok := c.breakers[host]; ok {
		return b
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	c.breakers[host] = b
	return b
}

// Do issues req, retrying on 429/5xx with jittered exponential backoff and
// failing fast on everything else, gated by a per-host circuit breaker.
// The caller must close the returned Response.Body on success.
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", c.userAgent)
	for name, value := range c.headers {
		req.Header.Set(name, value)
	}

	host := req.URL.Host
	breaker := c.breakerFor(host)

	if !breaker.Ready() {
		return nil, fmt.Errorf("circuit breaker open for %s", host)
	}

	var resp *Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			jitter := time.Duration(float64(delay) * (rand.Float64() * 0.1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay + jitter):
			}
		}

		breakErr := breaker.Call(func() error {
			r, doErr := c.doOnce(req)
			if doErr != nil {
				return doErr
			}
			resp = r
			return nil
		}, 0)

		if breakErr == nil {
			return resp, nil
		}
		lastErr = breakErr

		if !isRetryable(breakErr) {
			return nil, lastErr
		}
	}

	return nil, lastErr
}

func (c *Client) doOnce(req *http.Request) (*Response, error) {
	clone := req.Clone(req.Context())
	httpResp, err := c.http.Do(clone)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamDown, err)
	}

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		size := int64(-1)
		if cl := httpResp.Header.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
				size = n
			}
		}
		return &Response{
			Body:        httpResp.Body,
			StatusCode:  httpResp.StatusCode,
			ContentType: httpResp.Header.Get("Content-Type"),
			Size:        size,
			ETag:        httpResp.Header.Get("ETag"),
		}, nil

	case httpResp.StatusCode == http.StatusNotFound:
		httpResp.Body.Close()
		return nil, ErrNotFound

	case httpResp.StatusCode == http.StatusTooManyRequests:
		httpResp.Body.Close()
		return nil, ErrRateLimited

	case httpResp.StatusCode >= 500:
		httpResp.Body.Close()
		return nil, ErrUpstreamDown

	default:
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		httpResp.Body.Close()
		return nil, &StatusError{StatusCode: httpResp.StatusCode, URL: req.URL.String(), Body: string(body)}
	}
}

func isRetryable(err error) bool {
	return err == ErrRateLimited || err == ErrUpstreamDown
}
