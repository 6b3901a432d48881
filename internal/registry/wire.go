package registry

import (
	"fmt"

	"github.com/jellypm/jelly/internal/core"
)

// searchResponse mirrors the Wally package-search endpoint's response
// envelope: {"data": [...]}.
type searchResponse struct {
	Data []searchItem `json:"data"`
}

type searchItem struct {
	Scope       string   `json:"scope"`
	Name        string   `json:"name"`
	Versions    []string `json:"versions"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Repository  string   `json:"repository"`
	License     string   `json:"license"`
}

// metadataResponse mirrors the Wally package-metadata endpoint:
// {"versions": [...]}, newest first.
type metadataResponse struct {
	Versions []wireVersionEntry `json:"versions"`
}

type wireVersionEntry struct {
	Package struct {
		Name        string   `json:"name"`
		Version     string   `json:"version"`
		Description string   `json:"description"`
		License     string   `json:"license"`
		Authors     []string `json:"authors"`
		Realm       string   `json:"realm"`
		Repository  string   `json:"repository"`
		Homepage    string   `json:"homepage"`
	} `json:"package"`
	Dependencies       map[string]string `json:"dependencies"`
	ServerDependencies map[string]string `json:"server-dependencies"`
	DevDependencies    map[string]string `json:"dev-dependencies"`
}

// toCore converts a decoded metadataResponse into core.RegistryMetadata,
// parsing versions and dependency ranges. Entries that fail to parse are
// skipped rather than failing the whole response, since a single
// malformed historical entry should not make every other version
// unreachable.
func (r metadataResponse) toCore(id core.PackageId) (*core.RegistryMetadata, error) {
	meta := &core.RegistryMetadata{Id: id, Versions: make([]core.VersionEntry, 0, len(r.Versions))}

	for _, w := range r.Versions {
		v, err := core.ParseVersion(w.Package.Version)
		if err != nil {
			continue
		}

		deps, err := parseDepMap(w.Dependencies)
		if err != nil {
			return nil, fmt.Errorf("package %s@%s: %w", id, w.Package.Version, err)
		}
		serverDeps, err := parseDepMap(w.ServerDependencies)
		if err != nil {
			return nil, fmt.Errorf("package %s@%s: %w", id, w.Package.Version, err)
		}
		devDeps, err := parseDepMap(w.DevDependencies)
		if err != nil {
			return nil, fmt.Errorf("package %s@%s: %w", id, w.Package.Version, err)
		}

		meta.Versions = append(meta.Versions, core.VersionEntry{
			Version:            v,
			Realm:              core.Realm(w.Package.Realm),
			Description:        w.Package.Description,
			License:            w.Package.License,
			Authors:            w.Package.Authors,
			Repository:         w.Package.Repository,
			Homepage:           w.Package.Homepage,
			Dependencies:       deps,
			ServerDependencies: serverDeps,
			DevDependencies:    devDeps,
		})
	}

	sortDescending(meta.Versions)
	return meta, nil
}

// parseDepMap converts the wire dependency map (PackageId string ->
// range string, Wally's "name/scope@range" or "scope/name range" forms
// collapse to the same scope/name split core.ParsePackageId expects)
// into a core dependency map.
func parseDepMap(wire map[string]string) (map[core.PackageId]core.Range, error) {
	if len(wire) == 0 {
		return map[core.PackageId]core.Range{}, nil
	}
	out := make(map[core.PackageId]core.Range, len(wire))
	for idStr, rangeStr := range wire {
		id, err := core.ParsePackageId(idStr)
		if err != nil {
			return nil, fmt.Errorf("invalid dependency id %q: %w", idStr, err)
		}
		rng, err := core.ParseRange(rangeStr)
		if err != nil {
			return nil, fmt.Errorf("invalid dependency range %q for %s: %w", rangeStr, idStr, err)
		}
		out[id] = rng
	}
	return out, nil
}

func sortDescending(entries []core.VersionEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Version.GreaterThan(entries[j-1].Version); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}
