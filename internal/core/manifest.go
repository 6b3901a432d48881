package core

import "fmt"

// ContentsURL builds the package-contents download URL for a resolved
// package, per spec §4.3: LockEntry.Resolved's fixed URL scheme.
func ContentsURL(id PackageId, v Version) string {
	return fmt.Sprintf("https://api.wally.run/v1/package-contents/%s/%s/%s", id.Scope, id.Name, v.String())
}

// JellyConfig is the manifest's "jelly" block: engine behavior toggles.
type JellyConfig struct {
	Cleanup           bool   `json:"cleanup"`
	Optimize          bool   `json:"optimize"`
	PackagesPath      string `json:"packagesPath"`
	UpdateProjectFile bool   `json:"updateProjectFile"`
}

// DefaultJellyConfig returns the manifest's jelly block defaults, per spec §3.
func DefaultJellyConfig() JellyConfig {
	return JellyConfig{
		Cleanup:           true,
		Optimize:          true,
		PackagesPath:      "Packages",
		UpdateProjectFile: true,
	}
}

// Manifest is a project's jelly.json, per spec §3.
type Manifest struct {
	Name               string              `json:"name"`
	Version            string              `json:"version"`
	Dependencies       map[PackageId]Range `json:"dependencies"`
	DevDependencies    map[PackageId]Range `json:"devDependencies"`
	ServerDependencies map[PackageId]Range `json:"serverDependencies,omitempty"`
	Scripts            map[string]string   `json:"scripts,omitempty"`
	Jelly              JellyConfig         `json:"jelly,omitempty"`
}

// NewManifest returns an initialized manifest with empty dependency maps
// and default jelly config, as produced by Engine.Init.
func NewManifest(name string) *Manifest {
	return &Manifest{
		Name:            name,
		Version:         "0.1.0",
		Dependencies:    map[PackageId]Range{},
		DevDependencies: map[PackageId]Range{},
		Jelly:           DefaultJellyConfig(),
	}
}

// Normalize enforces the invariants described in spec §3: Name non-empty,
// Dependencies/DevDependencies always present (nil coerced to empty), and
// no package appearing in more than one dependency map. Called after
// unmarshaling (reader is "liberal": missing maps are coerced) and before
// any operation that inspects the dependency maps.
func (m *Manifest) Normalize() error {
	if m.Name == "" {
		return fmt.Errorf("manifest name must not be empty")
	}
	if m.Dependencies == nil {
		m.Dependencies = map[PackageId]Range{}
	}
	if m.DevDependencies == nil {
		m.DevDependencies = map[PackageId]Range{}
	}
	if m.Jelly.PackagesPath == "" {
		m.Jelly.PackagesPath = "Packages"
	}

	seen := map[PackageId]string{}
	maps := []struct {
		name string
		deps map[PackageId]Range
	}{
		{"dependencies", m.Dependencies},
		{"devDependencies", m.DevDependencies},
		{"serverDependencies", m.ServerDependencies},
	}
	for _, group := range maps {
		for id := range group.deps {
			if prev, ok := seen[id]; ok {
				return fmt.Errorf("package %s appears in both %s and %s", id, prev, group.name)
			}
			seen[id] = group.name
		}
	}
	return nil
}

// AllDependencies returns the union of Dependencies, DevDependencies, and
// ServerDependencies. Used by the orphan pruner (spec §4.4) to decide
// which on-disk entries are still referenced.
func (m *Manifest) AllDependencies() map[PackageId]Range {
	all := make(map[PackageId]Range, len(m.Dependencies)+len(m.DevDependencies)+len(m.ServerDependencies))
	for id, r := range m.Dependencies {
		all[id] = r
	}
	for id, r := range m.DevDependencies {
		all[id] = r
	}
	for id, r := range m.ServerDependencies {
		all[id] = r
	}
	return all
}

// TopLevelAndDev returns Dependencies ∪ DevDependencies ∪ ServerDependencies
// — everything the root manifest requires directly, which spec §4.2 says
// the Resolver must walk transitively (devDependencies of the root ARE
// followed; devDependencies of transitive packages are NOT).
func (m *Manifest) TopLevelAndDev() map[PackageId]Range {
	return m.AllDependencies()
}

// Contains reports whether id appears in any of the three dependency maps.
func (m *Manifest) Contains(id PackageId) bool {
	if _, ok := m.Dependencies[id]; ok {
		return true
	}
	if _, ok := m.DevDependencies[id]; ok {
		return true
	}
	if _, ok := m.ServerDependencies[id]; ok {
		return true
	}
	return false
}

// RemoveDependency deletes id from every dependency map. Returns true if
// it was present in at least one.
func (m *Manifest) RemoveDependency(id PackageId) bool {
	found := false
	if _, ok := m.Dependencies[id]; ok {
		delete(m.Dependencies, id)
		found = true
	}
	if _, ok := m.DevDependencies[id]; ok {
		delete(m.DevDependencies, id)
		found = true
	}
	if _, ok := m.ServerDependencies[id]; ok {
		delete(m.ServerDependencies, id)
		found = true
	}
	return found
}

// LockEntry is one resolved+pinned package in the Lockfile, per spec §3.
type LockEntry struct {
	Version      Version             `json:"version"`
	Resolved     string              `json:"resolved"`
	Integrity    string              `json:"integrity,omitempty"`
	Dependencies map[PackageId]Range `json:"dependencies,omitempty"`
}

// Lockfile is a project's jelly-lock.json, per spec §3.
type Lockfile struct {
	LockfileVersion int                     `json:"lockfileVersion"`
	Name            string                  `json:"name"`
	Version         string                  `json:"version"`
	Packages        map[PackageId]LockEntry `json:"packages"`
	Dependencies    map[PackageId]Range     `json:"dependencies"`
	DevDependencies map[PackageId]Range     `json:"devDependencies"`
}

// CurrentLockfileVersion is the only lockfileVersion this module accepts;
// any other value means the lockfile must be discarded and regenerated.
const CurrentLockfileVersion = 1

// CoversManifest reports whether every key of
// manifest.Dependencies ∪ manifest.DevDependencies appears in l.Packages,
// which is the "validate" contract from spec §4.3.
func (l *Lockfile) CoversManifest(m *Manifest) bool {
	for id := range m.Dependencies {
		if _, ok := l.Packages[id]; !ok {
			return false
		}
	}
	for id := range m.DevDependencies {
		if _, ok := l.Packages[id]; !ok {
			return false
		}
	}
	return true
}
