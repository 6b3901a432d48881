// Package core holds the data model shared by every component of the
// package-management engine: package identity, versions, ranges, the
// project manifest, registry metadata, and the resolved/locked graph
// shapes that flow between the Resolver, the Lockfile Store, and the
// Installer.
package core

import (
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

// identPattern matches the allowed characters for a PackageId scope or name.
var identPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// PackageId identifies a package within the registry by its scope and name.
// Both fields are case-sensitive and must match identPattern.
type PackageId struct {
	Scope string
	Name  string
}

// ParsePackageId parses a canonical "scope/name" string.
func ParsePackageId(s string) (PackageId, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			scope, name := s[:i], s[i+1:]
			id := PackageId{Scope: scope, Name: name}
			if err := id.Validate(); err != nil {
				return PackageId{}, err
			}
			return id, nil
		}
	}
	return PackageId{}, fmt.Errorf("invalid package id %q: expected scope/name", s)
}

// Validate checks that both Scope and Name satisfy the allowed character set.
func (id PackageId) Validate() error {
	if !identPattern.MatchString(id.Scope) {
		return fmt.Errorf("invalid package scope %q", id.Scope)
	}
	if !identPattern.MatchString(id.Name) {
		return fmt.Errorf("invalid package name %q", id.Name)
	}
	return nil
}

// String renders the canonical "scope/name" form.
func (id PackageId) String() string {
	return id.Scope + "/" + id.Name
}

// MarshalText implements encoding.TextMarshaler so PackageId can be used
// as a JSON object key (manifest.dependencies is keyed by PackageId).
func (id PackageId) MarshalText() ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *PackageId) UnmarshalText(text []byte) error {
	parsed, err := ParsePackageId(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Version is a parsed SemVer 2.0 version. It wraps semver.Version so that
// ordering and precedence follow the library's implementation, per spec's
// "strict ordering per SemVer precedence rules".
type Version struct {
	v *semver.Version
}

// ParseVersion parses a SemVer 2.0 string.
func ParseVersion(s string) (Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return Version{v: v}, nil
}

// String returns the original normalized SemVer string.
func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

// IsZero reports whether this Version was never assigned.
func (v Version) IsZero() bool {
	return v.v == nil
}

// Compare returns -1, 0, or +1 per SemVer precedence, matching semver.Version.Compare.
func (v Version) Compare(other Version) int {
	return v.v.Compare(other.v)
}

// LessThan reports whether v has lower precedence than other.
func (v Version) LessThan(other Version) bool {
	return v.Compare(other) < 0
}

// GreaterThan reports whether v has higher precedence than other.
func (v Version) GreaterThan(other Version) bool {
	return v.Compare(other) > 0
}

// Equal reports precedence equality (pre-release tags included).
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	if v.v == nil {
		return nil, fmt.Errorf("marshal zero Version")
	}
	return []byte(v.v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	parsed, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MaxVersion returns the highest-precedence Version in vs, or the zero
// Version if vs is empty.
func MaxVersion(vs []Version) Version {
	var max Version
	for _, v := range vs {
		if max.IsZero() || v.GreaterThan(max) {
			max = v
		}
	}
	return max
}

// Realm is an informational hint from registry metadata: whether a version
// is meant to run in a shared (client+server) or server-only context.
// Jelly's resolver and installer never branch on it — it is surfaced to
// callers verbatim through ResolvedNode.Realm in the resolution graph
// (e.g. Engine.Analyze); Outdated reports do not carry it.
type Realm string

const (
	RealmUnspecified Realm = ""
	RealmShared      Realm = "shared"
	RealmServer      Realm = "server"
)

// VersionEntry is one published version of a package, as returned by the
// registry's metadata endpoint.
type VersionEntry struct {
	Version            Version
	Realm              Realm
	Description        string
	License            string
	Authors            []string
	Repository         string
	Homepage           string
	Dependencies       map[PackageId]Range
	ServerDependencies map[PackageId]Range
	DevDependencies    map[PackageId]Range
}

// RegistryMetadata is the ordered (descending by Version) sequence of
// VersionEntry for a single PackageId. The Registry Client never mutates
// a RegistryMetadata once constructed.
type RegistryMetadata struct {
	Id       PackageId
	Versions []VersionEntry
}

// Latest returns the first (highest-precedence) entry, or false if empty.
func (m RegistryMetadata) Latest() (VersionEntry, bool) {
	if len(m.Versions) == 0 {
		return VersionEntry{}, false
	}
	return m.Versions[0], true
}

// Find returns the entry matching the given version, or false.
func (m RegistryMetadata) Find(v Version) (VersionEntry, bool) {
	for _, e := range m.Versions {
		if e.Version.Equal(v) {
			return e, true
		}
	}
	return VersionEntry{}, false
}

// SearchResult is one hit from the registry's package-search endpoint.
type SearchResult struct {
	Id          PackageId
	Versions    []Version
	Description string
	Keywords    []string
	Repository  string
	License     string
}

// ResolvedNode is a single resolved package in a ResolutionGraph: the
// concrete version chosen, the URL it will be fetched from, and the
// production+server dependency ranges declared by that chosen version.
type ResolvedNode struct {
	Id      PackageId
	Version Version
	URL     string
	Realm   Realm
	Deps    map[PackageId]Range
}

// ResolutionGraph is the flat, single-version-per-package resolution
// produced by Resolver.ResolveTree, plus the top-level ranges that were
// fed into the resolution (retained so the Lockfile Store and Engine can
// report which requirement pinned which node).
type ResolutionGraph struct {
	Nodes    map[PackageId]ResolvedNode
	TopLevel map[PackageId]Range
}

// RequiredBy records one requirer's range contribution to a Conflict.
type RequiredBy struct {
	Requirer string // "<root>" for the manifest itself, else a PackageId.String()
	Range    Range
}

// Conflict is produced when two or more requirers of the same PackageId
// disagree and either an intersection was found (Resolved is set) or the
// graph is infeasible for that package (Resolved is zero).
type Conflict struct {
	Id         PackageId
	RequiredBy []RequiredBy
	Resolved   Version // zero Version (IsZero()) means unsatisfiable
}

// Unsatisfiable reports whether this conflict has no resolution.
func (c Conflict) Unsatisfiable() bool {
	return c.Resolved.IsZero()
}
