// Package jelly is a dependency manager core for the Wally registry: it
// resolves, locks, and installs Roblox Lua packages into a Rojo-compatible
// on-disk layout.
//
// Basic usage:
//
//	import "github.com/jellypm/jelly"
//
//	reg := jelly.NewRegistry("", nil)
//	e := jelly.NewEngine(reg, nil)
//	summary, err := e.InstallAll(context.Background(), projectDir)
package jelly

import (
	"github.com/charmbracelet/log"

	"github.com/jellypm/jelly/engine"
	"github.com/jellypm/jelly/internal/core"
	"github.com/jellypm/jelly/internal/httpclient"
	"github.com/jellypm/jelly/internal/installer"
	"github.com/jellypm/jelly/internal/lockfile"
	"github.com/jellypm/jelly/internal/manifest"
	"github.com/jellypm/jelly/internal/registry"
	"github.com/jellypm/jelly/internal/resolver"
)

// Re-export the data model from internal/core.
type (
	PackageId        = core.PackageId
	Version          = core.Version
	Range            = core.Range
	Realm            = core.Realm
	VersionEntry     = core.VersionEntry
	RegistryMetadata = core.RegistryMetadata
	SearchResult     = core.SearchResult
	ResolvedNode     = core.ResolvedNode
	ResolutionGraph  = core.ResolutionGraph
	Conflict         = core.Conflict
	RequiredBy       = core.RequiredBy
	Manifest         = core.Manifest
	JellyConfig      = core.JellyConfig
	LockEntry        = core.LockEntry
	Lockfile         = core.Lockfile
)

const (
	RealmUnspecified = core.RealmUnspecified
	RealmShared      = core.RealmShared
	RealmServer      = core.RealmServer
)

// Re-export the error taxonomy from internal/core.
var (
	ErrManifestMissing    = core.ErrManifestMissing
	ErrManifestMalformed  = core.ErrManifestMalformed
	ErrLockfileStale      = core.ErrLockfileStale
	ErrPackageNotFound    = core.ErrPackageNotFound
	ErrVersionNotFound    = core.ErrVersionNotFound
	ErrUnsatisfiableRange = core.ErrUnsatisfiableRange
	ErrRegistry           = core.ErrRegistry
	ErrArchive            = core.ErrArchive
	ErrIO                 = core.ErrIO
)

type (
	ManifestMissingError    = core.ManifestMissingError
	ManifestMalformedError  = core.ManifestMalformedError
	LockfileStaleError      = core.LockfileStaleError
	PackageNotFoundError    = core.PackageNotFoundError
	VersionNotFoundError    = core.VersionNotFoundError
	UnsatisfiableRangeError = core.UnsatisfiableRangeError
	RegistryError           = core.RegistryError
	ArchiveError            = core.ArchiveError
	IoError                 = core.IoError
	ConflictError           = core.ConflictError
)

// ParsePackageId parses a canonical "scope/name" string.
func ParsePackageId(s string) (PackageId, error) { return core.ParsePackageId(s) }

// ParseVersion parses a SemVer 2.0 string.
func ParseVersion(s string) (Version, error) { return core.ParseVersion(s) }

// ParseRange parses a SemVer range string (exact, caret, tilde,
// comparator, hyphen, disjunction, or wildcard).
func ParseRange(s string) (Range, error) { return core.ParseRange(s) }

// Re-export the Registry Client.
type RegistryClient = registry.Client

// NewRegistry constructs a Registry Client talking to the Wally API at
// baseURL (DefaultBaseURL when empty), using httpClient (a default HTTP
// client when nil).
func NewRegistry(baseURL string, httpClient *httpclient.Client) *RegistryClient {
	return registry.New(baseURL, httpClient)
}

// DefaultRegistryBaseURL is the production Wally registry API.
const DefaultRegistryBaseURL = registry.DefaultBaseURL

// HTTPClient is the retrying, circuit-broken, DNS-cached transport shared
// by the Registry Client's calls.
type HTTPClient = httpclient.Client

// NewHTTPClient constructs an HTTPClient with jelly's default resilience
// settings.
func NewHTTPClient(opts ...httpclient.Option) *HTTPClient {
	return httpclient.New(opts...)
}

// Re-export the Version Resolver.
type (
	Resolver   = resolver.Resolver
	Resolution = resolver.Resolution
)

// NewResolver constructs a Resolver backed by the given metadata source
// (typically a *RegistryClient).
func NewResolver(registry resolver.MetadataFetcher) *Resolver {
	return resolver.New(registry)
}

// Re-export the Lockfile Store's free functions.
var (
	ReadLockfile     = lockfile.Read
	WriteLockfile    = lockfile.Write
	LockfileExists   = lockfile.Exists
	DeleteLockfile   = lockfile.Delete
	ValidateLockfile = lockfile.Validate
	GenerateLockfile = lockfile.Generate
	UpdateLockfile   = lockfile.Update
)

// Re-export the manifest reader/writer.
var (
	LoadManifest    = manifest.Load
	SaveManifest    = manifest.Save
	ManifestExists  = manifest.Exists
	ManifestPath    = manifest.Path
)

// Re-export the Package Installer.
type (
	Installer           = installer.Installer
	PackageResult       = installer.PackageResult
	ProjectFileRequest  = installer.ProjectFileRequest
)

// NewInstaller constructs an Installer backed by the given downloader
// (typically a *RegistryClient).
func NewInstaller(d installer.Downloader) *Installer {
	return installer.New(d)
}

// PruneOrphans removes on-disk _Index entries and shims no longer
// referenced by m, then regenerates the shim layer from lf.
func PruneOrphans(packagesPath string, m *Manifest, lf *Lockfile) error {
	return installer.PruneOrphans(packagesPath, m, lf)
}

// Re-export the Engine (Orchestrator).
type (
	Engine          = engine.Engine
	EngineRegistry  = engine.Registry
	InitOptions     = engine.InitOptions
	Spec            = engine.Spec
	InstallSummary  = engine.InstallSummary
	OutdatedEntry   = engine.OutdatedEntry
	AnalyzeOptions  = engine.AnalyzeOptions
)

// Logger is the injectable structured logger the Engine writes
// install/skip/conflict records to. It defaults to a discard writer when
// nil is passed to NewEngine.
type Logger = log.Logger

// NewEngine constructs an Engine. If logger is nil, it discards output.
func NewEngine(registry engine.Registry, logger *Logger) *Engine {
	return engine.New(registry, logger)
}
