// Package engine implements the Orchestrator described in spec §4.5: the
// single entry point a CLI collaborator drives, one call per subcommand.
// The Engine owns no UI concerns — it logs structured records through an
// injected *log.Logger and returns data, never writing to stdout/stderr
// or coloring output itself.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/jellypm/jelly/internal/core"
	"github.com/jellypm/jelly/internal/installer"
	"github.com/jellypm/jelly/internal/lockfile"
	"github.com/jellypm/jelly/internal/manifest"
	"github.com/jellypm/jelly/internal/resolver"
)

// Registry is the subset of the Registry Client the Engine needs: the
// resolver's metadata fetcher plus the installer's downloader plus an
// explicit latest-version lookup for add/update/outdated.
type Registry interface {
	resolver.MetadataFetcher
	installer.Downloader
	LatestVersion(ctx context.Context, id core.PackageId) (core.Version, error)
}

// Engine is the Orchestrator. It holds no process-global state: every
// operation takes the project directory explicitly, so one process can
// drive multiple projects.
type Engine struct {
	Registry Registry
	Logger   *log.Logger
}

// New constructs an Engine. If logger is nil, it defaults to a
// charmbracelet/log logger writing to io.Discard, matching the teacher
// pack's CLI-layer default for library callers that don't want output.
func New(registry Registry, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Engine{Registry: registry, Logger: logger}
}

// InitOptions configures Init.
type InitOptions struct {
	Name string
}

// Init creates a fresh manifest at dir if none exists.
func (e *Engine) Init(dir string, opts InitOptions) (*core.Manifest, error) {
	if manifest.Exists(dir) {
		return nil, fmt.Errorf("jelly.json already exists at %s", dir)
	}
	name := opts.Name
	if name == "" {
		name = filepath.Base(dir)
	}
	m := core.NewManifest(name)
	if err := manifest.Save(dir, m); err != nil {
		return nil, err
	}
	e.Logger.Info("initialized manifest", "path", manifest.Path(dir))
	return m, nil
}

// Spec is a parsed "scope/name[@range]" argument, as accepted by Add and
// InstallSpecific.
type Spec struct {
	Id    core.PackageId
	Range core.Range
}

// InstallSummary is the aggregate outcome of an Engine operation that
// touches the on-disk package layout.
type InstallSummary struct {
	Results            []installer.PackageResult
	Conflicts          []core.Conflict
	ProjectFileRequest installer.ProjectFileRequest
}

// Add resolves each spec (bare "*" range when unspecified), writes it to
// the manifest's dependencies or devDependencies, then installs the full
// locked graph, per spec §4.5.
func (e *Engine) Add(ctx context.Context, dir string, specs []Spec, dev bool) (*InstallSummary, error) {
	m, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}

	res := resolver.New(e.Registry)
	for _, spec := range specs {
		rng := spec.Range
		if rng.IsWildcard() {
			v, err := e.Registry.LatestVersion(ctx, spec.Id)
			if err != nil {
				return nil, err
			}
			rng = core.MustParseRange(v.String())
		}
		if dev {
			m.DevDependencies[spec.Id] = rng
		} else {
			m.Dependencies[spec.Id] = rng
		}
	}
	if err := m.Normalize(); err != nil {
		return nil, &core.ManifestMalformedError{Path: manifest.Path(dir), Cause: err}
	}
	if err := manifest.Save(dir, m); err != nil {
		return nil, err
	}

	return e.installLocked(ctx, dir, m, res)
}

// Remove deletes ids from both dependency maps, regenerates the
// lockfile, and prunes orphans, per spec §4.5.
func (e *Engine) Remove(ctx context.Context, dir string, ids []core.PackageId) error {
	m, err := manifest.Load(dir)
	if err != nil {
		return err
	}
	for _, id := range ids {
		m.RemoveDependency(id)
	}
	if err := manifest.Save(dir, m); err != nil {
		return err
	}

	res := resolver.New(e.Registry)
	lf, conflicts, err := lockfile.Generate(ctx, res, m)
	if err != nil {
		return err
	}
	if err := lockfile.Write(dir, lf); err != nil {
		return err
	}
	e.logConflicts(conflicts)

	return installer.PruneOrphans(filepath.Join(dir, m.Jelly.PackagesPath), m, lf)
}

// InstallSpecific is Add with dev=false: each spec is written into the
// manifest's dependencies (replacing any range already there), then the
// full locked graph is installed.
func (e *Engine) InstallSpecific(ctx context.Context, dir string, specs []Spec) (*InstallSummary, error) {
	return e.Add(ctx, dir, specs, false)
}

// InstallAll generates the lockfile if absent or stale, then installs
// every LockEntry, per spec §4.5.
func (e *Engine) InstallAll(ctx context.Context, dir string) (*InstallSummary, error) {
	m, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}
	res := resolver.New(e.Registry)
	return e.installLocked(ctx, dir, m, res)
}

// installLocked is the shared tail of Add/InstallSpecific/InstallAll:
// ensure a valid lockfile, then run the install pipeline over it.
func (e *Engine) installLocked(ctx context.Context, dir string, m *core.Manifest, res *resolver.Resolver) (*InstallSummary, error) {
	current, ok, err := lockfile.Read(dir)
	if err != nil {
		return nil, err
	}

	var lf *core.Lockfile
	var conflicts []core.Conflict
	if !ok || !lockfile.Validate(current, m) {
		lf, conflicts, err = lockfile.Generate(ctx, res, m)
	} else {
		lf, conflicts, err = lockfile.Update(ctx, res, m, current)
	}
	if err != nil {
		return nil, err
	}
	if err := lockfile.Write(dir, lf); err != nil {
		return nil, err
	}
	e.logConflicts(conflicts)

	graph := core.ResolutionGraph{Nodes: make(map[core.PackageId]core.ResolvedNode, len(lf.Packages))}
	for id, entry := range lf.Packages {
		graph.Nodes[id] = core.ResolvedNode{Id: id, Version: entry.Version, URL: entry.Resolved, Deps: entry.Dependencies}
	}

	packagesPath := filepath.Join(dir, m.Jelly.PackagesPath)
	inst := installer.New(e.Registry)
	results, req, err := inst.InstallGraph(ctx, graph, packagesPath, m.Jelly)
	if err != nil {
		return nil, err
	}

	integrityChanged := false
	for _, r := range results {
		if r.Err != nil {
			e.Logger.Warn("skipped package", "id", r.Id, "state", r.State, "err", r.Err)
			continue
		}
		e.Logger.Info("installed package", "id", r.Id)
		if r.Integrity == "" {
			continue
		}
		if entry, ok := lf.Packages[r.Id]; ok && entry.Integrity != r.Integrity {
			entry.Integrity = r.Integrity
			lf.Packages[r.Id] = entry
			integrityChanged = true
		}
	}

	// The registry's metadata response carries no content hash (spec §6),
	// so LockEntry.Integrity can only be known after the archive itself has
	// been downloaded; re-persist the lockfile once install has filled it
	// in rather than leaving the earlier, hash-less write as the final one.
	if integrityChanged {
		if err := lockfile.Write(dir, lf); err != nil {
			return nil, err
		}
	}

	if err := installer.PruneOrphans(packagesPath, m, lf); err != nil {
		return nil, err
	}

	return &InstallSummary{Results: results, Conflicts: conflicts, ProjectFileRequest: req}, nil
}

// Update re-pins ids (or every dependency when ids is empty) to the
// registry's current latest version and re-installs, per spec §4.5.
func (e *Engine) Update(ctx context.Context, dir string, ids []core.PackageId) (*InstallSummary, error) {
	m, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}

	targets := ids
	if len(targets) == 0 {
		for id := range m.AllDependencies() {
			targets = append(targets, id)
		}
	}

	for _, id := range targets {
		latest, err := e.Registry.LatestVersion(ctx, id)
		if err != nil {
			e.Logger.Warn("could not fetch latest version", "id", id, "err", err)
			continue
		}
		rng := core.MustParseRange(latest.String())
		switch {
		case hasId(m.Dependencies, id):
			m.Dependencies[id] = rng
		case hasId(m.DevDependencies, id):
			m.DevDependencies[id] = rng
		case hasId(m.ServerDependencies, id):
			m.ServerDependencies[id] = rng
		}
	}
	if err := manifest.Save(dir, m); err != nil {
		return nil, err
	}

	res := resolver.New(e.Registry)
	return e.installLocked(ctx, dir, m, res)
}

func hasId(m map[core.PackageId]core.Range, id core.PackageId) bool {
	_, ok := m[id]
	return ok
}

// OutdatedEntry reports one dependency's pinned vs. registry-latest delta.
type OutdatedEntry struct {
	Id      core.PackageId
	Current core.Version
	Latest  core.Version
}

// Outdated compares every manifest entry's resolved version against the
// registry's latest, per spec §4.5. Resolved versions are read from the
// lockfile when present; absent a lockfile, the entry's range is resolved
// fresh.
func (e *Engine) Outdated(ctx context.Context, dir string) ([]OutdatedEntry, error) {
	m, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}
	lf, ok, err := lockfile.Read(dir)
	if err != nil {
		return nil, err
	}

	res := resolver.New(e.Registry)
	var out []OutdatedEntry
	for id, rng := range m.AllDependencies() {
		var current core.Version
		if ok {
			if entry, found := lf.Packages[id]; found {
				current = entry.Version
			}
		}
		if current.IsZero() {
			resolution, err := res.ResolveOne(ctx, id, rng)
			if err != nil {
				e.Logger.Warn("could not resolve current version", "id", id, "err", err)
				continue
			}
			current = resolution.Version
		}

		latest, err := e.Registry.LatestVersion(ctx, id)
		if err != nil {
			e.Logger.Warn("could not fetch latest version", "id", id, "err", err)
			continue
		}
		if latest.GreaterThan(current) {
			out = append(out, OutdatedEntry{Id: id, Current: current, Latest: latest})
		}
	}
	return out, nil
}

// Analyze runs resolve_tree purely and returns the graph and conflicts,
// touching no files, per spec §4.5.
func (e *Engine) Analyze(ctx context.Context, dir string) (core.ResolutionGraph, []core.Conflict, error) {
	m, err := manifest.Load(dir)
	if err != nil {
		return core.ResolutionGraph{}, nil, err
	}
	res := resolver.New(e.Registry)
	graph, conflicts, err := res.ResolveTree(ctx, m.TopLevelAndDev())
	if err != nil {
		return core.ResolutionGraph{}, nil, err
	}
	e.logConflicts(conflicts)
	return graph, conflicts, nil
}

// AnalyzeOptions controls Analyze's strictness, per spec §9 Open Question 1.
type AnalyzeOptions struct {
	StrictConflicts bool
}

// AnalyzeStrict is Analyze with AnalyzeOptions.StrictConflicts honored: a
// non-empty conflict list is escalated to a *core.ConflictError instead of
// being returned in-band, per spec §7's "fatal for analyze --strict" note.
func (e *Engine) AnalyzeStrict(ctx context.Context, dir string, opts AnalyzeOptions) (core.ResolutionGraph, error) {
	graph, conflicts, err := e.Analyze(ctx, dir)
	if err != nil {
		return core.ResolutionGraph{}, err
	}
	if opts.StrictConflicts && len(conflicts) > 0 {
		return core.ResolutionGraph{}, &core.ConflictError{Conflicts: conflicts}
	}
	return graph, nil
}

// VerifyLock reports whether the lockfile covers the manifest's
// dependency set, per spec §4.5.
func (e *Engine) VerifyLock(dir string) (bool, error) {
	m, err := manifest.Load(dir)
	if err != nil {
		return false, err
	}
	lf, ok, err := lockfile.Read(dir)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return lockfile.Validate(lf, m), nil
}

// RegenerateLock unconditionally generates and persists a fresh lockfile.
func (e *Engine) RegenerateLock(ctx context.Context, dir string) (*core.Lockfile, []core.Conflict, error) {
	m, err := manifest.Load(dir)
	if err != nil {
		return nil, nil, err
	}
	res := resolver.New(e.Registry)
	lf, conflicts, err := lockfile.Generate(ctx, res, m)
	if err != nil {
		return nil, nil, err
	}
	if err := lockfile.Write(dir, lf); err != nil {
		return nil, nil, err
	}
	e.logConflicts(conflicts)
	return lf, conflicts, nil
}

// Clean runs the orphan pruner only, per spec §4.5.
func (e *Engine) Clean(dir string) error {
	m, err := manifest.Load(dir)
	if err != nil {
		return err
	}
	lf, _, err := lockfile.Read(dir)
	if err != nil {
		return err
	}
	return installer.PruneOrphans(filepath.Join(dir, m.Jelly.PackagesPath), m, lf)
}

// CacheDir returns the per-user on-disk cache directory, ~/.jelly/cache.
func CacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".jelly", "cache"), nil
}

// CacheClean wipes the per-user cache directory en bloc, per spec §4.5.
// Its contents are best-effort and the core never relies on them.
func (e *Engine) CacheClean() error {
	dir, err := CacheDir()
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return &core.IoError{Path: dir, Cause: err}
	}
	e.Logger.Info("cleared cache", "path", dir)
	return nil
}

func (e *Engine) logConflicts(conflicts []core.Conflict) {
	for _, c := range conflicts {
		if c.Unsatisfiable() {
			e.Logger.Warn("unsatisfiable dependency range", "id", c.Id, "requirers", len(c.RequiredBy))
		} else {
			e.Logger.Warn("dependency range conflict resolved", "id", c.Id, "resolved", c.Resolved)
		}
	}
}
