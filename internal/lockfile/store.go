// Package lockfile implements the Lockfile Store component from spec §4.3:
// read/write/exists/delete/validate/update/generate over a project's
// jelly-lock.json.
package lockfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jellypm/jelly/internal/core"
	"github.com/jellypm/jelly/internal/resolver"
)

// FileName is the lockfile's fixed filename within a project root.
const FileName = "jelly-lock.json"

// Path returns the lockfile path for a project rooted at dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Exists reports whether a lockfile is present at dir.
func Exists(dir string) bool {
	_, err := os.Stat(Path(dir))
	return err == nil
}

// Delete removes the lockfile at dir, if present.
func Delete(dir string) error {
	err := os.Remove(Path(dir))
	if err != nil && !os.IsNotExist(err) {
		return &core.IoError{Path: Path(dir), Cause: err}
	}
	return nil
}

// Read parses the lockfile at dir. Per spec §4.3: if lockfileVersion != 1
// or the file is malformed, it returns (nil, false, nil) — "absent", not an
// error — so the caller regenerates. A genuine I/O error (permissions,
// etc., as opposed to "file doesn't parse") is returned as an error. Read
// never partially consumes the file: it is parsed in full or not at all.
func Read(dir string) (lf *core.Lockfile, ok bool, err error) {
	path := Path(dir)
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return nil, false, nil
		}
		return nil, false, &core.IoError{Path: path, Cause: readErr}
	}

	var parsed core.Lockfile
	if jsonErr := json.Unmarshal(data, &parsed); jsonErr != nil {
		return nil, false, nil
	}
	if parsed.LockfileVersion != core.CurrentLockfileVersion {
		return nil, false, nil
	}
	if parsed.Packages == nil {
		parsed.Packages = map[core.PackageId]core.LockEntry{}
	}
	if parsed.Dependencies == nil {
		parsed.Dependencies = map[core.PackageId]core.Range{}
	}
	if parsed.DevDependencies == nil {
		parsed.DevDependencies = map[core.PackageId]core.Range{}
	}
	return &parsed, true, nil
}

// Write persists lf to dir atomically (temp file + rename), matching the
// manifest writer's 2-space-indent + trailing-newline convention.
func Write(dir string, lf *core.Lockfile) error {
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling lockfile: %w", err)
	}
	data = append(data, '\n')
	return atomicWrite(Path(dir), data)
}

// atomicWrite writes data to a temp file in the same directory as path,
// then renames it into place, mirroring the manifest package's writer.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &core.IoError{Path: dir, Cause: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return &core.IoError{Path: path, Cause: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &core.IoError{Path: tmpPath, Cause: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &core.IoError{Path: tmpPath, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &core.IoError{Path: tmpPath, Cause: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &core.IoError{Path: path, Cause: err}
	}
	return nil
}

// Validate reports whether every key of
// manifest.Dependencies ∪ manifest.DevDependencies appears in lf.Packages.
// Range compatibility is not checked at this level, per spec §4.3.
func Validate(lf *core.Lockfile, m *core.Manifest) bool {
	if lf == nil {
		return false
	}
	return lf.CoversManifest(m)
}

// Generate runs Resolver.ResolveTree across direct + dev deps of m and
// builds a fresh Lockfile, per spec §4.3.
func Generate(ctx context.Context, res *resolver.Resolver, m *core.Manifest) (*core.Lockfile, []core.Conflict, error) {
	graph, conflicts, err := res.ResolveTree(ctx, m.TopLevelAndDev())
	if err != nil {
		return nil, nil, err
	}

	lf := &core.Lockfile{
		LockfileVersion: core.CurrentLockfileVersion,
		Name:            m.Name,
		Version:         m.Version,
		Packages:        make(map[core.PackageId]core.LockEntry, len(graph.Nodes)),
		Dependencies:    copyRangeMap(m.Dependencies),
		DevDependencies: copyRangeMap(m.DevDependencies),
	}

	for id, node := range graph.Nodes {
		lf.Packages[id] = core.LockEntry{
			Version:      node.Version,
			Resolved:     core.ContentsURL(id, node.Version),
			Dependencies: copyRangeMap(node.Deps),
		}
	}

	return lf, conflicts, nil
}

// Update regenerates the lockfile only if the manifest's dependency set has
// changed relative to the current lockfile's top-level view; otherwise it
// returns the existing lockfile unchanged, per spec §4.3.
func Update(ctx context.Context, res *resolver.Resolver, m *core.Manifest, current *core.Lockfile) (*core.Lockfile, []core.Conflict, error) {
	if current != nil && sameDependencySet(current, m) {
		return current, nil, nil
	}
	return Generate(ctx, res, m)
}

func sameDependencySet(lf *core.Lockfile, m *core.Manifest) bool {
	if len(lf.Dependencies) != len(m.Dependencies) || len(lf.DevDependencies) != len(m.DevDependencies) {
		return false
	}
	for id, r := range m.Dependencies {
		got, ok := lf.Dependencies[id]
		if !ok || got.String() != r.String() {
			return false
		}
	}
	for id, r := range m.DevDependencies {
		got, ok := lf.DevDependencies[id]
		if !ok || got.String() != r.String() {
			return false
		}
	}
	return true
}

func copyRangeMap(m map[core.PackageId]core.Range) map[core.PackageId]core.Range {
	out := make(map[core.PackageId]core.Range, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
