// Package installer implements the Package Installer component from spec
// §4.4: fetch, extract, normalize, clean, index, and shim a resolved
// dependency graph onto disk in the Rojo-compatible _Index layout.
package installer

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jellypm/jelly/internal/core"
)

// DefaultConcurrency bounds how many per-package pipelines run at once.
const DefaultConcurrency = 8

// Downloader is the subset of the Registry Client the Installer needs.
type Downloader interface {
	Download(ctx context.Context, id core.PackageId, v core.Version) (io.ReadCloser, int64, error)
}

// State is a per-package pipeline stage, per spec §4.4's state machine.
type State string

const (
	StatePending     State = "PENDING"
	StateDownloading State = "DOWNLOADING"
	StateExtracting  State = "EXTRACTING"
	StateNormalizing State = "NORMALIZING"
	StateCleaning    State = "CLEANING"
	StateIndexed     State = "INDEXED"
	StateSkipped     State = "SKIPPED"
)

// PackageResult reports the outcome of one package's install pipeline.
type PackageResult struct {
	Id        core.PackageId
	State     State
	Integrity string
	Err       error
}

// ProjectFileRequest is the abstract "expose packagesPath under
// ReplicatedStorage.Packages" request forwarded to the excluded Rojo
// project-file writer collaborator, per spec §4.4 step 7.
type ProjectFileRequest struct {
	PackagesPath string
	MountPoint   string
}

// cleanupEntries is the well-known, non-consumable entry list removed
// from a package root when jelly.cleanup is true, per spec §4.4 step 4.
var cleanupEntries = []string{
	"README.md", "README.txt", "LICENSE", "LICENSE.md", "LICENSE.txt",
	".gitignore", ".gitattributes", ".github", ".git",
	"package.json", "package-lock.json", "yarn.lock",
	"wally.toml", "selene.toml", "stylua.toml",
	"docs", "documentation", "examples", "test", "tests",
	".travis.yml", ".vscode", "rotriever.toml",
}

var versionSanitizer = regexp.MustCompile(`[^A-Za-z0-9]`)

// Installer runs the fetch/extract/normalize/cleanup pipeline for a
// resolved dependency graph and maintains the _Index/shim layout.
type Installer struct {
	Downloader  Downloader
	Concurrency int64
}

// New constructs an Installer backed by the given Downloader.
func New(d Downloader) *Installer {
	return &Installer{Downloader: d, Concurrency: DefaultConcurrency}
}

// InstallGraph runs the per-package pipeline for every node of graph,
// bounded by i.Concurrency goroutines, then runs the shim-emission pass
// once every pipeline has settled (spec §4.4, §5). It returns one
// PackageResult per node and the project-file integration request.
func (i *Installer) InstallGraph(ctx context.Context, graph core.ResolutionGraph, packagesPath string, jelly core.JellyConfig) ([]PackageResult, ProjectFileRequest, error) {
	if i.Concurrency <= 0 {
		i.Concurrency = DefaultConcurrency
	}

	indexDir := filepath.Join(packagesPath, "_Index")
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, ProjectFileRequest{}, &core.IoError{Path: indexDir, Cause: err}
	}

	nodes := make([]core.ResolvedNode, 0, len(graph.Nodes))
	for _, n := range graph.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(a, b int) bool { return nodes[a].Id.String() < nodes[b].Id.String() })

	results := make([]PackageResult, len(nodes))
	sem := semaphore.NewWeighted(i.Concurrency)
	g, gctx := errgroup.WithContext(ctx)

	for idx, node := range nodes {
		idx, node := idx, node
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			migrateLegacyLayout(packagesPath, node.Id)

			state, integrity, err := i.installOne(gctx, indexDir, node, jelly)
			results[idx] = PackageResult{Id: node.Id, State: state, Integrity: integrity, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, ProjectFileRequest{}, fmt.Errorf("install pipeline: %w", err)
	}

	installed := map[core.PackageId]core.Version{}
	for _, r := range results {
		if r.State == StateIndexed {
			for _, n := range nodes {
				if n.Id == r.Id {
					installed[r.Id] = n.Version
				}
			}
		}
	}

	if err := EmitShims(packagesPath, installed); err != nil {
		return results, ProjectFileRequest{}, err
	}

	req := ProjectFileRequest{PackagesPath: packagesPath, MountPoint: "ReplicatedStorage.Packages"}
	return results, req, nil
}

// installOne runs PENDING→DOWNLOADING→EXTRACTING→NORMALIZING→CLEANING→INDEXED
// for a single node. A failure to download or stage the archive is reported
// as StateSkipped (non-fatal, per spec §4.4); a failure in any later step
// aborts that package's install and is reported with the State it failed
// in (an extract, normalize or cleanup failure also removes the partial
// _Index slot), while leaving sibling installs unaffected. The registry's
// package-metadata response carries no content hash (spec §6), so the
// returned integrity digest is computed locally from the downloaded
// archive rather than trusted from the wire, the way a lockfile-bearing
// tool with no registry-side hash has to.
func (i *Installer) installOne(ctx context.Context, indexDir string, node core.ResolvedNode, jelly core.JellyConfig) (State, string, error) {
	pkgDir := filepath.Join(indexDir, indexName(node.Id))

	body, _, err := i.Downloader.Download(ctx, node.Id, node.Version)
	if err != nil {
		return StateSkipped, "", fmt.Errorf("downloading %s: %w", node.Id, err)
	}
	defer body.Close()

	archivePath := filepath.Join(indexDir, fmt.Sprintf("%s_%s-%s.zip", node.Id.Scope, node.Id.Name, uuid.NewString()))
	integrity, err := streamToFile(archivePath, body)
	if err != nil {
		return StateSkipped, "", fmt.Errorf("staging download for %s: %w", node.Id, err)
	}
	defer os.Remove(archivePath)

	if err := os.RemoveAll(pkgDir); err != nil {
		return StateDownloading, "", &core.IoError{Path: pkgDir, Cause: err}
	}
	if err := os.MkdirAll(pkgDir, 0o755); err != nil {
		return StateDownloading, "", &core.IoError{Path: pkgDir, Cause: err}
	}

	if err := extractZip(archivePath, pkgDir); err != nil {
		os.RemoveAll(pkgDir)
		return StateExtracting, "", err
	}

	if jelly.Optimize {
		if err := normalize(pkgDir); err != nil {
			os.RemoveAll(pkgDir)
			return StateNormalizing, "", err
		}
	}

	if jelly.Cleanup {
		if err := clean(pkgDir); err != nil {
			os.RemoveAll(pkgDir)
			return StateCleaning, "", err
		}
	}

	return StateIndexed, integrity, nil
}

func indexName(id core.PackageId) string {
	return id.Scope + "_" + id.Name
}

// streamToFile writes r to path, returning a "sha256:<hex>" digest of the
// bytes written for the caller to carry into the lockfile's
// LockEntry.Integrity.
func streamToFile(path string, r io.Reader) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", &core.IoError{Path: path, Cause: err}
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(f, io.TeeReader(r, h)); err != nil {
		return "", &core.IoError{Path: path, Cause: err}
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// extractZip extracts archivePath into destDir, directories first, and
// refuses any entry whose normalized path would escape destDir (spec
// §4.4 step 2's traversal defense).
func extractZip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return &core.ArchiveError{Path: archivePath, Cause: err}
	}
	defer r.Close()

	files := make([]*zip.File, 0, len(r.File))
	files = append(files, r.File...)
	sort.Slice(files, func(i, j int) bool {
		return strings.Count(files[i].Name, "/") < strings.Count(files[j].Name, "/")
	})

	for _, f := range files {
		target, err := safeJoin(destDir, f.Name)
		if err != nil {
			return &core.ArchiveError{Path: f.Name, Cause: err}
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return &core.ArchiveError{Path: target, Cause: err}
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return &core.ArchiveError{Path: target, Cause: err}
		}

		if err := extractFile(f, target); err != nil {
			return &core.ArchiveError{Path: target, Cause: err}
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o644)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// safeJoin joins destDir with a zip entry name, rejecting any result
// that escapes destDir after normalization.
func safeJoin(destDir, name string) (string, error) {
	root := filepath.Clean(destDir)
	target := filepath.Join(root, name)
	if !strings.HasPrefix(target, root+string(os.PathSeparator)) && target != root {
		return "", fmt.Errorf("zip entry %q escapes target directory", name)
	}
	return target, nil
}

// migrateLegacyLayout moves a pre-_Index flat-layout package directory
// ({packagesPath}/{name}/) into the new _Index slot before install, per
// spec §9's "tolerant of older flat layout" redesign note.
func migrateLegacyLayout(packagesPath string, id core.PackageId) {
	legacy := filepath.Join(packagesPath, id.Name)
	info, err := os.Stat(legacy)
	if err != nil || !info.IsDir() {
		return
	}
	target := filepath.Join(packagesPath, "_Index", indexName(id))
	if _, err := os.Stat(target); err == nil {
		return
	}
	os.MkdirAll(filepath.Dir(target), 0o755)
	os.Rename(legacy, target)
}

// EmitShims writes {packagesPath}/{name}.lua for each installed package,
// per spec §4.4 step 6. When multiple scopes share a leaf name, each gets
// a versioned shim {name}_{sanitized-version}.lua and the unversioned
// {name}.lua points at the highest SemVer among them.
func EmitShims(packagesPath string, installed map[core.PackageId]core.Version) error {
	byName := map[string][]core.PackageId{}
	for id := range installed {
		byName[id.Name] = append(byName[id.Name], id)
	}

	for name, ids := range byName {
		if len(ids) == 1 {
			if err := writeShim(packagesPath, name, ids[0]); err != nil {
				return err
			}
			continue
		}

		sort.Slice(ids, func(i, j int) bool { return installed[ids[i]].GreaterThan(installed[ids[j]]) })
		for _, id := range ids {
			sanitized := versionSanitizer.ReplaceAllString(installed[id].String(), "_")
			if err := writeShim(packagesPath, fmt.Sprintf("%s_%s", name, sanitized), id); err != nil {
				return err
			}
		}
		if err := writeShim(packagesPath, name, ids[0]); err != nil {
			return err
		}
	}
	return nil
}

func writeShim(packagesPath, shimName string, id core.PackageId) error {
	path := filepath.Join(packagesPath, shimName+".lua")
	content := fmt.Sprintf("-- Auto-generated by jelly. Do not edit manually.\nreturn require(script.Parent._Index[%q])\n", indexName(id))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return &core.IoError{Path: path, Cause: err}
	}
	return nil
}

// PruneOrphans removes any _Index directory or root shim not referenced
// by m's dependency union, then regenerates the shim layer from lf's
// pinned versions, per spec §4.4's orphan pruner (also exposed as
// Engine.Clean). lf may be nil, in which case orphan shims are still
// removed but the shim layer is not regenerated.
func PruneOrphans(packagesPath string, m *core.Manifest, lf *core.Lockfile) error {
	live := m.AllDependencies()
	liveIndexNames := map[string]bool{}
	liveLeafNames := map[string]bool{}
	for id := range live {
		liveIndexNames[indexName(id)] = true
		liveLeafNames[id.Name] = true
	}

	indexDir := filepath.Join(packagesPath, "_Index")
	entries, err := os.ReadDir(indexDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &core.IoError{Path: indexDir, Cause: err}
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if liveIndexNames[e.Name()] {
			continue
		}
		// A directory name carrying an explicit "@version" suffix (the
		// upstream Wally CLI's side-by-side layout) is preserved as long as
		// its package is still a live dependency, even though this
		// installer never writes that suffix itself: deleting it here would
		// destroy a real package install the user can't get back, where
		// leaving it in place costs nothing but disk space until the next
		// install normalizes it away.
		if at := strings.LastIndex(e.Name(), "@"); at > 0 && liveIndexNames[e.Name()[:at]] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(indexDir, e.Name())); err != nil {
			return &core.IoError{Path: e.Name(), Cause: err}
		}
	}

	rootEntries, err := os.ReadDir(packagesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &core.IoError{Path: packagesPath, Cause: err}
	}
	for _, e := range rootEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		leaf := strings.TrimSuffix(e.Name(), ".lua")
		if idx := strings.LastIndex(leaf, "_"); idx > 0 {
			if candidate := leaf[:idx]; liveLeafNames[candidate] {
				continue
			}
		}
		if liveLeafNames[leaf] {
			continue
		}
		if err := os.Remove(filepath.Join(packagesPath, e.Name())); err != nil {
			return &core.IoError{Path: e.Name(), Cause: err}
		}
	}

	if lf == nil {
		return nil
	}

	installed := map[core.PackageId]core.Version{}
	for id, entry := range lf.Packages {
		if liveIndexNames[indexName(id)] {
			installed[id] = entry.Version
		}
	}
	return EmitShims(packagesPath, installed)
}
