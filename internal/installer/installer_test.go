package installer

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jellypm/jelly/internal/core"
)

// fakeDownloader serves in-memory zip archives keyed by PackageId.
type fakeDownloader struct {
	archives map[core.PackageId][]byte
}

func (f *fakeDownloader) Download(ctx context.Context, id core.PackageId, v core.Version) (io.ReadCloser, int64, error) {
	data, ok := f.archives[id]
	if !ok {
		return nil, 0, &core.PackageNotFoundError{Id: id}
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip Create: %v", err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("zip Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip Close: %v", err)
	}
	return buf.Bytes()
}

func mustPackageId(t *testing.T, s string) core.PackageId {
	t.Helper()
	id, err := core.ParsePackageId(s)
	if err != nil {
		t.Fatalf("ParsePackageId(%q): %v", s, err)
	}
	return id
}

func mustVersion(t *testing.T, s string) core.Version {
	t.Helper()
	v, err := core.ParseVersion(s)
	if err != nil {
		t.Fatalf("ParseVersion(%q): %v", s, err)
	}
	return v
}

func TestInstallGraphBasic(t *testing.T) {
	dir := t.TempDir()
	id := mustPackageId(t, "sleitnick/net")
	v := mustVersion(t, "0.2.0")

	archive := buildZip(t, map[string]string{
		"init.lua":   "return {}",
		"README.md": "docs",
	})

	inst := New(&fakeDownloader{archives: map[core.PackageId][]byte{id: archive}})

	graph := core.ResolutionGraph{Nodes: map[core.PackageId]core.ResolvedNode{
		id: {Id: id, Version: v},
	}}

	results, req, err := inst.InstallGraph(context.Background(), graph, dir, core.DefaultJellyConfig())
	if err != nil {
		t.Fatalf("InstallGraph: %v", err)
	}
	if len(results) != 1 || results[0].State != StateIndexed {
		t.Fatalf("results = %+v, want one StateIndexed", results)
	}
	if !strings.HasPrefix(results[0].Integrity, "sha256:") {
		t.Errorf("Integrity = %q, want a sha256: digest of the downloaded archive", results[0].Integrity)
	}
	if req.PackagesPath != dir {
		t.Errorf("req.PackagesPath = %q, want %q", req.PackagesPath, dir)
	}

	pkgDir := filepath.Join(dir, "_Index", "sleitnick_net")
	if _, err := os.Stat(filepath.Join(pkgDir, "init.lua")); err != nil {
		t.Errorf("init.lua missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(pkgDir, "README.md")); !os.IsNotExist(err) {
		t.Errorf("README.md should have been cleaned, stat err = %v", err)
	}

	shimPath := filepath.Join(dir, "net.lua")
	shim, err := os.ReadFile(shimPath)
	if err != nil {
		t.Fatalf("reading shim: %v", err)
	}
	if !bytes.Contains(shim, []byte("sleitnick_net")) {
		t.Errorf("shim content = %q, want reference to sleitnick_net", shim)
	}
}

func TestNormalizeSingleLuaFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.lua"), []byte("return {}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := normalize(dir); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "init.lua")); err != nil {
		t.Errorf("init.lua missing after normalize: %v", err)
	}
}

func TestNormalizeTreePath(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "init.lua"), []byte("return {}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "default.project.json"), []byte(`{"tree":{"$path":"src"}}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "extra.txt"), []byte("discard me"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := normalize(dir); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "init.lua")); err != nil {
		t.Errorf("init.lua missing after tree.$path promotion: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "extra.txt")); !os.IsNotExist(err) {
		t.Errorf("extra.txt should have been discarded")
	}
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("../escape.lua")
	if err != nil {
		t.Fatalf("zip Create: %v", err)
	}
	f.Write([]byte("return {}"))
	w.Close()

	archivePath := filepath.Join(dir, "evil.zip")
	if err := os.WriteFile(archivePath, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	destDir := filepath.Join(dir, "dest")
	os.MkdirAll(destDir, 0o755)

	if err := extractZip(archivePath, destDir); err == nil {
		t.Error("extractZip: want error for traversal entry, got nil")
	}
}

func TestPruneOrphansRemovesUnreferenced(t *testing.T) {
	dir := t.TempDir()
	liveId := mustPackageId(t, "sleitnick/net")
	orphanId := mustPackageId(t, "sleitnick/old")

	for _, id := range []core.PackageId{liveId, orphanId} {
		p := filepath.Join(dir, "_Index", indexName(id))
		os.MkdirAll(p, 0o755)
	}
	os.WriteFile(filepath.Join(dir, "net.lua"), []byte("shim"), 0o644)
	os.WriteFile(filepath.Join(dir, "old.lua"), []byte("shim"), 0o644)

	m := core.NewManifest("test")
	m.Dependencies[liveId] = core.MustParseRange("*")

	if err := PruneOrphans(dir, m, nil); err != nil {
		t.Fatalf("PruneOrphans: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "_Index", indexName(orphanId))); !os.IsNotExist(err) {
		t.Error("orphan _Index dir should have been removed")
	}
	if _, err := os.Stat(filepath.Join(dir, "_Index", indexName(liveId))); err != nil {
		t.Error("live _Index dir should remain")
	}
	if _, err := os.Stat(filepath.Join(dir, "old.lua")); !os.IsNotExist(err) {
		t.Error("orphan shim should have been removed")
	}
}

func TestPruneOrphansPreservesLiveVersionedIndexEntry(t *testing.T) {
	dir := t.TempDir()
	liveId := mustPackageId(t, "sleitnick/net")

	versioned := indexName(liveId) + "@0.2.0"
	if err := os.MkdirAll(filepath.Join(dir, "_Index", versioned), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	m := core.NewManifest("test")
	m.Dependencies[liveId] = core.MustParseRange("*")

	if err := PruneOrphans(dir, m, nil); err != nil {
		t.Fatalf("PruneOrphans: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "_Index", versioned)); err != nil {
		t.Errorf("a @version-suffixed entry for a still-live package should be preserved: %v", err)
	}
}

func TestPruneOrphansRemovesOrphanedVersionedIndexEntry(t *testing.T) {
	dir := t.TempDir()
	orphanId := mustPackageId(t, "sleitnick/old")

	versioned := indexName(orphanId) + "@0.2.0"
	if err := os.MkdirAll(filepath.Join(dir, "_Index", versioned), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	m := core.NewManifest("test")

	if err := PruneOrphans(dir, m, nil); err != nil {
		t.Fatalf("PruneOrphans: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "_Index", versioned)); !os.IsNotExist(err) {
		t.Error("a @version-suffixed entry for a package no longer in the manifest should be removed")
	}
}

func TestPruneOrphansIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	liveId := mustPackageId(t, "sleitnick/net")
	orphanId := mustPackageId(t, "sleitnick/old")

	for _, id := range []core.PackageId{liveId, orphanId} {
		p := filepath.Join(dir, "_Index", indexName(id))
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "net.lua"), []byte("shim"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "old.lua"), []byte("shim"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m := core.NewManifest("test")
	m.Dependencies[liveId] = core.MustParseRange("*")

	if err := PruneOrphans(dir, m, nil); err != nil {
		t.Fatalf("PruneOrphans (first run): %v", err)
	}

	before, err := snapshotTree(dir)
	if err != nil {
		t.Fatalf("snapshotTree: %v", err)
	}

	if err := PruneOrphans(dir, m, nil); err != nil {
		t.Fatalf("PruneOrphans (second run): %v", err)
	}

	after, err := snapshotTree(dir)
	if err != nil {
		t.Fatalf("snapshotTree: %v", err)
	}

	if len(before) != len(after) {
		t.Fatalf("tree changed across idempotent runs: before=%v after=%v", before, after)
	}
	for path, mod := range before {
		if after[path] != mod {
			t.Errorf("%s: mtime changed across idempotent runs (%v -> %v)", path, mod, after[path])
		}
	}
}

// snapshotTree returns every file path under dir with its modification
// time, used to confirm a second PruneOrphans run touches nothing.
func snapshotTree(dir string) (map[string]int64, error) {
	snapshot := map[string]int64{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		snapshot[rel] = info.ModTime().UnixNano()
		return nil
	})
	return snapshot, err
}
