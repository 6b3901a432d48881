package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/jellypm/jelly/internal/core"
	"github.com/jellypm/jelly/internal/lockfile"
	"github.com/jellypm/jelly/internal/manifest"
)

// fakeRegistry is an in-memory stand-in for the Registry Client, serving
// fixed metadata and zip archives keyed by PackageId.
type fakeRegistry struct {
	metadata map[core.PackageId]*core.RegistryMetadata
	archives map[core.PackageId][]byte
}

func (f *fakeRegistry) Metadata(ctx context.Context, id core.PackageId) (*core.RegistryMetadata, error) {
	m, ok := f.metadata[id]
	if !ok {
		return nil, &core.PackageNotFoundError{Id: id}
	}
	return m, nil
}

func (f *fakeRegistry) LatestVersion(ctx context.Context, id core.PackageId) (core.Version, error) {
	m, err := f.Metadata(ctx, id)
	if err != nil {
		return core.Version{}, err
	}
	latest, ok := m.Latest()
	if !ok {
		return core.Version{}, &core.VersionNotFoundError{Id: id}
	}
	return latest.Version, nil
}

func (f *fakeRegistry) Download(ctx context.Context, id core.PackageId, v core.Version) (io.ReadCloser, int64, error) {
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
		f.Write([]byte(content))
	}
	w.Close()
	return buf.Bytes()
}

func newFixtureRegistry(t *testing.T) (*fakeRegistry, core.PackageId) {
	t.Helper()
	id, err := core.ParsePackageId("sleitnick/net")
	if err != nil {
		t.Fatalf("ParsePackageId: %v", err)
	}
	v, err := core.ParseVersion("0.2.0")
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}
	meta := &core.RegistryMetadata{Id: id, Versions: []core.VersionEntry{
		{Version: v, Dependencies: map[core.PackageId]core.Range{}},
	}}
	archive := buildZip(t, map[string]string{"init.lua": "return {}"})
	return &fakeRegistry{
		metadata: map[core.PackageId]*core.RegistryMetadata{id: meta},
		archives: map[core.PackageId][]byte{id: archive},
	}, id
}

func TestEngineInit(t *testing.T) {
	dir := t.TempDir()
	reg, _ := newFixtureRegistry(t)
	e := New(reg, nil)

	m, err := e.Init(dir, InitOptions{Name: "my-proj"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if m.Name != "my-proj" {
		t.Errorf("Name = %q, want my-proj", m.Name)
	}
	if !manifest.Exists(dir) {
		t.Error("manifest should exist after Init")
	}

	if _, err := e.Init(dir, InitOptions{}); err == nil {
		t.Error("second Init: want error, got nil")
	}
}

func TestEngineAddAndInstallAll(t *testing.T) {
	dir := t.TempDir()
	reg, id := newFixtureRegistry(t)
	e := New(reg, nil)

	if _, err := e.Init(dir, InitOptions{Name: "proj"}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	summary, err := e.Add(context.Background(), dir, []Spec{{Id: id, Range: core.MustParseRange("*")}}, false)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(summary.Results) != 1 || summary.Results[0].State != "INDEXED" {
		t.Fatalf("Results = %+v, want one INDEXED", summary.Results)
	}

	m, err := manifest.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := m.Dependencies[id]; !ok {
		t.Error("manifest should record the added dependency")
	}

	shimPath := filepath.Join(dir, "Packages", "net.lua")
	if _, err := os.Stat(shimPath); err != nil {
		t.Errorf("shim missing: %v", err)
	}

	ok, err := e.VerifyLock(dir)
	if err != nil {
		t.Fatalf("VerifyLock: %v", err)
	}
	if !ok {
		t.Error("VerifyLock: want true after Add")
	}

	lf, present, err := lockfile.Read(dir)
	if err != nil {
		t.Fatalf("lockfile.Read: %v", err)
	}
	if !present {
		t.Fatal("lockfile should be present after Add")
	}
	entry, ok := lf.Packages[id]
	if !ok {
		t.Fatalf("lockfile missing package %s", id)
	}
	if entry.Integrity == "" {
		t.Error("Integrity should be populated from the downloaded archive after install")
	}
}

func TestEngineAnalyze(t *testing.T) {
	dir := t.TempDir()
	reg, id := newFixtureRegistry(t)
	e := New(reg, nil)

	if _, err := e.Init(dir, InitOptions{Name: "proj"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	m, err := manifest.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.Dependencies[id] = core.MustParseRange("*")
	if err := manifest.Save(dir, m); err != nil {
		t.Fatalf("Save: %v", err)
	}

	graph, conflicts, err := e.Analyze(context.Background(), dir)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(conflicts) != 0 {
		t.Errorf("conflicts = %v, want none", conflicts)
	}
	if _, ok := graph.Nodes[id]; !ok {
		t.Errorf("graph.Nodes missing %s", id)
	}

	if _, err := os.Stat(filepath.Join(dir, "Packages")); !os.IsNotExist(err) {
		t.Error("Analyze must not touch the filesystem")
	}
}

func TestEngineCacheClean(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	reg, _ := newFixtureRegistry(t)
	e := New(reg, nil)

	cacheDir, err := CacheDir()
	if err != nil {
		t.Fatalf("CacheDir: %v", err)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	marker := filepath.Join(cacheDir, "marker.txt")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := e.CacheClean(); err != nil {
		t.Fatalf("CacheClean: %v", err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("cache marker should have been removed")
	}
}
