package manifest

import (
	"errors"
	"os"
	"testing"

	"github.com/jellypm/jelly/internal/core"
)

func TestExists(t *testing.T) {
	dir := t.TempDir()
	if Exists(dir) {
		t.Error("Exists should be false before any write")
	}
	if err := Save(dir, core.NewManifest("proj")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !Exists(dir) {
		t.Error("Exists should be true after Save")
	}
}

func TestLoadMissingReturnsManifestMissingError(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	var missing *core.ManifestMissingError
	if !errors.As(err, &missing) {
		t.Errorf("Load(missing): err = %v, want *core.ManifestMissingError", err)
	}
}

func TestLoadMalformedReturnsManifestMalformedError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(Path(dir), []byte("not json{{{"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, err := Load(dir)
	var malformed *core.ManifestMalformedError
	if !errors.As(err, &malformed) {
		t.Errorf("Load(malformed): err = %v, want *core.ManifestMalformedError", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	id := core.PackageId{Scope: "sleitnick", Name: "net"}
	m := core.NewManifest("my-proj")
	m.Dependencies[id] = core.MustParseRange("^0.2.0")

	if err := Save(dir, m); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Name != "my-proj" {
		t.Errorf("Name = %q, want my-proj", got.Name)
	}
	if rng, ok := got.Dependencies[id]; !ok || rng.String() != "^0.2.0" {
		t.Errorf("Dependencies[%s] = %v, ok=%v", id, rng, ok)
	}
}

func TestLoadCoercesMissingDependencyMaps(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(Path(dir), []byte(`{"name":"proj","version":"0.1.0"}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Dependencies == nil || m.DevDependencies == nil {
		t.Error("Load should coerce absent dependency maps to empty maps, not nil")
	}
}

func TestSaveRejectsInvalidManifest(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, &core.Manifest{}); err == nil {
		t.Error("Save should reject a manifest with an empty name")
	}
}

func TestSaveIsAtomicNoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, core.NewManifest("proj")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != FileName {
			t.Errorf("unexpected leftover file %s in %s", e.Name(), dir)
		}
	}
}
