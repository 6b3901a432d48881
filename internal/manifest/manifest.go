// Package manifest reads and writes a project's jelly.json file.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jellypm/jelly/internal/core"
)

// FileName is the manifest's fixed filename within a project root.
const FileName = "jelly.json"

// Path returns the manifest path for a project rooted at dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Exists reports whether a manifest is present at dir.
func Exists(dir string) bool {
	_, err := os.Stat(Path(dir))
	return err == nil
}

// Load reads and parses the manifest at dir. Missing maps are coerced to
// empty (spec §6: "Reader is liberal"). A missing file returns
// *core.ManifestMissingError; a malformed file returns
// *core.ManifestMalformedError.
func Load(dir string) (*core.Manifest, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &core.ManifestMissingError{Path: path}
		}
		return nil, &core.IoError{Path: path, Cause: err}
	}

	var m core.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &core.ManifestMalformedError{Path: path, Cause: err}
	}
	if err := m.Normalize(); err != nil {
		return nil, &core.ManifestMalformedError{Path: path, Cause: err}
	}
	return &m, nil
}

// Save writes the manifest to dir atomically: marshal with 2-space indent
// plus a trailing newline (spec §6), write to a temp file, then rename,
// mirroring the teacher pack's SaveManifest pattern.
func Save(dir string, m *core.Manifest) error {
	if err := m.Normalize(); err != nil {
		return fmt.Errorf("normalizing manifest before save: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	data = append(data, '\n')

	path := Path(dir)
	return atomicWrite(path, data)
}

// atomicWrite writes data to a temp file in the same directory as path,
// then renames it into place. Used by Save; the lockfile package has its
// own copy.
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
