package installer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/jellypm/jelly/internal/core"
)

// projectFile is the subset of default.project.json this package reads,
// per spec §4.4 step 3.
type projectFile struct {
	Tree struct {
		Path string `json:"$path"`
	} `json:"tree"`
}

// normalize implements spec §4.4 step 3: if a default.project.json at
// root names a tree.$path, that path becomes the package root (its
// contents replace the directory, everything else is discarded); else if
// exactly one .lua/.luau file sits at the root and no init.lua/init.luau
// already exists, it is renamed to init.lua; else the tree is untouched.
func normalize(dir string) error {
	projPath := filepath.Join(dir, "default.project.json")
	if data, err := os.ReadFile(projPath); err == nil {
		var pf projectFile
		if json.Unmarshal(data, &pf) == nil && pf.Tree.Path != "" {
			return promoteTreePath(dir, pf.Tree.Path)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return &core.IoError{Path: dir, Cause: err}
	}

	hasInit := false
	var luaFiles []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if name == "init.lua" || name == "init.luau" {
			hasInit = true
		}
		if strings.HasSuffix(name, ".lua") || strings.HasSuffix(name, ".luau") {
			luaFiles = append(luaFiles, name)
		}
	}

	if !hasInit && len(luaFiles) == 1 {
		src := filepath.Join(dir, luaFiles[0])
		dst := filepath.Join(dir, "init.lua")
		if err := os.Rename(src, dst); err != nil {
			return &core.IoError{Path: dst, Cause: err}
		}
	}
	return nil
}

// promoteTreePath moves the contents of dir/treePath up to replace dir,
// deleting everything else originally at dir's root.
func promoteTreePath(dir, treePath string) error {
	source, err := safeJoin(dir, treePath)
	if err != nil {
		return &core.IoError{Path: treePath, Cause: err}
	}
	if info, err := os.Stat(source); err != nil || !info.IsDir() {
		return nil
	}

	staging := dir + ".promoted"
	if err := os.RemoveAll(staging); err != nil {
		return &core.IoError{Path: staging, Cause: err}
	}
	if err := os.Rename(source, staging); err != nil {
		return &core.IoError{Path: staging, Cause: err}
	}
	if err := os.RemoveAll(dir); err != nil {
		return &core.IoError{Path: dir, Cause: err}
	}
	if err := os.Rename(staging, dir); err != nil {
		return &core.IoError{Path: dir, Cause: err}
	}
	return nil
}

// clean removes the well-known non-consumable entries from the package
// root, per spec §4.4 step 4. Deletion never reaches outside dir.
func clean(dir string) error {
	for _, name := range cleanupEntries {
		target := filepath.Join(dir, name)
		if !strings.HasPrefix(filepath.Clean(target), filepath.Clean(dir)+string(os.PathSeparator)) {
			continue
		}
		if err := os.RemoveAll(target); err != nil {
			return &core.IoError{Path: target, Cause: err}
		}
	}
	return nil
}
