// Package project locates the enclosing project for a source file and
// tracks manifest freshness. A project root is the nearest ancestor
// directory containing a recognized build manifest: a *.cabal file, a
// cabal.project file, or a stack.yaml.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoProject is returned when no ancestor of the given path carries a
// recognized manifest.
var ErrNoProject = errors.New("no project manifest found")

// Project identifies one located project. Derived state (diagnostics,
// symbol index) is scoped to a Project and must be cleared when the
// manifest changes.
type Project struct {
	Root     string // absolute directory containing the manifest
	Manifest string // absolute path of the manifest file

	manifestMod time.Time
}

// Locate walks from path (a file or directory) toward the filesystem root
// looking for a manifest. The first directory that carries one wins.
func Locate(path string) (*Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("locate project: %w", err)
	}
	dir := abs
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		dir = filepath.Dir(abs)
	} else if err != nil {
		// The file may not exist yet (unsaved buffer); start from its
		// parent directory anyway.
		dir = filepath.Dir(abs)
	}

	for {
		manifest, ok := manifestIn(dir)
		if ok {
			info, err := os.Stat(manifest)
			if err != nil {
				return nil, fmt.Errorf("stat manifest: %w", err)
			}
			return &Project{
				Root:        dir,
				Manifest:    manifest,
				manifestMod: info.ModTime(),
			}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, fmt.Errorf("%w under %s", ErrNoProject, abs)
		}
		dir = parent
	}
}

// manifestIn reports the manifest file in dir, if any. A *.cabal file takes
// precedence over cabal.project and stack.yaml so the project is named
// after its package description.
func manifestIn(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".cabal") {
			return filepath.Join(dir, e.Name()), true
		}
	}
	for _, name := range []string{"cabal.project", "stack.yaml"} {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// Contains reports whether path lies under the project root. Store writes
// for paths outside the root are rejected by the engine on the strength of
// this check.
func (p *Project) Contains(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(p.Root, abs)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}

// ManifestChanged reports whether the manifest was modified (or removed)
// since the project was located, and refreshes the recorded time so the
// next call answers relative to now.
func (p *Project) ManifestChanged() bool {
	info, err := os.Stat(p.Manifest)
	if err != nil {
		return true
	}
	if info.ModTime().Equal(p.manifestMod) {
		return false
	}
	p.manifestMod = info.ModTime()
	return true
}

// SourceFiles walks the project tree and returns every Haskell source file,
// skipping hidden directories and build output (dist, dist-newstyle,
// .stack-work).
func (p *Project) SourceFiles() ([]string, error) {
	skip := map[string]bool{
		"dist":          true,
		"dist-newstyle": true,
		".stack-work":   true,
	}
	var files []string
	err := filepath.WalkDir(p.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != p.Root && (strings.HasPrefix(name, ".") || skip[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".hs") || strings.HasSuffix(path, ".lhs") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", p.Root, err)
	}
	return files, nil
}

// IsSource reports whether path looks like a Haskell source file.
func IsSource(path string) bool {
	return strings.HasSuffix(path, ".hs") || strings.HasSuffix(path, ".lhs")
}
