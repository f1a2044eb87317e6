package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Artifact is a tracked filesystem path.
//
// A missing file is represented by Exists == false and a zero ModTime.
type Artifact struct {
	Path    string
	ModTime time.Time
	Exists  bool
}

// NewerThan reports whether a exists and is strictly newer than b.
func (a Artifact) NewerThan(b Artifact) bool {
	return a.Exists && a.ModTime.After(b.ModTime)
}

// Stater answers timestamp queries about artifacts.
//
// The evaluator only ever sees the filesystem through this interface, so the
// planning and freshness logic can run against an explicit Snapshot.
type Stater interface {
	Stat(path string) (Artifact, error)
}

// OSStater queries the live filesystem relative to BaseDir.
type OSStater struct {
	BaseDir string
}

// Stat returns the artifact for path. A missing path is not an error.
func (s OSStater) Stat(path string) (Artifact, error) {
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(s.BaseDir, filepath.FromSlash(path))
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Artifact{Path: path}, nil
		}
		return Artifact{}, fmt.Errorf("stat %q: %w", path, err)
	}
	return Artifact{Path: path, ModTime: info.ModTime(), Exists: true}, nil
}

// Snapshot is an immutable, explicitly captured view of artifact timestamps.
// Paths absent from the snapshot are reported as missing.
type Snapshot map[string]Artifact

// Stat implements Stater.
func (s Snapshot) Stat(path string) (Artifact, error) {
	if a, ok := s[CleanPath(path)]; ok {
		a.Path = path
		return a, nil
	}
	return Artifact{Path: path}, nil
}

// TakeSnapshot queries st once for each path.
func TakeSnapshot(st Stater, paths []string) (Snapshot, error) {
	out := make(Snapshot, len(paths))
	for _, p := range paths {
		a, err := st.Stat(p)
		if err != nil {
			return nil, err
		}
		out[CleanPath(p)] = a
	}
	return out, nil
}

// CleanPath normalizes a path to its slash-separated clean form, so that
// "./png/64/emoji_u1F600.png" and "png/64/emoji_u1F600.png" name the same
// artifact.
func CleanPath(p string) string {
	if p == "" {
		return ""
	}
	return filepath.ToSlash(filepath.Clean(filepath.FromSlash(p)))
}
