package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// InputResolver expands wildcard dependency patterns against the filesystem.
//
// Expansion is deterministic:
//   - results are strictly sorted and de-duplicated
//   - directories are skipped
//   - relative patterns yield slash-separated paths relative to BaseDir
type InputResolver struct {
	// BaseDir is the working directory relative paths are resolved against.
	BaseDir string
}

// NewInputResolver creates a new InputResolver with the given base directory.
func NewInputResolver(baseDir string) *InputResolver {
	return &InputResolver{BaseDir: baseDir}
}

// Resolve expands all patterns and returns the sorted union of matches.
//
// A pattern without glob characters is kept iff the file exists. A pattern
// that matches nothing contributes nothing; it is not an error, mirroring
// make's $(wildcard) semantics.
func (r *InputResolver) Resolve(patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return []string{}, nil
	}

	pathSet := make(map[string]struct{})
	for _, pattern := range patterns {
		expanded, err := r.expandPattern(pattern)
		if err != nil {
			return nil, fmt.Errorf("expanding pattern %q: %w", pattern, err)
		}
		for _, p := range expanded {
			pathSet[p] = struct{}{}
		}
	}

	// Never rely on OS directory ordering.
	paths := make([]string, 0, len(pathSet))
	for p := range pathSet {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (r *InputResolver) expandPattern(pattern string) ([]string, error) {
	rel := !filepath.IsAbs(pattern)
	fullPattern := filepath.FromSlash(pattern)
	if rel {
		fullPattern = filepath.Join(r.BaseDir, fullPattern)
	}

	matches, err := filepath.Glob(fullPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern: %w", err)
	}
	if len(matches) == 0 && !ContainsGlob(pattern) {
		if _, err := os.Stat(fullPattern); err == nil {
			matches = []string{fullPattern}
		}
	}

	out := make([]string, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			return nil, fmt.Errorf("stat %q: %w", match, err)
		}
		if info.IsDir() {
			continue
		}
		p := match
		if rel {
			p, err = filepath.Rel(r.BaseDir, match)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, filepath.ToSlash(p))
	}
	return out, nil
}

// ContainsGlob reports whether pattern contains glob special characters.
func ContainsGlob(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', ']':
			return true
		}
	}
	return false
}
