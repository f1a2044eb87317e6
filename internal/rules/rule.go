// Package rules holds make-style build rules and the ordered table used to
// pick the rule that produces a given target.
package rules

import (
	"strings"

	"emojimk/internal/core"
)

// Rule describes how to produce targets matching Target from Deps.
type Rule struct {
	// Name identifies the rule in logs, traces and errors.
	Name string

	// Target is a literal path or a pattern with exactly one '%'.
	Target string

	// Deps may reference the stem with '%' and may contain glob characters.
	Deps []string

	// Recipe lines are shell command templates over the automatic
	// variables $@ $< $^ $* and $$.
	Recipe []string

	// Action, when set, replaces Recipe with native code.
	Action core.Action

	// Env is exported to every recipe line.
	Env map[string]string

	// Phony rules never name a file and always run.
	Phony bool
}

// Literal reports whether the rule names a single target.
func (r *Rule) Literal() bool {
	return !strings.Contains(r.Target, "%")
}

// MatchPattern matches path against a pattern containing one '%'.
// The stem must be non-empty.
func MatchPattern(pattern, path string) (string, bool) {
	i := strings.IndexByte(pattern, '%')
	if i < 0 {
		return "", false
	}
	prefix, suffix := pattern[:i], pattern[i+1:]
	if len(path) <= len(prefix)+len(suffix) {
		return "", false
	}
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	return path[len(prefix) : len(path)-len(suffix)], true
}

// substituteStem replaces the first '%' in s with stem.
func substituteStem(s, stem string) string {
	return strings.Replace(s, "%", stem, 1)
}
