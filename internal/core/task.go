package core

import (
	"context"
	"io"
	"path/filepath"
)

// Task is a concrete instance of a rule, bound to one target.
//
// The planner produces Tasks with every pattern and automatic variable
// already substituted, so Recipe lines are ready to hand to the shell.
type Task struct {
	// Name is the target path (slash separated, relative to the work dir).
	// It is the node identity in the task graph.
	Name string `json:"name"`

	// Rule is the name of the rule that produced this task.
	Rule string `json:"rule"`

	// Stem is the text matched by '%' for pattern rules.
	Stem string `json:"stem,omitempty"`

	// Deps lists every dependency path, derived and source alike, in
	// declaration order.
	Deps []string `json:"deps,omitempty"`

	// Recipe holds the expanded shell command lines.
	// A leading '@' suppresses echo; a leading '-' ignores the exit status.
	Recipe []string `json:"recipe,omitempty"`

	// Env holds extra variables exported to the recipe on top of the
	// process environment.
	Env map[string]string `json:"env,omitempty"`

	// Phony tasks do not name a file and always run.
	Phony bool `json:"phony,omitempty"`

	// Action, when set, runs instead of Recipe.
	Action Action `json:"-"`
}

// Action is a native implementation of a rule.
// A returned error fails the task exactly like a non-zero exit status.
type Action func(ctx context.Context, b *Binding) error

// Binding is the context handed to an Action.
type Binding struct {
	Rule    string
	Target  string
	Deps    []string
	Stem    string
	WorkDir string

	// Stdout and Stderr are never nil when the Runner invokes an Action.
	Stdout io.Writer
	Stderr io.Writer
}

// Path resolves a task-relative path against the work dir.
func (b *Binding) Path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.WorkDir, filepath.FromSlash(p))
}
