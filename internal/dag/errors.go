package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph  = errors.New("invalid task graph")
	ErrCycleFound    = errors.New("cycle detected")
	ErrMissingSource = errors.New("missing source")
	ErrCommandFailed = errors.New("command failed")
)

// GraphError wraps deterministic graph validation failures.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

// MissingSourceError reports a dependency that does not exist and that no
// rule can produce.
type MissingSourceError struct {
	Path     string
	NeededBy string
}

func (e *MissingSourceError) Error() string {
	if e.NeededBy == "" {
		return fmt.Sprintf("no rule to make target %q", e.Path)
	}
	return fmt.Sprintf("no rule to make target %q, needed by %q", e.Path, e.NeededBy)
}

func (e *MissingSourceError) Unwrap() error { return ErrMissingSource }

// CommandError reports the first recipe line that failed.
type CommandError struct {
	Rule     string
	Target   string
	Command  string
	ExitCode int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("[%s] %s: %q exited with status %d", e.Rule, e.Target, e.Command, e.ExitCode)
}

func (e *CommandError) Unwrap() error { return ErrCommandFailed }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &GraphError{Kind: ErrCycleFound, Msg: msg}
}

// closeCycle reports the cycle formed by stepping from the end of walk to
// name, when name is already on walk: [a b c] and b give b -> c -> b.
func closeCycle(walk []string, name string) ([]string, bool) {
	for i, s := range walk {
		if s == name {
			return append(append([]string(nil), walk[i:]...), name), true
		}
	}
	return nil, false
}
