// Package state persists the failure journal: the record of the last build
// that failed, kept under <workdir>/.emojimk/.
package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type FailureClass string

const (
	FailureClassMissingSource  FailureClass = "missing-source"
	FailureClassCommandFailure FailureClass = "command-failure"
	FailureClassCycle          FailureClass = "cycle-detected"
	FailureClassInvalidGraph   FailureClass = "invalid-graph"
	FailureClassConfig         FailureClass = "config"
	FailureClassSystem         FailureClass = "system"
)

// Failure is the persisted description of a failed build.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	Goals        []string     `json:"goals"`
	GraphHash    string       `json:"graph_hash,omitempty"`
	Rule         string       `json:"rule,omitempty"`
	Target       string       `json:"target,omitempty"`
	Command      string       `json:"command,omitempty"`
	ExitCode     int          `json:"exit_code,omitempty"`
	ErrorMessage string       `json:"error_message"`
	RecordedAt   time.Time    `json:"recorded_at"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassMissingSource, FailureClassCommandFailure, FailureClassCycle,
		FailureClassInvalidGraph, FailureClassConfig, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if f.Goals == nil {
		errs = append(errs, errors.New("goals must be an array (not null)"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	if f.RecordedAt.IsZero() {
		errs = append(errs, errors.New("recorded_at is required"))
	}
	if f.FailureClass == FailureClassCommandFailure {
		if strings.TrimSpace(f.Target) == "" {
			errs = append(errs, errors.New("target is required for command failures"))
		}
		if f.ExitCode == 0 {
			errs = append(errs, errors.New("exit_code must be non-zero for command failures"))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Summary renders the failure for humans.
func (f Failure) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "last failure (%s) at %s\n", f.FailureClass, f.RecordedAt.Format(time.RFC3339))
	if len(f.Goals) > 0 {
		fmt.Fprintf(&sb, "  goals:   %s\n", strings.Join(f.Goals, " "))
	}
	if f.Target != "" {
		fmt.Fprintf(&sb, "  target:  %s\n", f.Target)
	}
	if f.Rule != "" {
		fmt.Fprintf(&sb, "  rule:    %s\n", f.Rule)
	}
	if f.Command != "" {
		fmt.Fprintf(&sb, "  command: %s\n", f.Command)
	}
	if f.ExitCode != 0 {
		fmt.Fprintf(&sb, "  exit:    %d\n", f.ExitCode)
	}
	fmt.Fprintf(&sb, "  error:   %s\n", f.ErrorMessage)
	return sb.String()
}
