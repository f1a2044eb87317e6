package dag

import (
	"context"
	"fmt"

	"emojimk/internal/core"
)

// NodeResult is the outcome of running a single task.
type NodeResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int

	// FailedCommand is the recipe line that failed, if any.
	FailedCommand string

	// TargetRemoved is set when the failure deleted the partial target.
	TargetRemoved bool
}

// TaskRunner probes and runs single tasks for the Executor.
//
// Run reports a failing recipe through NodeResult.ExitCode. A non-nil error
// means the task could not be attempted at all.
type TaskRunner interface {
	Probe(ctx context.Context, task core.Task, depsRebuilt bool) (stale bool, reason core.Reason, err error)
	Run(ctx context.Context, task core.Task) (*NodeResult, error)
}

// CoreRunner adapts core.Runner to TaskRunner.
type CoreRunner struct {
	Runner *core.Runner
}

// NewCoreRunner wraps r.
func NewCoreRunner(r *core.Runner) (*CoreRunner, error) {
	if r == nil {
		return nil, fmt.Errorf("nil core runner")
	}
	return &CoreRunner{Runner: r}, nil
}

func (r *CoreRunner) Probe(_ context.Context, task core.Task, depsRebuilt bool) (bool, core.Reason, error) {
	return r.Runner.Probe(&task, depsRebuilt)
}

func (r *CoreRunner) Run(ctx context.Context, task core.Task) (*NodeResult, error) {
	res, err := r.Runner.Run(ctx, &task)
	if err != nil {
		return nil, err
	}
	return &NodeResult{
		Stdout:        res.Stdout,
		Stderr:        res.Stderr,
		ExitCode:      res.ExitCode,
		FailedCommand: res.FailedCommand,
		TargetRemoved: res.TargetRemoved,
	}, nil
}
