package dag

// GraphResult summarizes one evaluation of a TaskGraph.
type GraphResult struct {
	GraphHash GraphHash

	// FinalState is the terminal state of each node by name.
	FinalState ExecutionState

	// ExecutionOrder lists the tasks that were started (moved to RUNNING),
	// in start order.
	ExecutionOrder []string

	// Per-task output of every task that ran.
	Stdout        map[string][]byte
	Stderr        map[string][]byte
	ExitCode      map[string]int
	FailedCommand map[string]string

	// Failures lists failed tasks in completion order.
	Failures []*CommandError

	// TraceBytes is the canonical JSON trace; TraceHash its sha256.
	TraceBytes []byte
	TraceHash  string
}

// Err returns the first failure as a *CommandError, or nil.
func (r *GraphResult) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	return r.Failures[0]
}

// Ran reports whether name was started during the evaluation.
func (r *GraphResult) Ran(name string) bool {
	for _, n := range r.ExecutionOrder {
		if n == name {
			return true
		}
	}
	return false
}

// MergeResults folds the evaluations of one build's goals, given in goal
// order, into a single result. A target made by an earlier goal stays
// COMPLETED when a later goal finds it up to date.
//
// A single result is returned as is. Otherwise TraceBytes and TraceHash are
// left empty: the build's trace spans every goal and is written by the caller.
func MergeResults(results ...*GraphResult) *GraphResult {
	var live []*GraphResult
	for _, r := range results {
		if r != nil {
			live = append(live, r)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}

	out := &GraphResult{
		FinalState:    make(ExecutionState),
		Stdout:        make(map[string][]byte),
		Stderr:        make(map[string][]byte),
		ExitCode:      make(map[string]int),
		FailedCommand: make(map[string]string),
	}
	hashes := make([]GraphHash, 0, len(live))
	for _, r := range live {
		hashes = append(hashes, r.GraphHash)
		for name, st := range r.FinalState {
			if out.FinalState[name] == TaskCompleted && st == TaskUpToDate {
				continue
			}
			out.FinalState[name] = st
		}
		out.ExecutionOrder = append(out.ExecutionOrder, r.ExecutionOrder...)
		for k, v := range r.Stdout {
			out.Stdout[k] = v
		}
		for k, v := range r.Stderr {
			out.Stderr[k] = v
		}
		for k, v := range r.ExitCode {
			out.ExitCode[k] = v
		}
		for k, v := range r.FailedCommand {
			out.FailedCommand[k] = v
		}
		out.Failures = append(out.Failures, r.Failures...)
	}
	out.GraphHash = CombineHashes(hashes...)
	return out
}
