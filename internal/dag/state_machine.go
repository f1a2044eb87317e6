package dag

import (
	"fmt"
	"sort"
)

// IsTerminal reports whether the state is terminal (finished).
func IsTerminal(s TaskState) bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped, TaskUpToDate:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the state satisfies dependents.
func IsSuccessful(s TaskState) bool {
	switch s {
	case TaskCompleted, TaskUpToDate:
		return true
	default:
		return false
	}
}

// Transition performs a validated transition for a single task.
//
// The caller supplies the expected prior state so that races are
// observable. state is mutated only if the transition is valid.
func Transition(state ExecutionState, taskName string, from, to TaskState) error {
	cur, ok := state[taskName]
	if !ok {
		return fmt.Errorf("unknown task in state: %q", taskName)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", taskName, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", taskName, from, to)
	}
	state[taskName] = to
	return nil
}

func isAllowedTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning || to == TaskUpToDate || to == TaskSkipped
	case TaskRunning:
		return to == TaskCompleted || to == TaskFailed
	default:
		return false
	}
}

// FailAndHalt moves taskName from RUNNING to FAILED and marks every task
// that has not started yet as SKIPPED, like make without -k. Tasks already
// RUNNING are left alone so in-flight work can finish.
//
// The skipped names are returned sorted.
func FailAndHalt(state ExecutionState, taskName string) ([]string, error) {
	cur, ok := state[taskName]
	if !ok {
		return nil, fmt.Errorf("unknown task in state: %q", taskName)
	}
	switch cur {
	case TaskRunning:
		state[taskName] = TaskFailed
	case TaskFailed:
	default:
		return nil, fmt.Errorf("cannot fail %q from state %s", taskName, cur)
	}

	return haltPending(state), nil
}

// haltPending marks every PENDING task SKIPPED and returns their names.
func haltPending(state ExecutionState) []string {
	var skipped []string
	for name, st := range state {
		if st == TaskPending {
			state[name] = TaskSkipped
			skipped = append(skipped, name)
		}
	}
	sort.Strings(skipped)
	return skipped
}
