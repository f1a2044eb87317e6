package dag

// TaskState is the runtime state of a node during one evaluation.
type TaskState string

const (
	TaskPending   TaskState = "PENDING"
	TaskRunning   TaskState = "RUNNING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
	TaskSkipped   TaskState = "SKIPPED"
	TaskUpToDate  TaskState = "UP_TO_DATE"
)

// ExecutionState maps task name to its current TaskState.
//
// It is a plain map so the scheduler can remain a pure function.
type ExecutionState map[string]TaskState

// NewExecutionState returns a state with every task of g PENDING.
func NewExecutionState(g *TaskGraph) ExecutionState {
	st := make(ExecutionState, len(g.nodes))
	for _, n := range g.nodes {
		st[n.Name] = TaskPending
	}
	return st
}

// Count returns how many tasks are in state s.
func (st ExecutionState) Count(s TaskState) int {
	n := 0
	for _, v := range st {
		if v == s {
			n++
		}
	}
	return n
}
