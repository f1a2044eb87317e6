package dag

import "emojimk/internal/core"

// GraphHash is the deterministic identity of a TaskGraph. It depends only
// on task definitions and dependency structure, never on insertion order.
type GraphHash string

// TaskDefHash is the identity of one task definition: target, rule,
// dependencies, recipe, environment and phony flag.
type TaskDefHash string

// Edge is a dependency relation: To depends on From, so From must finish
// before To starts.
type Edge struct {
	From string
	To   string
}

// TaskNode is an immutable node in the TaskGraph.
type TaskNode struct {
	Name           string
	Task           core.Task
	DefinitionHash TaskDefHash
	canonicalIndex int
}

// CanonicalIndex returns the node's position in the graph's canonical ordering.
func (n *TaskNode) CanonicalIndex() int { return n.canonicalIndex }

func (h GraphHash) String() string { return string(h) }

func (h TaskDefHash) String() string { return string(h) }
