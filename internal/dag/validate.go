package dag

import (
	"container/heap"
)

// validateAcyclic runs Kahn's algorithm. Nodes it never releases lie on or
// behind a cycle, and one cycle among them is reported.
func (g *TaskGraph) validateAcyclic() error {
	order := g.topoOrderIndices()
	if len(order) == len(g.nodes) {
		return nil
	}
	released := make([]bool, len(g.nodes))
	for _, i := range order {
		released[i] = true
	}
	return cycleError(g.cycleWitness(released))
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices returns a topological ordering of node indices. The
// ready queue is a min-heap by canonical index, so the order is stable.
func (g *TaskGraph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	heap.Init(ready)
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// cycleWitness follows dependencies from the first unreleased node, taking
// the lowest unreleased dependency each step. An unreleased node always has
// an unreleased dependency, so the walk closes a cycle. The path reads in
// "needs" order, like the planner's.
func (g *TaskGraph) cycleWitness(released []bool) []string {
	cur := -1
	for i, ok := range released {
		if !ok {
			cur = i
			break
		}
	}
	var walk []string
	for cur >= 0 {
		name := g.nodes[cur].Name
		if path, ok := closeCycle(walk, name); ok {
			return path
		}
		walk = append(walk, name)
		next := -1
		for _, p := range g.incoming[cur] {
			if !released[p] {
				next = p
				break
			}
		}
		cur = next
	}
	return walk
}
