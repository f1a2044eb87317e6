package dag

import "emojimk/internal/core"

// tk builds a task whose recipe copies its first dependency.
func tk(name string, deps ...string) core.Task {
	return core.Task{
		Name:   name,
		Rule:   "rule-" + name,
		Deps:   deps,
		Recipe: []string{"build " + name},
	}
}
