package dag

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"emojimk/internal/core"
	"emojimk/internal/rules"
)

// Planner resolves goals against a rule table into a TaskGraph.
//
// Resolution is lazy: only targets reachable from the goals are visited.
// For each target the best applicable rule wins (see rules.Table.Candidates).
// A pattern rule is applicable only when all of its dependencies exist or
// can be made; a literal rule always applies and a missing dependency is an
// error. An existing file with no applicable rule is a source.
type Planner struct {
	Table    *rules.Table
	Stater   core.Stater
	Resolver *core.InputResolver
}

// Plan is the outcome of planning.
type Plan struct {
	// Graph holds the tasks reachable from Goals. It is nil when every goal
	// is an existing source file.
	Graph *TaskGraph

	// Goals are the requested targets, cleaned, in request order.
	Goals []string

	// NothingToDo lists goals that are plain source files.
	NothingToDo []string
}

// NewPlanner creates a Planner over the live filesystem rooted at workDir.
func NewPlanner(table *rules.Table, workDir string) *Planner {
	return &Planner{
		Table:    table,
		Stater:   core.OSStater{BaseDir: workDir},
		Resolver: core.NewInputResolver(workDir),
	}
}

type resolution struct {
	task *core.Task // nil for sources
	err  error
}

type planState struct {
	p     *Planner
	memo  map[string]resolution
	stack []string
}

// Plan resolves goals and returns the validated task graph.
func (p *Planner) Plan(goals []string) (*Plan, error) {
	if p.Table == nil {
		return nil, fmt.Errorf("planner has no rule table")
	}
	if len(goals) == 0 {
		return nil, invalidf("no goals")
	}

	ps := &planState{p: p, memo: make(map[string]resolution)}
	plan := &Plan{}
	for _, g := range goals {
		goal := core.CleanPath(g)
		plan.Goals = append(plan.Goals, goal)
		task, err := ps.resolve(goal, "")
		if err != nil {
			return nil, err
		}
		if task == nil {
			plan.NothingToDo = append(plan.NothingToDo, goal)
		}
	}

	tasks := ps.reachable(plan.Goals)
	if len(tasks) == 0 {
		return plan, nil
	}

	var edges []Edge
	for _, t := range tasks {
		for _, d := range t.Deps {
			if r, ok := ps.memo[d]; ok && r.task != nil {
				edges = append(edges, Edge{From: d, To: t.Name})
			}
		}
	}

	g, err := NewTaskGraph(tasks, edges)
	if err != nil {
		return nil, err
	}
	plan.Graph = g

	core.Logger().WithField("goal", plan.Goals).Debugf("planned %d tasks", len(tasks))
	return plan, nil
}

func (ps *planState) resolve(target, neededBy string) (*core.Task, error) {
	if r, ok := ps.memo[target]; ok {
		return r.task, r.err
	}
	if path, ok := closeCycle(ps.stack, target); ok {
		return nil, cycleError(path)
	}

	ps.stack = append(ps.stack, target)
	task, err := ps.resolveRules(target, neededBy)
	ps.stack = ps.stack[:len(ps.stack)-1]

	if err != nil && !errors.Is(err, ErrMissingSource) {
		// Cycles depend on the visiting stack and are not memoized.
		return nil, err
	}
	ps.memo[target] = resolution{task: task, err: err}
	return task, err
}

func (ps *planState) resolveRules(target, neededBy string) (*core.Task, error) {
	var lastMissing error
	for _, m := range ps.p.Table.Candidates(target) {
		deps, err := ps.expandDeps(m.Deps)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", m.Rule.Name, err)
		}

		applicable := true
		for _, d := range deps {
			if _, err := ps.resolve(d, target); err != nil {
				if errors.Is(err, ErrMissingSource) && !m.Rule.Literal() {
					applicable = false
					lastMissing = err
					break
				}
				return nil, err
			}
		}
		if !applicable {
			core.Logger().WithFields(logrus.Fields{
				"rule":   m.Rule.Name,
				"target": target,
			}).Debugf("rule rejected: %v", lastMissing)
			continue
		}
		return bindTask(m, deps), nil
	}

	a, err := ps.p.Stater.Stat(target)
	if err != nil {
		return nil, err
	}
	if a.Exists {
		return nil, nil
	}
	if lastMissing != nil {
		return nil, lastMissing
	}
	return nil, &MissingSourceError{Path: target, NeededBy: neededBy}
}

// expandDeps expands glob patterns and removes duplicates, keeping the
// first occurrence.
func (ps *planState) expandDeps(patterns []string) ([]string, error) {
	out := make([]string, 0, len(patterns))
	seen := make(map[string]struct{}, len(patterns))
	add := func(p string) {
		p = core.CleanPath(p)
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, pat := range patterns {
		if !core.ContainsGlob(pat) {
			add(pat)
			continue
		}
		if ps.p.Resolver == nil {
			return nil, fmt.Errorf("wildcard dependency %q needs a resolver", pat)
		}
		matches, err := ps.p.Resolver.Resolve([]string{pat})
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			add(m)
		}
	}
	return out, nil
}

func bindTask(m rules.Match, deps []string) *core.Task {
	b := rules.Binding{Target: m.Target, Deps: deps, Stem: m.Stem}
	recipe := make([]string, 0, len(m.Rule.Recipe))
	for _, line := range m.Rule.Recipe {
		recipe = append(recipe, rules.Expand(line, b))
	}
	var env map[string]string
	if len(m.Rule.Env) > 0 {
		env = make(map[string]string, len(m.Rule.Env))
		for k, v := range m.Rule.Env {
			env[k] = v
		}
	}
	return &core.Task{
		Name:   m.Target,
		Rule:   m.Rule.Name,
		Stem:   m.Stem,
		Deps:   deps,
		Recipe: recipe,
		Env:    env,
		Phony:  m.Rule.Phony,
		Action: m.Rule.Action,
	}
}

// reachable walks from goals through resolved tasks and returns the tasks
// in sorted order.
func (ps *planState) reachable(goals []string) []core.Task {
	seen := make(map[string]struct{})
	var tasks []core.Task

	var visit func(name string)
	visit = func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		r := ps.memo[name]
		if r.task == nil {
			return
		}
		tasks = append(tasks, *r.task)
		for _, d := range r.task.Deps {
			visit(d)
		}
	}
	for _, g := range goals {
		visit(g)
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks
}
