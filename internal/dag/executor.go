package dag

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"emojimk/internal/core"
	"emojimk/internal/trace"
)

// Executor evaluates a TaskGraph.
//
// Each ready task is first probed for freshness. Up-to-date tasks are
// settled without running anything; stale tasks run through Runner. The
// first failure halts the build: tasks that have not started are skipped.
type Executor struct {
	Graph  *TaskGraph
	Runner TaskRunner

	// Trace collects the logical decisions of the evaluation.
	Trace *trace.Recorder

	// Made names targets remade by an earlier goal of the same build. They
	// are not remade again and count as rebuilt for their dependents.
	Made map[string]bool

	mu    sync.Mutex
	state ExecutionState
	out   *collector
}

// NewExecutor creates an executor with all nodes PENDING.
func NewExecutor(g *TaskGraph, runner TaskRunner) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if runner == nil {
		return nil, fmt.Errorf("nil runner")
	}
	return &Executor{
		Graph:  g,
		Runner: runner,
		Trace:  trace.NewRecorder(),
		state:  NewExecutionState(g),
	}, nil
}

// StateSnapshot returns a copy of the current execution state.
func (e *Executor) StateSnapshot() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := make(ExecutionState, len(e.state))
	for k, v := range e.state {
		cp[k] = v
	}
	return cp
}

// collector accumulates per-task results. Guarded by Executor.mu.
type collector struct {
	order         []string
	stdout        map[string][]byte
	stderr        map[string][]byte
	exitCodes     map[string]int
	failedCommand map[string]string
	failures      []*CommandError
}

func newCollector(n int) *collector {
	return &collector{
		order:         make([]string, 0, n),
		stdout:        make(map[string][]byte, n),
		stderr:        make(map[string][]byte, n),
		exitCodes:     make(map[string]int, n),
		failedCommand: make(map[string]string),
	}
}

// depsRebuiltLocked reports whether any dependency of name ran during this
// evaluation. Must be called with e.mu held.
func (e *Executor) depsRebuiltLocked(name string) bool {
	for _, d := range e.Graph.Dependencies(name) {
		if e.state[d] == TaskCompleted || e.Made[d] {
			return true
		}
	}
	return false
}

// probe asks the runner whether task is stale, unless an earlier goal
// already made it.
func (e *Executor) probe(ctx context.Context, task core.Task, rebuilt bool) (bool, core.Reason, error) {
	if e.Made[task.Name] {
		return false, core.ReasonUpToDate, nil
	}
	return e.Runner.Probe(ctx, task, rebuilt)
}

func (e *Executor) log(task core.Task) *logrus.Entry {
	return core.Logger().WithFields(logrus.Fields{
		"rule":   task.Rule,
		"target": task.Name,
	})
}

// settleFreshLocked records an up-to-date decision. Must be called with e.mu held.
func (e *Executor) settleFreshLocked(task core.Task) error {
	if err := Transition(e.state, task.Name, TaskPending, TaskUpToDate); err != nil {
		return err
	}
	trace.SafeRecord(e.Trace, trace.TraceEvent{Kind: trace.EventTaskUpToDate, TaskID: task.Name})
	e.log(task).Debug("up to date")
	return nil
}

// startLocked moves task to RUNNING. Must be called with e.mu held.
func (e *Executor) startLocked(task core.Task, reason core.Reason) error {
	if err := Transition(e.state, task.Name, TaskPending, TaskRunning); err != nil {
		return err
	}
	e.out.order = append(e.out.order, task.Name)
	trace.SafeRecord(e.Trace, trace.TraceEvent{Kind: trace.EventTaskExecuted, TaskID: task.Name, Reason: reason.String()})
	e.log(task).WithField("reason", reason).Info("remaking target")
	return nil
}

// finishLocked commits the outcome of a RUNNING task. Must be called with
// e.mu held.
func (e *Executor) finishLocked(task core.Task, res *NodeResult) error {
	name := task.Name
	e.out.stdout[name] = res.Stdout
	e.out.stderr[name] = res.Stderr
	e.out.exitCodes[name] = res.ExitCode

	if res.ExitCode == 0 {
		return Transition(e.state, name, TaskRunning, TaskCompleted)
	}

	e.out.failedCommand[name] = res.FailedCommand
	e.out.failures = append(e.out.failures, &CommandError{
		Rule:     task.Rule,
		Target:   name,
		Command:  res.FailedCommand,
		ExitCode: res.ExitCode,
	})

	skipped, err := FailAndHalt(e.state, name)
	if err != nil {
		return err
	}

	trace.SafeRecord(e.Trace, trace.TraceEvent{Kind: trace.EventTaskFailed, TaskID: name, Reason: "exit " + strconv.Itoa(res.ExitCode)})
	if res.TargetRemoved {
		trace.SafeRecord(e.Trace, trace.TraceEvent{Kind: trace.EventTaskTargetRemoved, TaskID: name, Artifacts: []string{name}})
	}
	for _, s := range skipped {
		trace.SafeRecord(e.Trace, trace.TraceEvent{Kind: trace.EventTaskSkipped, TaskID: s, CauseTaskID: name})
	}

	e.log(task).WithFields(logrus.Fields{
		"exit":    res.ExitCode,
		"skipped": len(skipped),
	}).Warn("recipe failed")
	return nil
}

func (e *Executor) resultLocked() (*GraphResult, error) {
	final := make(ExecutionState, len(e.state))
	for k, v := range e.state {
		final[k] = v
	}

	tr := e.Trace.Trace(e.Graph.Hash().String())
	b, err := tr.CanonicalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding trace: %w", err)
	}

	return &GraphResult{
		GraphHash:      e.Graph.Hash(),
		FinalState:     final,
		ExecutionOrder: e.out.order,
		Stdout:         e.out.stdout,
		Stderr:         e.out.stderr,
		ExitCode:       e.out.exitCodes,
		FailedCommand:  e.out.failedCommand,
		Failures:       e.out.failures,
		TraceBytes:     b,
		TraceHash:      trace.ComputeTraceHash(b),
	}, nil
}

func (e *Executor) allTerminalLocked() bool {
	for _, st := range e.state {
		if !IsTerminal(st) {
			return false
		}
	}
	return true
}

// RunSerial evaluates the graph one task at a time, always taking the
// first task of the scheduler's ordered ready list.
func (e *Executor) RunSerial(ctx context.Context) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	e.mu.Lock()
	e.out = newCollector(len(e.Graph.nodes))
	e.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("execution cancelled: %w", err)
		}

		e.mu.Lock()
		ready := GetReadyTasks(e.Graph, e.state)
		if len(ready) == 0 {
			defer e.mu.Unlock()
			if e.allTerminalLocked() {
				return e.resultLocked()
			}
			return nil, fmt.Errorf("no ready tasks but graph not finished")
		}

		next := ready[0]
		task := e.Graph.nodesByName[next].Task
		rebuilt := e.depsRebuiltLocked(next)
		e.mu.Unlock()

		stale, reason, err := e.probe(ctx, task, rebuilt)
		if err != nil {
			return nil, fmt.Errorf("probing %q: %w", next, err)
		}

		e.mu.Lock()
		if !stale {
			err := e.settleFreshLocked(task)
			e.mu.Unlock()
			if err != nil {
				return nil, err
			}
			continue
		}
		err = e.startLocked(task, reason)
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}

		res, err := e.Runner.Run(ctx, task)
		if err != nil {
			return nil, fmt.Errorf("executing %q: %w", next, err)
		}
		if res == nil {
			return nil, fmt.Errorf("executing %q: nil result", next)
		}

		e.mu.Lock()
		err = e.finishLocked(task, res)
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
}

type workItem struct {
	task core.Task
}

type workResult struct {
	task   core.Task
	result *NodeResult
	err    error
}

// RunParallel evaluates the graph with up to concurrency workers.
//
// Dispatch is staged by topological depth, and lexical by name within a
// depth, so the set of decisions does not depend on worker timing. Probes
// run on the coordinator; only recipes run on workers.
func (e *Executor) RunParallel(ctx context.Context, concurrency int) (*GraphResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0")
	}

	e.mu.Lock()
	e.out = newCollector(len(e.Graph.nodes))
	e.mu.Unlock()

	maxDepth := 0
	for _, d := range e.Graph.depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	byDepth := make([][]string, maxDepth+1)
	for _, n := range e.Graph.nodes {
		d := e.Graph.depth[n.canonicalIndex]
		byDepth[d] = append(byDepth[d], n.Name)
	}
	for d := range byDepth {
		sort.Strings(byDepth[d])
	}

	workCh := make(chan workItem, concurrency)
	doneCh := make(chan workResult, concurrency)

	var wg sync.WaitGroup
	var stopOnce sync.Once
	stopWorkers := func() {
		stopOnce.Do(func() {
			close(workCh)
			wg.Wait()
		})
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for w := range workCh {
				res, err := e.Runner.Run(ctx, w.task)
				doneCh <- workResult{task: w.task, result: res, err: err}
			}
		}()
	}
	defer stopWorkers()

	core.Logger().WithField("jobs", concurrency).Debugf("evaluating %d tasks", len(e.Graph.nodes))

	inFlight := 0
	for depth := 0; depth <= maxDepth; depth++ {
		names := byDepth[depth]
		next := 0

		for {
			e.mu.Lock()
			for inFlight < concurrency && next < len(names) {
				name := names[next]
				st := e.state[name]

				// Skipped by an earlier failure.
				if IsTerminal(st) {
					next++
					continue
				}
				if st != TaskPending {
					e.mu.Unlock()
					return nil, fmt.Errorf("unexpected non-pending state for %q: %s", name, st)
				}
				node := e.Graph.nodesByName[name]
				for _, p := range e.Graph.incoming[node.canonicalIndex] {
					if !IsSuccessful(e.state[e.Graph.nodes[p].Name]) {
						e.mu.Unlock()
						return nil, fmt.Errorf("task %q at depth %d is pending but dependencies are not successful", name, depth)
					}
				}

				stale, reason, err := e.probe(ctx, node.Task, e.depsRebuiltLocked(name))
				if err != nil {
					e.mu.Unlock()
					return nil, fmt.Errorf("probing %q: %w", name, err)
				}
				next++
				if !stale {
					if err := e.settleFreshLocked(node.Task); err != nil {
						e.mu.Unlock()
						return nil, err
					}
					continue
				}
				if err := e.startLocked(node.Task, reason); err != nil {
					e.mu.Unlock()
					return nil, err
				}
				inFlight++
				workCh <- workItem{task: node.Task}
			}
			stageDone := next >= len(names) && inFlight == 0
			e.mu.Unlock()
			if stageDone {
				break
			}

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
			case r := <-doneCh:
				inFlight--
				if r.err != nil {
					return nil, fmt.Errorf("executing %q: %w", r.task.Name, r.err)
				}
				if r.result == nil {
					return nil, fmt.Errorf("executing %q: nil result", r.task.Name)
				}
				e.mu.Lock()
				err := e.finishLocked(r.task, r.result)
				e.mu.Unlock()
				if err != nil {
					return nil, err
				}
			}
		}
	}

	stopWorkers()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resultLocked()
}
