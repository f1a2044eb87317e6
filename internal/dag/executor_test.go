package dag

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"emojimk/internal/core"
	"emojimk/internal/trace"
)

// fakeRunner treats tasks listed in fresh as up to date unless a dependency
// was rebuilt, and fails tasks listed in exit.
type fakeRunner struct {
	mu      sync.Mutex
	fresh   map[string]bool
	exit    map[string]int
	delay   time.Duration
	runs    []string
	probes  map[string]bool
	running int
	maxPar  int
}

func (r *fakeRunner) Probe(_ context.Context, task core.Task, depsRebuilt bool) (bool, core.Reason, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.probes == nil {
		r.probes = map[string]bool{}
	}
	r.probes[task.Name] = depsRebuilt
	if depsRebuilt {
		return true, core.ReasonDependencyRebuilt, nil
	}
	if r.fresh[task.Name] {
		return false, core.ReasonUpToDate, nil
	}
	return true, core.ReasonMissing, nil
}

func (r *fakeRunner) Run(_ context.Context, task core.Task) (*NodeResult, error) {
	if task.Name == "" {
		return nil, fmt.Errorf("missing task name")
	}
	r.mu.Lock()
	r.runs = append(r.runs, task.Name)
	r.running++
	if r.running > r.maxPar {
		r.maxPar = r.running
	}
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.running--
	code := r.exit[task.Name]
	r.mu.Unlock()

	res := &NodeResult{Stdout: []byte("out:" + task.Name), ExitCode: code}
	if code != 0 {
		res.FailedCommand = "build " + task.Name
		res.TargetRemoved = true
	}
	return res, nil
}

func (r *fakeRunner) ranNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

// A -> C, B -> D, E independent.
func complexGraph(t *testing.T) *TaskGraph {
	t.Helper()
	g, err := NewTaskGraph(
		[]core.Task{tk("A"), tk("B"), tk("C", "A"), tk("D", "B"), tk("E")},
		[]Edge{{From: "A", To: "C"}, {From: "B", To: "D"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return g
}

func TestExecutorSerial_RespectsSchedulerOrder(t *testing.T) {
	exec, err := NewExecutor(complexGraph(t), &fakeRunner{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := exec.RunSerial(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"A", "B", "E", "C", "D"}; !reflect.DeepEqual(res.ExecutionOrder, want) {
		t.Fatalf("execution order mismatch: got %v want %v", res.ExecutionOrder, want)
	}
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		if res.FinalState[name] != TaskCompleted {
			t.Fatalf("expected %s COMPLETED, got %s", name, res.FinalState[name])
		}
	}
	if string(res.Stdout["C"]) != "out:C" {
		t.Fatalf("stdout not recorded: %q", res.Stdout["C"])
	}
	if res.Err() != nil {
		t.Fatalf("unexpected Err: %v", res.Err())
	}
}

func TestExecutorSerial_UpToDateRunsNothing(t *testing.T) {
	runner := &fakeRunner{fresh: map[string]bool{"A": true, "B": true, "C": true, "D": true, "E": true}}
	exec, _ := NewExecutor(complexGraph(t), runner)

	res, err := exec.RunSerial(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runner.ranNames()) != 0 || len(res.ExecutionOrder) != 0 {
		t.Fatalf("expected no commands, ran %v", runner.ranNames())
	}
	if n := res.FinalState.Count(TaskUpToDate); n != 5 {
		t.Fatalf("expected 5 UP_TO_DATE, got %d", n)
	}
}

func TestExecutorSerial_RebuiltDependencyPropagates(t *testing.T) {
	// Only A is stale; C depends on A and must be remade even though its
	// own timestamps look fresh.
	runner := &fakeRunner{fresh: map[string]bool{"B": true, "C": true, "D": true, "E": true}}
	exec, _ := NewExecutor(complexGraph(t), runner)

	res, err := exec.RunSerial(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"A", "C"}; !reflect.DeepEqual(res.ExecutionOrder, want) {
		t.Fatalf("execution order = %v, want %v", res.ExecutionOrder, want)
	}
	if !runner.probes["C"] || runner.probes["D"] {
		t.Fatalf("unexpected depsRebuilt flags: %v", runner.probes)
	}
}

func TestExecutorSerial_FailureHaltsBuild(t *testing.T) {
	runner := &fakeRunner{exit: map[string]int{"A": 2}}
	exec, _ := NewExecutor(complexGraph(t), runner)

	res, err := exec.RunSerial(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if want := []string{"A"}; !reflect.DeepEqual(res.ExecutionOrder, want) {
		t.Fatalf("execution order = %v, want %v", res.ExecutionOrder, want)
	}
	want := ExecutionState{"A": TaskFailed, "B": TaskSkipped, "C": TaskSkipped, "D": TaskSkipped, "E": TaskSkipped}
	if !reflect.DeepEqual(res.FinalState, want) {
		t.Fatalf("final state = %v, want %v", res.FinalState, want)
	}

	var ce *CommandError
	if !errors.As(res.Err(), &ce) || !errors.Is(res.Err(), ErrCommandFailed) {
		t.Fatalf("expected *CommandError, got %v", res.Err())
	}
	if ce.Target != "A" || ce.Rule != "rule-A" || ce.ExitCode != 2 || ce.Command != "build A" {
		t.Fatalf("unexpected command error %+v", ce)
	}
}

func TestExecutorParallel_MatchesSerialDecisions(t *testing.T) {
	serialExec, _ := NewExecutor(complexGraph(t), &fakeRunner{fresh: map[string]bool{"B": true}})
	serial, err := serialExec.RunSerial(context.Background())
	if err != nil {
		t.Fatalf("serial: %v", err)
	}

	for _, workers := range []int{1, 2, 4} {
		parExec, _ := NewExecutor(complexGraph(t), &fakeRunner{fresh: map[string]bool{"B": true}, delay: 5 * time.Millisecond})
		par, err := parExec.RunParallel(context.Background(), workers)
		if err != nil {
			t.Fatalf("parallel(%d): %v", workers, err)
		}
		if !reflect.DeepEqual(par.FinalState, serial.FinalState) {
			t.Fatalf("parallel(%d) state %v != serial %v", workers, par.FinalState, serial.FinalState)
		}
		if par.TraceHash != serial.TraceHash {
			t.Fatalf("parallel(%d) trace differs\npar=%s\nser=%s", workers, par.TraceBytes, serial.TraceBytes)
		}
	}
}

func TestExecutorParallel_UsesWorkers(t *testing.T) {
	tasks := []core.Task{tk("a"), tk("b"), tk("c"), tk("d")}
	g, err := NewTaskGraph(tasks, nil)
	if err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{delay: 30 * time.Millisecond}
	exec, _ := NewExecutor(g, runner)
	if _, err := exec.RunParallel(context.Background(), 4); err != nil {
		t.Fatalf("RunParallel: %v", err)
	}
	if runner.maxPar < 2 {
		t.Fatalf("expected concurrent execution, max in flight %d", runner.maxPar)
	}
}

func TestExecutorParallel_FailureLetsInFlightFinish(t *testing.T) {
	// a and b run together at depth 0; a fails, b finishes, c never starts.
	g, err := NewTaskGraph([]core.Task{tk("a"), tk("b"), tk("c", "a", "b")},
		[]Edge{{From: "a", To: "c"}, {From: "b", To: "c"}})
	if err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{exit: map[string]int{"a": 1}, delay: 10 * time.Millisecond}
	exec, _ := NewExecutor(g, runner)

	res, err := exec.RunParallel(context.Background(), 2)
	if err != nil {
		t.Fatalf("RunParallel: %v", err)
	}
	want := ExecutionState{"a": TaskFailed, "b": TaskCompleted, "c": TaskSkipped}
	if !reflect.DeepEqual(res.FinalState, want) {
		t.Fatalf("final state = %v, want %v", res.FinalState, want)
	}
	if res.Ran("c") {
		t.Fatal("c must not run after a failure")
	}
}

func TestExecutorParallel_RejectsBadConcurrency(t *testing.T) {
	exec, _ := NewExecutor(complexGraph(t), &fakeRunner{})
	if _, err := exec.RunParallel(context.Background(), 0); err == nil {
		t.Fatal("expected error")
	}
}

func TestExecutor_CancelledContext(t *testing.T) {
	exec, _ := NewExecutor(complexGraph(t), &fakeRunner{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := exec.RunSerial(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExecutor_TraceRecordsDecisions(t *testing.T) {
	runner := &fakeRunner{fresh: map[string]bool{"B": true, "E": true}, exit: map[string]int{"C": 1}}
	exec, _ := NewExecutor(complexGraph(t), runner)

	res, err := exec.RunSerial(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tr := exec.Trace.Trace(res.GraphHash.String())
	kinds := map[string][]trace.TraceEventKind{}
	for _, ev := range tr.Events {
		kinds[ev.TaskID] = append(kinds[ev.TaskID], ev.Kind)
	}
	want := map[string][]trace.TraceEventKind{
		"A": {trace.EventTaskExecuted},
		"B": {trace.EventTaskUpToDate},
		"C": {trace.EventTaskExecuted, trace.EventTaskFailed, trace.EventTaskTargetRemoved},
		"D": {trace.EventTaskSkipped},
		"E": {trace.EventTaskUpToDate},
	}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("trace kinds = %v, want %v", kinds, want)
	}
	if res.TraceHash != trace.ComputeTraceHash(res.TraceBytes) {
		t.Fatal("trace hash does not match trace bytes")
	}
}

func TestNewExecutor_Validation(t *testing.T) {
	if _, err := NewExecutor(nil, &fakeRunner{}); err == nil {
		t.Fatal("expected error for nil graph")
	}
	if _, err := NewExecutor(complexGraph(t), nil); err == nil {
		t.Fatal("expected error for nil runner")
	}
}

func TestExecutor_MadeTargetsAreNotRemade(t *testing.T) {
	for _, mode := range []string{"serial", "parallel"} {
		t.Run(mode, func(t *testing.T) {
			runner := &fakeRunner{fresh: map[string]bool{"B": true, "C": true, "D": true, "E": true}}
			exec, _ := NewExecutor(complexGraph(t), runner)
			exec.Made = map[string]bool{"A": true}

			var res *GraphResult
			var err error
			if mode == "serial" {
				res, err = exec.RunSerial(context.Background())
			} else {
				res, err = exec.RunParallel(context.Background(), 2)
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := runner.ranNames(); !reflect.DeepEqual(got, []string{"C"}) {
				t.Fatalf("ran %v, want [C]", got)
			}
			if _, probed := runner.probes["A"]; probed {
				t.Fatalf("made target A was probed again")
			}
			if !runner.probes["C"] {
				t.Fatalf("C did not see A as rebuilt")
			}
			if res.FinalState["A"] != TaskUpToDate || res.FinalState["C"] != TaskCompleted {
				t.Fatalf("unexpected states %v", res.FinalState)
			}
		})
	}
}

func TestMergeResults(t *testing.T) {
	first := &GraphResult{
		GraphHash:      "h1",
		FinalState:     ExecutionState{"A": TaskCompleted, "clean": TaskCompleted},
		ExecutionOrder: []string{"clean", "A"},
	}
	second := &GraphResult{
		GraphHash:      "h2",
		FinalState:     ExecutionState{"A": TaskUpToDate, "B": TaskFailed},
		ExecutionOrder: []string{"B"},
		Failures:       []*CommandError{{Rule: "rule-B", Target: "B", ExitCode: 2}},
	}

	if got := MergeResults(nil, first); got != first {
		t.Fatalf("single result should be returned as is")
	}
	if MergeResults() != nil {
		t.Fatalf("no results should merge to nil")
	}

	got := MergeResults(first, second)
	want := ExecutionState{"A": TaskCompleted, "clean": TaskCompleted, "B": TaskFailed}
	if !reflect.DeepEqual(got.FinalState, want) {
		t.Fatalf("FinalState = %v, want %v", got.FinalState, want)
	}
	if !reflect.DeepEqual(got.ExecutionOrder, []string{"clean", "A", "B"}) {
		t.Fatalf("ExecutionOrder = %v", got.ExecutionOrder)
	}
	var ce *CommandError
	if !errors.As(got.Err(), &ce) || ce.Target != "B" {
		t.Fatalf("Err = %v", got.Err())
	}
	if got.GraphHash != CombineHashes("h1", "h2") {
		t.Fatalf("GraphHash = %s", got.GraphHash)
	}
}

func TestCombineHashes(t *testing.T) {
	if CombineHashes("h1") != "h1" {
		t.Fatalf("single hash must be unchanged")
	}
	ab, ba := CombineHashes("a", "b"), CombineHashes("b", "a")
	if ab == ba || len(ab) != 64 {
		t.Fatalf("combined hashes must depend on goal order: %s %s", ab, ba)
	}
	if ab != CombineHashes("a", "b") {
		t.Fatalf("combined hash is not stable")
	}
}
