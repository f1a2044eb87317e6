package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"emojimk/internal/config"
	"emojimk/internal/core"
	"emojimk/internal/dag"
	"emojimk/internal/emoji"
	"emojimk/internal/state"
	"emojimk/internal/trace"
)

// GraphExecutor runs a prepared dag.Executor.
//
// This allows the CLI to prove exit-code mapping (including panic) in tests
// without depending on specific executor internals.
type GraphExecutor interface {
	Run(ctx context.Context, exec *dag.Executor, jobs int) (*dag.GraphResult, error)
}

type defaultGraphExecutor struct{}

func (defaultGraphExecutor) Run(ctx context.Context, exec *dag.Executor, jobs int) (*dag.GraphResult, error) {
	if jobs > 1 {
		return exec.RunParallel(ctx, jobs)
	}
	return exec.RunSerial(ctx)
}

// Streams are where recipe echo and tool output go.
type Streams struct {
	Stdout io.Writer
	Stderr io.Writer
}

type CLIResult struct {
	ExitCode int

	// Plans holds one plan per goal that was planned, in goal order.
	Plans []*dag.Plan

	// GraphResult merges the evaluations of every goal that ran.
	GraphResult *dag.GraphResult

	// TraceHash is set when a trace file was written.
	TraceHash string
}

// ErrInterrupted is returned when the build is cancelled, usually by a signal.
var ErrInterrupted = errors.New("interrupted")

// Execute is the default entrypoint for running a canonical invocation.
func Execute(ctx context.Context, inv Invocation, streams Streams) (CLIResult, error) {
	return ExecuteWithExecutor(ctx, inv, streams, defaultGraphExecutor{})
}

// ExecuteWithExecutor maps an Invocation to a build.
//
// Responsibilities:
//   - Layer the build variables (defaults, file, assignments).
//   - Enumerate glyph stems and declare the rule table.
//   - Plan and evaluate each goal in request order, stopping at the first
//     failure. A target made for one goal is not remade for a later one.
//   - Write the trace, even when the build fails or panics.
//   - Keep the failure journal current and translate outcomes to exit codes.
func ExecuteWithExecutor(ctx context.Context, inv Invocation, streams Streams, executor GraphExecutor) (res CLIResult, execErr error) {
	res.ExitCode = ExitInternalError
	if executor == nil {
		return res, fmt.Errorf("nil executor")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	stdout, stderr := lockedStreams(streams)

	st, err := state.NewStore(inv.WorkDir)
	if err != nil {
		return res, err
	}
	if inv.LastFailure {
		return printLastFailure(st, stdout)
	}

	goals := inv.Goals
	if len(goals) == 0 {
		goals = []string{emoji.DefaultGoal}
	}

	// The journal only follows real builds.
	rec := &state.FailureRecorder{Store: st}
	fail := func(code int, graphHash string, err error) (CLIResult, error) {
		res.ExitCode = code
		if !inv.DryRun {
			if jerr := rec.RecordFailure(goals, graphHash, err); jerr != nil {
				core.Logger().WithError(jerr).Warn("could not record failure")
			}
		}
		return res, err
	}

	cfg, err := loadConfig(inv)
	if err != nil {
		return fail(exitCodeFor(err), "", err)
	}

	stems, err := emoji.EnumerateStems(core.NewInputResolver(inv.WorkDir), cfg.MustGet(config.EmojiPNG128))
	if err != nil {
		return fail(exitCodeFor(err), "", err)
	}
	table, err := emoji.NewTable(cfg, stems)
	if err != nil {
		return fail(exitCodeFor(err), "", err)
	}
	for _, r := range table.Rules() {
		core.Logger().WithField("rule", r.Name).Debugf("%s: %s", r.Target, strings.Join(r.Deps, " "))
	}

	runner := core.NewRunner(inv.WorkDir)
	runner.DryRun = inv.DryRun
	runner.Executor.Stdout = stdout
	runner.Executor.Stderr = stderr
	if !inv.Silent {
		runner.Echo = stdout
	}
	adapter, err := dag.NewCoreRunner(runner)
	if err != nil {
		return res, err
	}
	planner := dag.NewPlanner(table, inv.WorkDir)

	// One trace spans every goal.
	tr := trace.NewRecorder()
	var hashes []dag.GraphHash
	buildHash := func() string {
		if len(hashes) == 0 {
			return ""
		}
		return dag.CombineHashes(hashes...).String()
	}
	defer func() {
		if inv.TracePath == "" || len(hashes) == 0 {
			return
		}
		h, terr := tr.WriteFile(inv.TracePath, buildHash())
		if terr != nil {
			if execErr == nil {
				execErr = terr
				res.ExitCode = ExitInternalError
			}
			return
		}
		res.TraceHash = h
	}()

	made := make(map[string]bool)
	var results []*dag.GraphResult
	for _, goal := range goals {
		plan, err := planner.Plan([]string{goal})
		if err != nil {
			return fail(exitCodeFor(err), buildHash(), err)
		}
		res.Plans = append(res.Plans, plan)
		for _, g := range plan.NothingToDo {
			fmt.Fprintf(stdout, "emojimk: Nothing to be done for '%s'.\n", g)
		}
		if plan.Graph == nil {
			continue
		}
		hashes = append(hashes, plan.Graph.Hash())

		exec, err := dag.NewExecutor(plan.Graph, adapter)
		if err != nil {
			return fail(exitCodeFor(err), buildHash(), err)
		}
		exec.Trace = tr
		exec.Made = made

		core.Logger().WithFields(logrus.Fields{
			"goal": goal,
			"jobs": inv.Jobs,
		}).Debugf("evaluating %d tasks", plan.Graph.Len())

		gr, runErr := runGraph(ctx, executor, exec, inv.Jobs)
		if gr != nil {
			results = append(results, gr)
			res.GraphResult = dag.MergeResults(results...)
		}
		if ctx.Err() != nil {
			res.ExitCode = ExitInterrupted
			return res, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		}
		if runErr != nil {
			return fail(ExitInternalError, buildHash(), runErr)
		}
		if err := gr.Err(); err != nil {
			return fail(ExitCommandFailed, buildHash(), err)
		}
		for name, s := range gr.FinalState {
			if s == dag.TaskCompleted {
				made[name] = true
			}
		}
	}

	res.ExitCode = ExitSuccess
	if !inv.DryRun {
		if err := rec.RecordSuccess(); err != nil {
			core.Logger().WithError(err).Warn("could not clear failure journal")
		}
	}
	return res, nil
}

// runGraph converts a panic in the executor into an internal error.
func runGraph(ctx context.Context, executor GraphExecutor, exec *dag.Executor, jobs int) (gr *dag.GraphResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			gr = nil
			err = fmt.Errorf("internal error: panic: %v", r)
		}
	}()
	gr, err = executor.Run(ctx, exec, jobs)
	if err == nil && gr == nil {
		err = errors.New("executor returned no result")
	}
	return gr, err
}

// loadConfig layers defaults, the variable file and NAME=value assignments.
func loadConfig(inv Invocation) (*config.Config, error) {
	cfg := config.New()
	if inv.ConfigRequired || configFileExists(inv.ConfigFile) {
		if err := cfg.LoadFile(inv.ConfigFile); err != nil {
			return nil, err
		}
	}
	for _, a := range inv.Assignments {
		if err := cfg.Set(a.Name, a.Value, "command line"); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	vals, err := cfg.Snapshot()
	if err != nil {
		return nil, err
	}
	for _, name := range config.Names() {
		core.Logger().WithFields(logrus.Fields{
			"variable": name,
			"origin":   cfg.Origin(name),
		}).Debug(vals[name])
	}
	return cfg, nil
}

func printLastFailure(st *state.Store, w io.Writer) (CLIResult, error) {
	f, err := st.LoadFailure()
	if errors.Is(err, state.ErrNoFailure) {
		fmt.Fprintln(w, "emojimk: no failure recorded")
		return CLIResult{ExitCode: ExitSuccess}, nil
	}
	if err != nil {
		return CLIResult{ExitCode: ExitInternalError}, err
	}
	fmt.Fprint(w, f.Summary())
	return CLIResult{ExitCode: ExitSuccess}, nil
}

// exitCodeFor maps errors raised before evaluation.
func exitCodeFor(err error) int {
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return ExitCode(err)
	}
	switch state.Classify(err) {
	case state.FailureClassCommandFailure:
		return ExitCommandFailed
	case state.FailureClassMissingSource, state.FailureClassCycle,
		state.FailureClassInvalidGraph, state.FailureClassConfig:
		return ExitConfigError
	default:
		return ExitInternalError
	}
}

// lockedWriter serializes writes from recipes running in parallel.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func lockedStreams(s Streams) (io.Writer, io.Writer) {
	mu := &sync.Mutex{}
	out, errw := s.Stdout, s.Stderr
	if out == nil {
		out = io.Discard
	}
	if errw == nil {
		errw = io.Discard
	}
	return lockedWriter{mu: mu, w: out}, lockedWriter{mu: mu, w: errw}
}
