package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Runner decides whether a task is stale and runs its recipe.
type Runner struct {
	// WorkingDir is the build directory.
	WorkingDir string

	// Stater answers timestamp queries. Defaults to OSStater{WorkingDir}.
	Stater Stater

	// Executor runs recipe lines.
	Executor *Executor

	// Echo receives each recipe line before it runs, unless the line is
	// prefixed with '@'. Nil disables echo.
	Echo io.Writer

	// DryRun echoes commands without running them.
	DryRun bool
}

// NewRunner creates a Runner for workingDir backed by the live filesystem.
func NewRunner(workingDir string) *Runner {
	return &Runner{
		WorkingDir: workingDir,
		Stater:     OSStater{BaseDir: workingDir},
		Executor:   NewExecutor(workingDir),
	}
}

// RunResult contains the result of running a task.
type RunResult struct {
	// Stdout and Stderr accumulate the output of every line that ran.
	Stdout []byte
	Stderr []byte

	// ExitCode is the exit status of the failing line, or 0.
	// A failed Action is reported as exit code 1.
	ExitCode int

	// FailedCommand is the line (or "<rule> action") that failed.
	FailedCommand string

	// TargetRemoved is set when a failure deleted the partial target.
	TargetRemoved bool

	// Commands lists the lines that were run or, in dry-run mode, echoed.
	Commands []string
}

// Failed reports whether the task failed.
func (r *RunResult) Failed() bool { return r.ExitCode != 0 }

// Probe reports whether task must run. depsRebuilt tells the runner that at
// least one dependency was remade earlier in this build.
func (r *Runner) Probe(task *Task, depsRebuilt bool) (bool, Reason, error) {
	if task == nil {
		return false, "", fmt.Errorf("task is nil")
	}
	if task.Phony {
		return true, ReasonPhony, nil
	}

	// Target and dependencies are read into one snapshot per decision.
	snap, err := TakeSnapshot(r.stater(), append([]string{task.Name}, task.Deps...))
	if err != nil {
		return false, "", err
	}
	target, _ := snap.Stat(task.Name)
	deps := make([]Artifact, 0, len(task.Deps))
	for _, d := range task.Deps {
		a, _ := snap.Stat(d)
		deps = append(deps, a)
	}

	reason, culprit := Freshness(target, deps)
	if !reason.Stale() && depsRebuilt {
		reason = ReasonDependencyRebuilt
	}

	Logger().WithFields(logrus.Fields{
		"target": task.Name,
		"reason": reason,
	}).Debugf("freshness %s", culprit)

	return reason.Stale(), reason, nil
}

// Run executes the task's action or recipe lines in order, stopping at the
// first failure. On failure a non-phony target is removed so that it can
// never look fresh to a later build.
//
// A non-zero exit status is reported in RunResult, not as an error.
func (r *Runner) Run(ctx context.Context, task *Task) (*RunResult, error) {
	if err := r.validateTask(task); err != nil {
		return nil, err
	}

	res := &RunResult{}
	if task.Action != nil {
		if err := r.runAction(ctx, task, res); err != nil {
			return nil, err
		}
	} else {
		if err := r.runRecipe(ctx, task, res); err != nil {
			return nil, err
		}
	}

	if res.Failed() && !task.Phony && !r.DryRun {
		removed, err := r.RemoveTarget(task.Name)
		if err != nil {
			return nil, err
		}
		res.TargetRemoved = removed
	}
	return res, nil
}

func (r *Runner) runAction(ctx context.Context, task *Task, res *RunResult) error {
	desc := fmt.Sprintf("%s action", task.Rule)
	res.Commands = append(res.Commands, desc)
	if r.DryRun {
		r.echo(fmt.Sprintf("# %s %s", desc, task.Name))
		return nil
	}

	var stdout, stderr bytes.Buffer
	b := &Binding{
		Rule:    task.Rule,
		Target:  task.Name,
		Deps:    append([]string(nil), task.Deps...),
		Stem:    task.Stem,
		WorkDir: r.WorkingDir,
		Stdout:  teeTo(&stdout, r.executor().Stdout),
		Stderr:  teeTo(&stderr, r.executor().Stderr),
	}
	err := task.Action(ctx, b)
	res.Stdout = stdout.Bytes()
	res.Stderr = stderr.Bytes()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("execution cancelled: %w", ctxErr)
		}
		fmt.Fprintf(b.Stderr, "emojimk: %s: %v\n", task.Name, err)
		res.Stderr = stderr.Bytes()
		res.ExitCode = 1
		res.FailedCommand = desc
	}
	return nil
}

func (r *Runner) runRecipe(ctx context.Context, task *Task, res *RunResult) error {
	for _, raw := range task.Recipe {
		line, silent, ignore := parsePrefixes(raw)
		if line == "" {
			continue
		}
		res.Commands = append(res.Commands, line)

		// Dry run echoes silent lines too, as make -n does.
		if !silent || r.DryRun {
			r.echo(line)
		}
		if r.DryRun {
			continue
		}

		out, err := r.executor().Execute(ctx, line, task.Env)
		if err != nil {
			return fmt.Errorf("running %q for %s: %w", line, task.Name, err)
		}
		res.Stdout = append(res.Stdout, out.Stdout...)
		res.Stderr = append(res.Stderr, out.Stderr...)

		if out.ExitCode != 0 {
			if ignore {
				Logger().WithFields(logrus.Fields{
					"target": task.Name,
					"rule":   task.Rule,
				}).Infof("exit status %d ignored", out.ExitCode)
				continue
			}
			res.ExitCode = out.ExitCode
			res.FailedCommand = line
			return nil
		}
	}
	return nil
}

// RemoveTarget deletes path if it exists. Absent files are not an error.
func (r *Runner) RemoveTarget(path string) (bool, error) {
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(r.WorkingDir, filepath.FromSlash(path))
	}
	info, err := os.Lstat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %q: %w", path, err)
	}
	if info.IsDir() {
		return false, nil
	}
	if err := os.Remove(full); err != nil {
		return false, fmt.Errorf("removing %q: %w", path, err)
	}
	Logger().WithField("target", path).Info("deleted partial target")
	return true, nil
}

// parsePrefixes strips any mix of leading '@', '-' and '+' markers.
func parsePrefixes(raw string) (line string, silent, ignore bool) {
	line = strings.TrimSpace(raw)
	for line != "" {
		switch line[0] {
		case '@':
			silent = true
		case '-':
			ignore = true
		case '+':
		default:
			return line, silent, ignore
		}
		line = strings.TrimSpace(line[1:])
	}
	return line, silent, ignore
}

func (r *Runner) validateTask(task *Task) error {
	if task == nil {
		return fmt.Errorf("task is nil")
	}
	if task.Name == "" {
		return fmt.Errorf("task name is required")
	}
	return nil
}

func (r *Runner) echo(line string) {
	if r.Echo != nil {
		fmt.Fprintln(r.Echo, line)
	}
}

func (r *Runner) stater() Stater {
	if r.Stater != nil {
		return r.Stater
	}
	return OSStater{BaseDir: r.WorkingDir}
}

func (r *Runner) executor() *Executor {
	if r.Executor != nil {
		return r.Executor
	}
	return NewExecutor(r.WorkingDir)
}
