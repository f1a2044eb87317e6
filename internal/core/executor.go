package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
)

// ExecutionResult contains the outcome of one recipe line.
type ExecutionResult struct {
	// Stdout is the captured standard output.
	Stdout []byte

	// Stderr is the captured standard error.
	Stderr []byte

	// ExitCode is the process exit code.
	// 0 indicates success, non-zero indicates failure.
	ExitCode int
}

// Executor runs single recipe lines through the shell.
//
// Recipes see the process environment with the task's variables layered on
// top, the way make exports variables to its sub-shells.
type Executor struct {
	// WorkingDir is the directory where commands are executed.
	WorkingDir string

	// Environ overrides the base environment. Nil means os.Environ().
	Environ []string

	// Stdout and Stderr, when set, receive the command output as it is
	// produced in addition to the captured copy.
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecutor creates a new Executor with the given working directory.
func NewExecutor(workingDir string) *Executor {
	return &Executor{WorkingDir: workingDir}
}

// Execute runs line with "sh -c".
//
// A non-zero exit status is reported through ExecutionResult.ExitCode, not as
// an error. An error means the command could not be run at all or ctx was
// cancelled; on cancellation the whole process group is killed.
func (e *Executor) Execute(ctx context.Context, line string, env map[string]string) (*ExecutionResult, error) {
	if strings.TrimSpace(line) == "" {
		return nil, fmt.Errorf("command line is empty")
	}

	cmd := exec.Command("sh", "-c", line)
	cmd.Dir = e.WorkingDir
	cmd.Env = mergeEnv(e.baseEnv(), env)

	// Own process group so cancellation reaches grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = teeTo(&stdout, e.Stdout)
	cmd.Stderr = teeTo(&stderr, e.Stderr)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
	case err = <-done:
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
		exitCode = exitErr.ExitCode()
		if exitCode < 0 {
			// Killed by a signal.
			exitCode = 128 + int(exitErr.Sys().(syscall.WaitStatus).Signal())
		}
	}

	return &ExecutionResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
	}, nil
}

func (e *Executor) baseEnv() []string {
	if e.Environ != nil {
		return e.Environ
	}
	return os.Environ()
}

func teeTo(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

// mergeEnv overlays vars onto base. The result is sorted by key so that the
// child environment does not depend on map iteration order.
func mergeEnv(base []string, vars map[string]string) []string {
	m := make(map[string]string, len(base)+len(vars))
	for _, kv := range base {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		m[k] = v
	}
	for k, v := range vars {
		m[k] = v
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}
