package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"emojimk/internal/config"
	"emojimk/internal/core"
	"emojimk/internal/dag"
	"emojimk/internal/state"
)

type panicExecutor struct{}

func (panicExecutor) Run(context.Context, *dag.Executor, int) (*dag.GraphResult, error) {
	panic("boom")
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

// utilityProject sets up the waveflag build with a stand-in compiler.
func utilityProject(t *testing.T, cc string) Invocation {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "waveflag.c", "int main(void) { return 0; }\n")
	writeFile(t, dir, "cc.sh", `cp "$1" "$3"`+"\n")
	return Invocation{
		WorkDir:    dir,
		ConfigFile: filepath.Join(dir, DefaultConfigFile),
		Jobs:       1,
		Assignments: []Assignment{
			{Name: config.CC, Value: cc},
			{Name: config.CFlags, Value: ""},
			{Name: config.LDFlags, Value: ""},
		},
		Goals: []string{"waveflag"},
	}
}

func TestExecute_BuildsUtility(t *testing.T) {
	inv := utilityProject(t, "sh cc.sh")
	var out bytes.Buffer

	res, err := Execute(context.Background(), inv, Streams{Stdout: &out})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != ExitSuccess {
		t.Fatalf("expected exit %d got %d", ExitSuccess, res.ExitCode)
	}
	if _, err := os.Stat(filepath.Join(inv.WorkDir, "waveflag")); err != nil {
		t.Fatalf("expected waveflag built: %v", err)
	}
	if !strings.Contains(out.String(), "sh cc.sh waveflag.c -o waveflag") {
		t.Fatalf("recipe not echoed: %q", out.String())
	}
}

func TestExecute_ExitCodeCommandFailure(t *testing.T) {
	inv := utilityProject(t, "sh -c 'exit 7'")
	inv.TracePath = filepath.Join(inv.WorkDir, "trace.json")

	res, err := Execute(context.Background(), inv, Streams{})
	if !errors.Is(err, dag.ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
	if res.ExitCode != ExitCommandFailed {
		t.Fatalf("expected exit %d got %d", ExitCommandFailed, res.ExitCode)
	}
	if _, err := os.Stat(inv.TracePath); err != nil {
		t.Fatalf("expected trace file exists: %v", err)
	}
	if res.TraceHash == "" {
		t.Fatalf("expected trace hash")
	}

	st, _ := state.NewStore(inv.WorkDir)
	f, err := st.LoadFailure()
	if err != nil {
		t.Fatalf("LoadFailure: %v", err)
	}
	if f.FailureClass != state.FailureClassCommandFailure || f.Target != "waveflag" || f.ExitCode != 7 || f.Rule != "utility-build" {
		t.Fatalf("unexpected failure record: %#v", f)
	}
}

func TestExecute_SuccessClearsFailure(t *testing.T) {
	inv := utilityProject(t, "sh -c 'exit 7'")
	if res, _ := Execute(context.Background(), inv, Streams{}); res.ExitCode != ExitCommandFailed {
		t.Fatalf("expected failure first, got %d", res.ExitCode)
	}

	inv.Assignments[0].Value = "sh cc.sh"
	if res, err := Execute(context.Background(), inv, Streams{}); err != nil || res.ExitCode != ExitSuccess {
		t.Fatalf("expected success, got %d %v", res.ExitCode, err)
	}
	st, _ := state.NewStore(inv.WorkDir)
	if _, err := st.LoadFailure(); !errors.Is(err, state.ErrNoFailure) {
		t.Fatalf("expected journal cleared, got %v", err)
	}
}

func TestExecute_LastFailure(t *testing.T) {
	inv := utilityProject(t, "sh -c 'exit 7'")
	_, _ = Execute(context.Background(), inv, Streams{})

	var out bytes.Buffer
	res, err := Execute(context.Background(), Invocation{WorkDir: inv.WorkDir, LastFailure: true}, Streams{Stdout: &out})
	if err != nil || res.ExitCode != ExitSuccess {
		t.Fatalf("unexpected result %d %v", res.ExitCode, err)
	}
	for _, want := range []string{"command-failure", "waveflag", "utility-build"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("summary %q does not mention %q", out.String(), want)
		}
	}

	out.Reset()
	_, _ = Execute(context.Background(), Invocation{WorkDir: t.TempDir(), LastFailure: true}, Streams{Stdout: &out})
	if !strings.Contains(out.String(), "no failure recorded") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestExecute_DryRunRunsNothing(t *testing.T) {
	inv := utilityProject(t, "sh -c 'exit 7'")
	inv.DryRun = true
	var out bytes.Buffer

	res, err := Execute(context.Background(), inv, Streams{Stdout: &out})
	if err != nil || res.ExitCode != ExitSuccess {
		t.Fatalf("dry run failed: %d %v", res.ExitCode, err)
	}
	if !strings.Contains(out.String(), "exit 7") {
		t.Fatalf("dry run did not echo the recipe: %q", out.String())
	}
	st, _ := state.NewStore(inv.WorkDir)
	if _, err := st.LoadFailure(); !errors.Is(err, state.ErrNoFailure) {
		t.Fatalf("dry run must not touch the journal, got %v", err)
	}
}

func TestExecute_ConfigErrors(t *testing.T) {
	cases := map[string]func(t *testing.T, inv *Invocation){
		"unknown assignment": func(t *testing.T, inv *Invocation) {
			inv.Assignments = append(inv.Assignments, Assignment{Name: "NOPE", Value: "1"})
		},
		"recursive variable": func(t *testing.T, inv *Invocation) {
			inv.Assignments = append(inv.Assignments, Assignment{Name: config.Python, Value: "$(PYTHON)3"})
		},
		"malformed config file": func(t *testing.T, inv *Invocation) {
			writeFile(t, inv.WorkDir, DefaultConfigFile, `{"EMOJI": `)
		},
		"missing explicit config file": func(t *testing.T, inv *Invocation) {
			inv.ConfigFile = filepath.Join(inv.WorkDir, "absent.json")
			inv.ConfigRequired = true
		},
		"invalid glyph image name": func(t *testing.T, inv *Invocation) {
			writeFile(t, inv.WorkDir, "png/128/emoji_uXYZ.png", "x")
		},
		"missing source": func(t *testing.T, inv *Invocation) {
			inv.Goals = []string{"png/64/emoji_u1F600.png"}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			inv := utilityProject(t, "sh cc.sh")
			mutate(t, &inv)

			res, err := Execute(context.Background(), inv, Streams{})
			if err == nil {
				t.Fatalf("expected error")
			}
			if res.ExitCode != ExitConfigError {
				t.Fatalf("expected exit %d got %d (%v)", ExitConfigError, res.ExitCode, err)
			}
			st, _ := state.NewStore(inv.WorkDir)
			f, lerr := st.LoadFailure()
			if lerr != nil {
				t.Fatalf("failure not recorded: %v", lerr)
			}
			if f.FailureClass == state.FailureClassSystem || f.FailureClass == state.FailureClassCommandFailure {
				t.Fatalf("unexpected class %s", f.FailureClass)
			}
		})
	}
}

func TestExecute_Panic_ExitCodeInternalAndTraceFinalized(t *testing.T) {
	inv := utilityProject(t, "sh cc.sh")
	inv.TracePath = filepath.Join(inv.WorkDir, "trace.json")

	res, err := ExecuteWithExecutor(context.Background(), inv, Streams{}, panicExecutor{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.ExitCode != ExitInternalError {
		t.Fatalf("expected exit %d got %d", ExitInternalError, res.ExitCode)
	}

	b, err := os.ReadFile(inv.TracePath)
	if err != nil {
		t.Fatalf("expected trace file exists: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("expected trace JSON: %v", err)
	}
	if decoded["graphHash"] == "" || decoded["graphHash"] == nil {
		t.Fatalf("expected graphHash in trace")
	}
}

func TestExecute_NilExecutor(t *testing.T) {
	res, err := ExecuteWithExecutor(context.Background(), Invocation{WorkDir: t.TempDir()}, Streams{}, nil)
	if err == nil || res.ExitCode != ExitInternalError {
		t.Fatalf("expected internal error, got %d %v", res.ExitCode, err)
	}
}

func TestExecute_CancelledBuildExitsInterrupted(t *testing.T) {
	inv := utilityProject(t, "sh cc.sh")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Execute(ctx, inv, Streams{})
	if !errors.Is(err, ErrInterrupted) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if res.ExitCode != ExitInterrupted {
		t.Fatalf("expected exit %d got %d", ExitInterrupted, res.ExitCode)
	}
	if _, err := os.Stat(filepath.Join(inv.WorkDir, "waveflag")); !os.IsNotExist(err) {
		t.Fatalf("cancelled build produced waveflag")
	}
	st, _ := state.NewStore(inv.WorkDir)
	if _, err := st.LoadFailure(); !errors.Is(err, state.ErrNoFailure) {
		t.Fatalf("interruption must not be journaled, got %v", err)
	}
}

func TestExecute_DebugLogShowsVariableOrigins(t *testing.T) {
	var logs bytes.Buffer
	l := logrus.New()
	l.SetOutput(&logs)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableQuote: true})
	core.SetLogger(l)
	t.Cleanup(func() { core.SetLogger(nil) })

	inv := utilityProject(t, "sh cc.sh")
	if res, err := Execute(context.Background(), inv, Streams{}); err != nil || res.ExitCode != ExitSuccess {
		t.Fatalf("unexpected result %d %v", res.ExitCode, err)
	}
	for _, want := range []string{
		"msg=sh cc.sh origin=command line variable=CC",
		"msg=ttx origin=default variable=TTX",
		"rule=utility-build",
	} {
		if !strings.Contains(logs.String(), want) {
			t.Fatalf("debug log missing %q:\n%s", want, logs.String())
		}
	}
}
