package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"emojimk/internal/config"
)

const (
	ExitSuccess           = 0
	ExitCommandFailed     = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4

	// ExitInterrupted follows the shell convention for SIGINT.
	ExitInterrupted = 130
)

// DefaultConfigFile is read from the work dir when present and -f is not
// given.
const DefaultConfigFile = "emojimk.json"

// Assignment is a NAME=value argument.
type Assignment struct {
	Name  string
	Value string
}

// Invocation is the canonical description of one run.
//
// WorkDir is always absolute and every other path is resolved against it,
// so nothing downstream consults the process working directory.
type Invocation struct {
	WorkDir string

	// ConfigFile is the variable file to load. ConfigRequired is set when
	// it was named with -f and must exist.
	ConfigFile     string
	ConfigRequired bool

	Jobs    int
	DryRun  bool
	Silent  bool
	Verbose bool

	// TracePath is empty when no trace is requested.
	TracePath string

	// LastFailure prints the failure journal instead of building.
	LastFailure bool

	Assignments []Assignment
	Goals       []string
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// usage is printed for -h.
const usage = `usage: emojimk [flags] [NAME=value ...] [goal ...]

Builds the color emoji font. The default goal is "all"; other goals are
"clean", "check", "stems" or any file the rules can make.
`

func newFlagSet(inv *Invocation, workDir, configFile, tracePath *string) *flag.FlagSet {
	fs := flag.NewFlagSet("emojimk", flag.ContinueOnError)
	fs.SetOutput(io.Discard) // parsing errors are returned, not printed

	fs.StringVar(workDir, "C", "", "Change to `dir` before doing anything.")
	fs.StringVar(configFile, "f", "", "Read build variables from the JSON `file`.")
	fs.IntVar(&inv.Jobs, "j", 1, "Run up to `N` recipes at once.")
	fs.BoolVar(&inv.DryRun, "n", false, "Print the commands that would run, without running them.")
	fs.BoolVar(&inv.Silent, "s", false, "Do not echo commands; log warnings only.")
	fs.BoolVar(&inv.Verbose, "v", false, "Log planning and freshness decisions.")
	fs.StringVar(tracePath, "trace", "", "Write the execution trace to `path`.")
	fs.BoolVar(&inv.LastFailure, "last-failure", false, "Print the last recorded build failure and exit.")
	return fs
}

// Usage writes the command line help to w.
func Usage(w io.Writer) {
	var inv Invocation
	var a, b, c string
	fs := newFlagSet(&inv, &a, &b, &c)
	fs.SetOutput(w)
	fmt.Fprint(w, usage)
	fs.PrintDefaults()
}

// ErrHelp is returned when -h or -help was requested.
var ErrHelp = flag.ErrHelp

// ParseInvocation parses the command line.
//
// Flags may be interleaved with positional arguments, as make allows, up
// to a "--" argument.
// Positional arguments containing '=' are variable assignments; the rest
// are goals. defaultWorkDir is used when -C is absent and anchors a
// relative -C.
func ParseInvocation(args []string, defaultWorkDir string) (Invocation, error) {
	var inv Invocation
	var workDir, configFile, tracePath string
	fs := newFlagSet(&inv, &workDir, &configFile, &tracePath)

	var positional []string
	rest := args
	for {
		if err := fs.Parse(rest); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return Invocation{}, err
			}
			return Invocation{}, invalidInvocationf("%v", err)
		}
		if fs.NArg() == 0 {
			break
		}
		// Everything after "--" is positional.
		if consumed := len(rest) - fs.NArg(); consumed > 0 && rest[consumed-1] == "--" {
			positional = append(positional, fs.Args()...)
			break
		}
		positional = append(positional, fs.Arg(0))
		rest = fs.Args()[1:]
	}

	if inv.Jobs < 1 {
		return Invocation{}, invalidInvocationf("-j must be at least 1 (got %d)", inv.Jobs)
	}
	if inv.Silent && inv.Verbose {
		return Invocation{}, invalidInvocationf("-s and -v are mutually exclusive")
	}

	if !filepath.IsAbs(defaultWorkDir) {
		return Invocation{}, invalidInvocationf("default work dir must be absolute (got %q)", defaultWorkDir)
	}
	switch {
	case workDir == "":
		inv.WorkDir = filepath.Clean(defaultWorkDir)
	case filepath.IsAbs(workDir):
		inv.WorkDir = filepath.Clean(workDir)
	default:
		inv.WorkDir = filepath.Join(defaultWorkDir, workDir)
	}

	if configFile != "" {
		inv.ConfigFile = resolveUnderWorkDir(inv.WorkDir, configFile)
		inv.ConfigRequired = true
	} else {
		inv.ConfigFile = filepath.Join(inv.WorkDir, DefaultConfigFile)
	}
	if strings.TrimSpace(tracePath) != "" {
		inv.TracePath = resolveUnderWorkDir(inv.WorkDir, tracePath)
	}

	for _, arg := range positional {
		if name, value, ok := config.ParseAssignment(arg); ok {
			inv.Assignments = append(inv.Assignments, Assignment{Name: name, Value: value})
			continue
		}
		if strings.Contains(arg, "=") {
			return Invocation{}, invalidInvocationf("malformed assignment %q", arg)
		}
		if strings.TrimSpace(arg) == "" {
			return Invocation{}, invalidInvocationf("empty goal")
		}
		inv.Goals = append(inv.Goals, arg)
	}

	if inv.LastFailure && (len(inv.Goals) > 0 || len(inv.Assignments) > 0) {
		return Invocation{}, invalidInvocationf("-last-failure takes no goals or assignments")
	}
	return inv, nil
}

func resolveUnderWorkDir(workDir, p string) string {
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(workDir, clean)
}

// configFileExists reports whether the default config file is present.
func configFileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ExitCode extracts a semantic exit code from a ParseInvocation error.
// If the error is not a known invocation error, it returns ExitInternalError.
func ExitCode(err error) int {
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if err == nil || errors.Is(err, ErrHelp) {
		return ExitSuccess
	}
	return ExitInternalError
}
