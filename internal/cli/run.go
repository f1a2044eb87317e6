package cli

import "context"

// Run is a high-level CLI entrypoint suitable for black-box tests.
// It accepts the argument slice (excluding argv[0]) and the directory that
// stands in for the process working directory, and returns the semantic
// exit code plus any error.
func Run(ctx context.Context, args []string, defaultWorkDir string, streams Streams) (CLIResult, error) {
	inv, err := ParseInvocation(args, defaultWorkDir)
	if err != nil {
		return CLIResult{ExitCode: ExitCode(err)}, err
	}
	return Execute(ctx, inv, streams)
}
