package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"emojimk/internal/cli"
	"emojimk/internal/core"
)

// main resolves the process working directory once and hands it to the
// CLI; nothing below this point consults the process state again.
func main() {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "emojimk:", err)
		os.Exit(cli.ExitInternalError)
	}

	inv, err := cli.ParseInvocation(os.Args[1:], wd)
	if err != nil {
		if errors.Is(err, cli.ErrHelp) {
			cli.Usage(os.Stdout)
			os.Exit(cli.ExitSuccess)
		}
		var invErr *cli.InvocationError
		if errors.As(err, &invErr) {
			fmt.Fprintln(os.Stderr, "emojimk:", invErr.Message)
			os.Exit(invErr.ExitCode)
		}
		fmt.Fprintln(os.Stderr, "emojimk:", err)
		os.Exit(cli.ExitInternalError)
	}

	core.SetLogger(newLogger(inv))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	result, execErr := cli.Execute(ctx, inv, cli.Streams{Stdout: os.Stdout, Stderr: os.Stderr})
	stop()
	if execErr != nil {
		fmt.Fprintln(os.Stderr, "emojimk: ***", execErr)
	}
	os.Exit(result.ExitCode)
}

func newLogger(inv cli.Invocation) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	switch {
	case inv.Verbose:
		l.SetLevel(logrus.DebugLevel)
	case inv.Silent:
		l.SetLevel(logrus.WarnLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}
