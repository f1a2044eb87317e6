package state

import (
	"errors"

	"emojimk/internal/config"
	"emojimk/internal/dag"
	"emojimk/internal/emoji"
	"emojimk/internal/rules"
)

// Classify maps an error onto the failure taxonomy. Unknown errors are
// system failures.
func Classify(err error) FailureClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, dag.ErrCommandFailed):
		return FailureClassCommandFailure
	case errors.Is(err, dag.ErrMissingSource):
		return FailureClassMissingSource
	case errors.Is(err, dag.ErrCycleFound):
		return FailureClassCycle
	case errors.Is(err, dag.ErrInvalidGraph):
		return FailureClassInvalidGraph
	case errors.Is(err, config.ErrUnknownVariable),
		errors.Is(err, config.ErrRecursiveVariable),
		errors.Is(err, config.ErrInvalidFile),
		errors.Is(err, rules.ErrInvalidRule),
		errors.Is(err, emoji.ErrInvalidStem):
		return FailureClassConfig
	default:
		return FailureClassSystem
	}
}

// failureFromError builds the Failure record for err.
func failureFromError(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}
	f := Failure{
		FailureClass: Classify(err),
		ErrorMessage: err.Error(),
	}

	var ce *dag.CommandError
	if errors.As(err, &ce) {
		f.Rule = ce.Rule
		f.Target = ce.Target
		f.Command = ce.Command
		f.ExitCode = ce.ExitCode
	}
	var ms *dag.MissingSourceError
	if errors.As(err, &ms) {
		f.Target = ms.Path
	}
	return f, nil
}
