package domain

import (
	"context"
	"errors"
)

// Error taxonomy. Structural errors (alignment, gap policy, config, leakage)
// abort a run; statistical errors are isolated to one forecast window.
var (
	ErrAlignment        = errors.New("alignment error")
	ErrGapPolicy        = errors.New("gap policy error")
	ErrConfig           = errors.New("config error")
	ErrInsufficientData = errors.New("insufficient data")
	ErrNonConvergence   = errors.New("non-convergence")
	ErrHorizonMismatch  = errors.New("horizon mismatch")
	ErrFit              = errors.New("fit error")
	ErrLeakage          = errors.New("leakage violation")
)

// ErrorKind names the taxonomy bucket of err, as recorded in skip records.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientData):
		return "InsufficientDataError"
	case errors.Is(err, ErrNonConvergence):
		return "NonConvergenceError"
	case errors.Is(err, ErrHorizonMismatch):
		return "HorizonMismatchError"
	case errors.Is(err, ErrFit):
		return "FitError"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "TimeoutError"
	case errors.Is(err, ErrAlignment):
		return "AlignmentError"
	case errors.Is(err, ErrGapPolicy):
		return "GapPolicyError"
	case errors.Is(err, ErrConfig):
		return "ConfigError"
	case errors.Is(err, ErrLeakage):
		return "LeakageError"
	default:
		return "UnclassifiedError"
	}
}

// IsFatal reports whether err is structural and must abort the whole run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAlignment) ||
		errors.Is(err, ErrGapPolicy) ||
		errors.Is(err, ErrConfig) ||
		errors.Is(err, ErrLeakage)
}
