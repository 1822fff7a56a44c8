package wa

import (
	"context"
	"errors"
	"fmt"

	"github.com/DavidFlores79/whatsapp-ai-bridge/internal/ai"
)

// ErrorClass — failure classification surfaced to the outbound side.
// The executor never decides wording, only the class.
type ErrorClass string

const (
	ClassRateLimited       ErrorClass = "rate_limited"
	ClassConfigInvalid     ErrorClass = "config_invalid"
	ClassTimeout           ErrorClass = "timeout"
	ClassConflictExhausted ErrorClass = "conflict_exhausted"
	ClassToolLoopExhausted ErrorClass = "tool_loop_exhausted"
	ClassRemoteFailed      ErrorClass = "remote_failed"
)

// TurnError — typed result of a failed turn. Code carries the
// provider-reported error code for remote_failed classes.
type TurnError struct {
	Class ErrorClass
	Code  string
	Err   error
}

func (e *TurnError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("turn failed: %s (code=%s): %v", e.Class, e.Code, e.Err)
	}
	return fmt.Sprintf("turn failed: %s: %v", e.Class, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

func turnErr(class ErrorClass, err error) *TurnError {
	return &TurnError{Class: class, Err: err}
}

// classify maps a provider call failure onto an error class.
func classify(err error) *TurnError {
	switch {
	case errors.Is(err, ai.ErrRateLimited):
		return turnErr(ClassRateLimited, err)
	case errors.Is(err, ai.ErrInvalidConfig):
		return turnErr(ClassConfigInvalid, err)
	case errors.Is(err, context.DeadlineExceeded):
		return turnErr(ClassTimeout, err)
	default:
		return turnErr(ClassRemoteFailed, err)
	}
}

// ClassOf extracts the class from any turn error. Raw provider errors
// (session creation, for one) go through the same classification as
// executor failures, so callers always have something to report.
func ClassOf(err error) ErrorClass {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Class
	}
	return classify(err).Class
}
