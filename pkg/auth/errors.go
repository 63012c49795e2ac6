package auth

import (
	"errors"
	"fmt"
)

// Failure kinds carried by StepFailure.Kind.
var (
	// ErrUIMismatch is a non-critical selector miss. The pipeline logs it
	// and continues.
	ErrUIMismatch = errors.New("ui mismatch")

	// ErrCriticalStep aborts the run: credentials could not be entered or
	// submitted, or the session could not be persisted.
	ErrCriticalStep = errors.New("critical step failure")

	// ErrChallengeTimeout aborts the run when a captcha or email challenge
	// outlived its wait window.
	ErrChallengeTimeout = errors.New("challenge timeout")

	// ErrExternalService is a solver or mailbox failure that persisted
	// through the poll window.
	ErrExternalService = errors.New("external service failure")

	// ErrSessionRestore is a failed restore. It never aborts a run.
	ErrSessionRestore = errors.New("session restore failure")
)

// StepFailure describes why a step stopped the pipeline.
type StepFailure struct {
	Step   string
	Kind   error
	Reason string
	Err    error

	// Screenshot is the diagnostic capture taken on failure, if any
	Screenshot string
}

func (f *StepFailure) Error() string {
	msg := fmt.Sprintf("auth: step %q failed", f.Step)
	if f.Reason != "" {
		msg += ": " + f.Reason
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (f *StepFailure) Unwrap() []error {
	var errs []error
	if f.Kind != nil {
		errs = append(errs, f.Kind)
	}
	if f.Err != nil {
		errs = append(errs, f.Err)
	}
	return errs
}

func fail(kind error, cause error, format string, args ...any) *StepFailure {
	return &StepFailure{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: cause}
}
