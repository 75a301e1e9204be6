package login

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by the runner matches exactly one of
// them with errors.Is.
var (
	ErrMissingCredentials  = errors.New("missing credentials")
	ErrVerificationTimeout = errors.New("login verification timed out")
	ErrUnexpected          = errors.New("unexpected error")
)

// ErrUnexpectedLanding is the cause used when strict URL checking rejects a
// login that found the success element on a page outside the dashboard.
var ErrUnexpectedLanding = errors.New("logged in page is not the dashboard")

// Step names the part of the flow an error came from.
type Step string

const (
	StepCredentials Step = "credentials"
	StepLaunch      Step = "launch"
	StepNavigate    Step = "navigate"
	StepFillEmail   Step = "fill email"
	StepFillPass    Step = "fill password"
	StepSubmit      Step = "submit"
	StepVerify      Step = "verify"
)

// Error is a runner failure. errors.Is matches both its kind and its cause.
type Error struct {
	Kind  error
	Step  Step
	Cause error
}

func newError(kind error, step Step, cause error) *Error {
	return &Error{Kind: kind, Step: step, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %v", e.Step, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Step, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	return e.Kind == target
}
