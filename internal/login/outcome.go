package login

import (
	"errors"
	"time"
)

// Status is the result class of one run.
type Status int

const (
	StatusSuccess Status = iota
	StatusMissingCredentials
	StatusTimedOut
	StatusUnexpectedError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusMissingCredentials:
		return "missing_credentials"
	case StatusTimedOut:
		return "timed_out"
	case StatusUnexpectedError:
		return "unexpected_error"
	default:
		return "unknown"
	}
}

// Outcome reports a finished run.
type Outcome struct {
	Status         Status
	URL            string // final page URL, if a page was open
	ScreenshotPath string // set only when a failure screenshot was written
	Err            error
	StartedAt      time.Time
	Duration       time.Duration
}

// OK reports whether the login was verified.
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

// ExitCode maps the outcome onto a process exit status. Every failure kind is 1.
func (o Outcome) ExitCode() int {
	if o.OK() {
		return 0
	}
	return 1
}

func statusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrMissingCredentials):
		return StatusMissingCredentials
	case errors.Is(err, ErrVerificationTimeout):
		return StatusTimedOut
	default:
		return StatusUnexpectedError
	}
}
