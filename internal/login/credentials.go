package login

import (
	"errors"
	"strings"
)

// Credentials are the account secrets. They are never persisted and String
// never reveals them.
type Credentials struct {
	Email    string
	Password string
}

// Validate fails with ErrMissingCredentials when either value is empty or
// whitespace only, naming the environment variables to set.
func (c Credentials) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Email) == "" {
		missing = append(missing, "QC_EMAIL")
	}
	if strings.TrimSpace(c.Password) == "" {
		missing = append(missing, "QC_PASSWORD")
	}
	if len(missing) == 0 {
		return nil
	}

	return newError(ErrMissingCredentials, StepCredentials,
		errors.New(strings.Join(missing, " and ")+" not set"))
}

func (c Credentials) String() string {
	return "Credentials{Email: [REDACTED], Password: [REDACTED]}"
}

// GoString keeps %#v from printing the fields.
func (c Credentials) GoString() string {
	return c.String()
}
