package agiclient

import "fmt"

// AGIError is the single error type surfaced at the session boundary: every
// wire-level failure (bad status code, socket error, malformed response) is
// normalized into this rather than a grab-bag of command-specific exceptions.
type AGIError struct {
	Command string
	Code    int
	Err     error
}

func (e *AGIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agiclient: %s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("agiclient: %s: status %d", e.Command, e.Code)
}

func (e *AGIError) Unwrap() error { return e.Err }

func newStatusError(command string, code int) error {
	return &AGIError{Command: command, Code: code}
}

func wrapError(command string, err error) error {
	return &AGIError{Command: command, Err: err}
}
