package action

import (
	"errors"
	"fmt"
)

// Code is a stable error code surfaced to the operator.
type Code string

const (
	// CodeTarget marks a missing or uncalibrated drag target.
	CodeTarget Code = "E001"
	// CodeKeys marks a keypress with no keys or a disallowed combination.
	CodeKeys Code = "E002"
	// CodeMalformed marks a payload that could not be parsed into an action.
	CodeMalformed Code = "E003"
	// CodeExecution marks a failure while dispatching input.
	CodeExecution Code = "E004"
)

// Error is a coded action failure. Msg always starts with the code.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so callers can write
// errors.Is(err, &action.Error{Code: action.CodeKeys}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(string(code)+": "+format, args...),
		Err:  cause,
	}
}

// Malformed wraps cause as an E003 parse failure.
func Malformed(cause error) *Error {
	return newError(CodeMalformed, cause, "Failed to parse action payload")
}

// ExecutionFailed wraps cause as an E004 dispatch failure.
func ExecutionFailed(cause error) *Error {
	return newError(CodeExecution, cause, "Action execution failed.")
}

// CodeOf extracts the code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
