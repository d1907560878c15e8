package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/martinemde/puding/sandbox"
)

// ErrorKind classifies a failed tool execution.
type ErrorKind string

const (
	KindSandboxViolation ErrorKind = "sandbox_violation"
	KindValidation       ErrorKind = "validation"
	KindTimeout          ErrorKind = "timeout"
	KindExecution        ErrorKind = "execution"
	KindUnknownTool      ErrorKind = "unknown_tool"
)

// Result is the outcome of a tool execution. Failures are data, never
// errors returned past Registry.Execute.
type Result struct {
	Tool    string    `json:"tool"`
	OK      bool      `json:"success"`
	Payload any       `json:"result,omitempty"`
	Error   string    `json:"error,omitempty"`
	Kind    ErrorKind `json:"error_kind,omitempty"`
}

// Success creates a successful Result.
func Success(tool string, payload any) Result {
	return Result{Tool: tool, OK: true, Payload: payload}
}

// Failure creates a failed Result.
func Failure(tool string, kind ErrorKind, msg string) Result {
	return Result{Tool: tool, Kind: kind, Error: msg}
}

// JSON renders the result as the text handed back to the model.
func (r Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		fallback, _ := json.Marshal(Failure(r.Tool, KindExecution, fmt.Sprintf("Error encoding %s result: %v", r.Tool, err)))
		return string(fallback)
	}
	return string(data)
}

// ValidationError reports a request the tool refuses: a missing or oversized
// file, a non-text file, a bad edit target or malformed arguments.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func invalidf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// TimeoutError reports a command that outlived its deadline.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Command '%s' timed out after %s", e.Command, e.Timeout)
}

// classify maps a handler error onto a failed Result.
func classify(tool string, err error) Result {
	var (
		verr *ValidationError
		terr *TimeoutError
	)
	switch {
	case errors.Is(err, sandbox.ErrOutsideRoot), errors.Is(err, sandbox.ErrEmptyPath):
		return Failure(tool, KindSandboxViolation, err.Error())
	case errors.As(err, &verr):
		return Failure(tool, KindValidation, verr.Msg)
	case errors.As(err, &terr):
		return Failure(tool, KindTimeout, terr.Error())
	default:
		return Failure(tool, KindExecution, fmt.Sprintf("Error executing %s: %v", tool, err))
	}
}
