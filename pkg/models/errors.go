package models

import (
	"errors"
	"fmt"
)

// Code is an error code surfaced at the service boundary.
type Code string

const (
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodePlanningFailure  Code = "PLANNING_FAILURE"
	CodeRecursionLimit   Code = "RECURSION_LIMIT_EXCEEDED"
	CodeStepLimit        Code = "STEP_LIMIT_EXCEEDED"
	CodeUnknownAgent     Code = "UNKNOWN_AGENT"
	CodeInternal         Code = "INTERNAL_ERROR"
	CodeRunNotFound      Code = "RUN_NOT_FOUND"
	CodeToolCallMismatch Code = "TOOL_CALL_MISMATCH"
)

// ErrorDetail is the serializable form of a run error.
type ErrorDetail struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// RunError is a typed failure of a run or a request.
type RunError struct {
	Code    Code
	Message string
	Err     error
}

func NewRunError(code Code, msg string, err error) *RunError {
	return &RunError{Code: code, Message: msg, Err: err}
}

func (e *RunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// UnknownAgentError is returned when routing names an agent nobody registered.
type UnknownAgentError struct {
	Name string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent %q", e.Name)
}

// RecursionLimitError is returned by the recursion guard when an agent keeps
// calling tools without completing.
type RecursionLimitError struct {
	Agent string
	Depth int
	Limit int
}

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("agent %q reached recursion depth %d (limit %d)", e.Agent, e.Depth, e.Limit)
}

var (
	ErrRunNotFound = NewRunError(CodeRunNotFound, "run not found", nil)
	ErrRunTerminal = errors.New("run already finished")
)

// CodeOf maps any error onto a boundary code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Code
	}
	var unknown *UnknownAgentError
	if errors.As(err, &unknown) {
		return CodeUnknownAgent
	}
	var recursion *RecursionLimitError
	if errors.As(err, &recursion) {
		return CodeRecursionLimit
	}
	return CodeInternal
}

// Detail converts an error into its serializable form.
func Detail(err error) *ErrorDetail {
	if err == nil {
		return nil
	}
	msg := err.Error()
	var runErr *RunError
	if errors.As(err, &runErr) {
		msg = runErr.Message
		if runErr.Err != nil {
			msg = fmt.Sprintf("%s: %v", runErr.Message, runErr.Err)
		}
	}
	return &ErrorDetail{Code: CodeOf(err), Message: msg}
}
