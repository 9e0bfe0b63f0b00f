package domain

import (
	"errors"
	"fmt"
)

var (
	ErrToolNotFound  = errors.New("tool not found")
	ErrEmptyToolName = errors.New("tool name cannot be empty")
	ErrDuplicateTool = errors.New("tool already registered")

	ErrEmptyTask     = errors.New("task cannot be empty")
	ErrRunNotFound   = errors.New("run not found")
	ErrTraceNotFound = errors.New("trace not found")

	// ErrTimeout marks a run aborted by its run-level deadline.
	ErrTimeout = errors.New("run timed out")

	ErrHandoffNotAllowed = errors.New("hand-off not allowed")
	ErrEmptyPlan         = errors.New("plan is empty")
	ErrPlanIncomplete    = errors.New("plan has unfinished items")

	ErrReadOnlyQuery = errors.New("only SELECT queries are allowed")
)

// ParseReason says why a model reply could not be turned into a step.
type ParseReason string

const (
	ParseMissingAction ParseReason = "missing_action"
	ParseBlankTool     ParseReason = "blank_tool"
	ParseBadArguments  ParseReason = "bad_arguments"
)

// ParseError describes a malformed model reply. It never aborts a run.
type ParseError struct {
	Reason ParseReason
	Detail string
	Reply  string
}

func (e *ParseError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("parse reply: %s", e.Reason)
	}
	return fmt.Sprintf("parse reply: %s: %s", e.Reason, e.Detail)
}

// InvocationCategory groups tool failures by the hint the oracle should receive.
type InvocationCategory string

const (
	InvocationNotFound InvocationCategory = "not_found"
	InvocationGeneric  InvocationCategory = "generic"
)

// InvocationError wraps an upstream failure of a registered tool.
type InvocationError struct {
	Tool     string
	Category InvocationCategory
	Cause    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Cause)
}

func (e *InvocationError) Unwrap() error {
	return e.Cause
}
