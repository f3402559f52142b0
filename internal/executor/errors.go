package executor

import (
	"errors"
	"fmt"

	"github.com/KaramelBytes/insightloom-cli/internal/plan"
)

var (
	// ErrExecution matches any *ExecutionError.
	ErrExecution = errors.New("plan execution failed")
	// ErrResourceLimit matches any *ResourceLimitError.
	ErrResourceLimit = errors.New("resource limit exceeded")
)

// ExecutionError reports an operation that could not run against the data,
// such as a column missing at runtime.
type ExecutionError struct {
	Step   int
	Op     plan.Kind
	Column string
	Reason string
	Err    error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("execution step %d (%s)", e.Step+1, e.Op)
	if e.Column != "" {
		msg += fmt.Sprintf(": column %q", e.Column)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExecution}
	}
	return []error{ErrExecution, e.Err}
}

// ResourceLimitError reports input or intermediate data above a configured ceiling.
type ResourceLimitError struct {
	Resource string // rows, columns or groups
	Limit    int
	Actual   int
}

func (e *ResourceLimitError) Error() string {
	return fmt.Sprintf("%s limit exceeded: %d > %d", e.Resource, e.Actual, e.Limit)
}

func (e *ResourceLimitError) Unwrap() error { return ErrResourceLimit }
