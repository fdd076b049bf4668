package domain

import (
	"errors"
	"fmt"
)

// ErrUnreachable marks a transport-level failure talking to a remote
// collaborator. It is the only error that aborts a whole batch.
var ErrUnreachable = errors.New("remote unreachable")

// IsUnreachable reports whether err was caused by a loss of connectivity.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// InventoryError is returned when the charts tree does not have the
// vendorType/vendorName/chartName/version shape.
type InventoryError struct {
	Path   string
	Reason string
}

func (e *InventoryError) Error() string {
	return fmt.Sprintf("inventory %s: %s", e.Path, e.Reason)
}

// TemplateError is returned when a descriptor variable has no value.
type TemplateError struct {
	Variable string
	Err      error
}

func (e *TemplateError) Error() string {
	if e.Variable != "" {
		return fmt.Sprintf("template variable %q is not set", e.Variable)
	}
	return fmt.Sprintf("rendering template: %v", e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// SubmissionError wraps a failure in one step of submitting a chart.
type SubmissionError struct {
	Chart ChartRecord
	Step  string
	Err   error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submitting %s: %s: %v", e.Chart, e.Step, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// VerificationError describes the terminal non-success outcome of a ticket.
type VerificationError struct {
	Chart  ChartRecord
	Code   Outcome
	Reason string
}

func (e *VerificationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("verifying %s: %s", e.Chart, e.Code)
	}
	return fmt.Sprintf("verifying %s: %s: %s", e.Chart, e.Code, e.Reason)
}

// IndexParseError is returned when the index document cannot be decoded.
type IndexParseError struct {
	Err error
}

func (e *IndexParseError) Error() string {
	return fmt.Sprintf("parsing index: %v", e.Err)
}

func (e *IndexParseError) Unwrap() error { return e.Err }

// BatchAbortedError is returned when connectivity was lost mid-run.
type BatchAbortedError struct {
	Unresolved int
	Err        error
}

func (e *BatchAbortedError) Error() string {
	return fmt.Sprintf("batch aborted with %d unresolved tickets: %v", e.Unresolved, e.Err)
}

func (e *BatchAbortedError) Unwrap() error { return e.Err }
