package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is the sentinel for missing referenced entities. Callers match
// it with errors.Is; no retry is expected.
var ErrNotFound = errors.New("not found")

// NotFoundError identifies which entity was missing
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound creates a NotFoundError for an entity kind and id
func NewNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// DispatchError reports a failed external action dispatch. The orchestrator
// records it on the step execution and does not retry.
type DispatchError struct {
	Action string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s failed: %v", e.Action, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
