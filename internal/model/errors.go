package model

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a config, rule, draft or history entry does
// not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an optimistic-concurrency check fails. The
// caller should refetch the current state and retry.
var ErrConflict = errors.New("version conflict")

// IntegrityError reports that stored data violates an invariant the write
// path is supposed to guarantee. It indicates a bug, not a user error.
type IntegrityError struct {
	ConfigID string
	Message  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation on config %s: %s", e.ConfigID, e.Message)
}

// TransitionError reports a draft status change that the workflow forbids.
type TransitionError struct {
	DraftID string
	From    DraftStatus
	To      DraftStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("draft %s cannot move from %s to %s", e.DraftID, e.From, e.To)
}

// Is makes a TransitionError match ErrConflict.
func (e *TransitionError) Is(target error) bool {
	return target == ErrConflict
}
