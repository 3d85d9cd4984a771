package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Not-found family. A target that was never created, was deleted, or has
// logically expired surfaces the same way; none of these are retried.
var (
	ErrQueueDoesNotExist   = errors.New("queue does not exist")
	ErrMessageDoesNotExist = errors.New("message does not exist")
	ErrClaimDoesNotExist   = errors.New("claim does not exist")
)

// ErrNotPermitted means a claim/ownership precondition failed, such as
// deleting a message with a stale or unrelated claim id.
var ErrNotPermitted = errors.New("operation not permitted")

// ConflictError reports that the post retry budget was exhausted under
// sustained marker contention. Succeeded carries the ids of the batch prefix
// that did commit, in submission order; callers must treat this as partial
// success, not total failure.
type ConflictError struct {
	Succeeded []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("message post conflict after retries; %d of batch committed", len(e.Succeeded))
}

// ValidationError reports a value outside configured bounds. It is raised
// before any storage mutation is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

// IsNotFound reports whether err belongs to the not-found family.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrQueueDoesNotExist) ||
		errors.Is(err, ErrMessageDoesNotExist) ||
		errors.Is(err, ErrClaimDoesNotExist)
}
