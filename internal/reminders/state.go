// Package reminders manages the birthday follow-up lifecycle per tenant:
// deriving pending reminders from upcoming birthdays, moving them through
// their states, and archiving completed ones into the history table.
package reminders

import (
	"fmt"

	"github.com/yungbote/revisit-backend/internal/pkg/syncerr"
)

// Status is a reminder lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusDeferred  Status = "DEFERRED"
	StatusCompleted Status = "COMPLETED"
)

func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusDeferred, StatusCompleted:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("unknown reminder status %q: %w", raw, syncerr.ErrInvalidArgument)
	}
}

// CanTransition reports whether moving from s to next is allowed. Writing
// the current state again is an idempotent no-op. COMPLETED is terminal;
// a completed reminder cannot be reopened.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusDeferred || next == StatusCompleted
	case StatusDeferred:
		return next == StatusPending || next == StatusCompleted
	default:
		return false
	}
}

// TransitionError is a rejected state change, most commonly an attempt to
// reopen a completed reminder.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("reminder transition %s -> %s not allowed", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return syncerr.ErrInvalidArgument }
