// Package orcerrors defines the typed errors shared across the
// scheduling and commit-queue components. Callers branch on them
// with errors.As; each type carries the detail an operator needs
// to act (cycle path, missing files, lock holder).
package orcerrors

import (
	"fmt"
	"strings"
	"time"
)

// StructuralError reports a dependency cycle. Any cycle makes the
// whole graph untrustworthy, so the scheduling pass that found it
// is refused entirely.
type StructuralError struct {
	// Path is the ordered cycle, first id repeated at the end,
	// e.g. [A B A].
	Path []string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

// OrphanReference reports a dependency edge pointing at a ticket
// that does not exist. The edge is dropped and scheduling continues;
// the reference is surfaced as a warning.
type OrphanReference struct {
	TicketID string
	Missing  string
}

func (e *OrphanReference) Error() string {
	return fmt.Sprintf("ticket %s depends on unknown ticket %s", e.TicketID, e.Missing)
}

// LockTimeout reports that lock acquisition gave up. Age is how long
// the current holder has held the lock when the waiter gave up; the
// caller uses it to decide on stale-lock recovery.
type LockTimeout struct {
	Owner   string
	Age     time.Duration
	Timeout time.Duration
}

func (e *LockTimeout) Error() string {
	return fmt.Sprintf("commit lock held by %s for %s (timeout %s)",
		e.Owner, e.Age.Round(time.Millisecond), e.Timeout)
}

// StagingFailure reports that a commit entry could not stage any of
// its files. Individual missing files are warnings; the entry only
// fails when nothing staged at all.
type StagingFailure struct {
	TicketID string
	Missing  []string
}

func (e *StagingFailure) Error() string {
	return fmt.Sprintf("ticket %s: no files staged (missing: %s)",
		e.TicketID, strings.Join(e.Missing, ", "))
}

// CommitConflict reports version-control conflict state during a
// commit attempt. The queue never auto-merges: staged work is reset
// and the ticket deferred for manual intervention.
type CommitConflict struct {
	TicketID string
	Detail   string
	Err      error
}

func (e *CommitConflict) Error() string {
	msg := fmt.Sprintf("ticket %s: commit conflict, changes discarded and ticket deferred", e.TicketID)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *CommitConflict) Unwrap() error { return e.Err }

// RetryExhausted reports that a failed queue entry used up its retry
// budget. The entry stays failed and is surfaced, never dropped.
type RetryExhausted struct {
	QueueID  int64
	TicketID string
	Attempts int
	Err      error
}

func (e *RetryExhausted) Error() string {
	return fmt.Sprintf("queue entry %d (ticket %s) still failing after %d attempts",
		e.QueueID, e.TicketID, e.Attempts)
}

func (e *RetryExhausted) Unwrap() error { return e.Err }
