package notify

import "fmt"

// CycleDetected reports a dependency cycle that pauses scheduling
func CycleDetected(cycle string) Notification {
	return Notification{
		Title:   "Dependency cycle detected",
		Message: fmt.Sprintf("Scheduling is paused until the cycle is broken: %s", cycle),
		Type:    NotifyError,
	}
}

// ConflictDeferred reports a commit conflict that deferred a ticket
func ConflictDeferred(ticketID, detail string) Notification {
	return Notification{
		Title:    "Commit conflict",
		Message:  fmt.Sprintf("Ticket %s was deferred for manual review: %s", ticketID, detail),
		Type:     NotifyWarning,
		TicketID: ticketID,
	}
}

// RetryGaveUp reports a queue entry whose retry budget is used up
func RetryGaveUp(ticketID string, queueID int64, attempts int) Notification {
	return Notification{
		Title:    "Commit retries exhausted",
		Message:  fmt.Sprintf("Queue entry %d for ticket %s failed %d times and stays failed", queueID, ticketID, attempts),
		Type:     NotifyError,
		TicketID: ticketID,
	}
}

// RoundFinished summarizes a finished orchestration round
func RoundFinished(round string, completed, failed, committed int) Notification {
	typ := NotifySuccess
	if failed > 0 {
		typ = NotifyWarning
	}
	return Notification{
		Title:   fmt.Sprintf("Round %s finished", round),
		Message: fmt.Sprintf("%d tickets completed, %d failed, %d commits landed", completed, failed, committed),
		Type:    typ,
	}
}
