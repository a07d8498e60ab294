package domain

// TicketState represents the lifecycle state of a ticket
type TicketState string

const (
	StateUnprocessed TicketState = "unprocessed"
	StateInProgress  TicketState = "in_progress"
	StateCompleted   TicketState = "completed"
	StateDeferred    TicketState = "deferred"
	StateFailed      TicketState = "failed"
)

// Terminal returns true for states that end a ticket's lifecycle
func (s TicketState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateDeferred
}

// ValidTransition reports whether a state change is allowed.
// The only rollback is in_progress -> unprocessed.
func ValidTransition(from, to TicketState) bool {
	switch from {
	case StateUnprocessed:
		return to == StateInProgress
	case StateInProgress:
		return to == StateCompleted || to == StateFailed ||
			to == StateDeferred || to == StateUnprocessed
	default:
		return false
	}
}

// Priority represents ticket priority, P0 highest through P3 lowest
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// DefaultPriority is assigned when a ticket declares none.
const DefaultPriority = PriorityP2

// Rank returns the ordinal for sorting; lower sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityP0:
		return 0
	case PriorityP1:
		return 1
	case PriorityP2:
		return 2
	case PriorityP3:
		return 3
	}
	return DefaultPriority.Rank()
}

// ParsePriority normalizes a priority string. Empty means the default.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "":
		return DefaultPriority, nil
	case "P0", "p0":
		return PriorityP0, nil
	case "P1", "p1":
		return PriorityP1, nil
	case "P2", "p2":
		return PriorityP2, nil
	case "P3", "p3":
		return PriorityP3, nil
	}
	return "", &InvalidPriorityError{Value: s}
}

// InvalidPriorityError reports an unrecognized priority value
type InvalidPriorityError struct {
	Value string
}

func (e *InvalidPriorityError) Error() string {
	return "invalid priority: " + e.Value + " (expected P0..P3)"
}
