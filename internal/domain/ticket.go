package domain

import (
	"fmt"
	"regexp"
	"time"
)

var ticketIDRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]*$`)

// ValidateTicketID checks that an id is usable as a ticket identity
func ValidateTicketID(id string) error {
	if !ticketIDRegex.MatchString(id) {
		return fmt.Errorf("invalid ticket ID: %q", id)
	}
	return nil
}

// Ticket represents a unit of work with prerequisites.
// State is the only field the scheduling core mutates.
type Ticket struct {
	ID           string
	Title        string
	State        TicketState
	Priority     Priority
	Dependencies []string
	Parent       string
	Artifacts    []string
	FilePath     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate checks structural invariants local to one ticket.
// Cross-ticket invariants (cycles, orphan references) are the
// graph's job.
func (t *Ticket) Validate() error {
	if err := ValidateTicketID(t.ID); err != nil {
		return err
	}
	for _, dep := range t.Dependencies {
		if dep == t.ID {
			return fmt.Errorf("ticket %s depends on itself", t.ID)
		}
	}
	return nil
}

// IsReady returns true if the ticket is unprocessed and every
// dependency is in the completed set
func (t *Ticket) IsReady(completed map[string]bool) bool {
	if t.State != StateUnprocessed {
		return false
	}
	for _, dep := range t.Dependencies {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// DependsOn reports whether the ticket lists id as a prerequisite
func (t *Ticket) DependsOn(id string) bool {
	for _, dep := range t.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}
