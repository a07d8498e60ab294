// Package scheduler decides which tickets run next. Ready-work
// resolution is a pure query over a snapshot of tickets: callers
// build a fresh Scheduler after every state change rather than
// mutating one in place.
package scheduler

import (
	"sort"

	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
)

// Scheduler resolves ready work and groups it into batches
type Scheduler struct {
	tickets   []*domain.Ticket
	ticketMap map[string]*domain.Ticket
	position  map[string]int // insertion order, for stable tie-breaking
	completed map[string]bool
	bounds    WorkerBounds
}

// New creates a Scheduler over a snapshot of tickets. The slice order
// is the insertion order used to break priority ties.
func New(tickets []*domain.Ticket, completed map[string]bool) *Scheduler {
	ticketMap := make(map[string]*domain.Ticket, len(tickets))
	position := make(map[string]int, len(tickets))

	for i, t := range tickets {
		if _, seen := ticketMap[t.ID]; seen {
			continue
		}
		ticketMap[t.ID] = t
		position[t.ID] = i
	}

	return &Scheduler{
		tickets:   tickets,
		ticketMap: ticketMap,
		position:  position,
		completed: completed,
		bounds:    DefaultWorkerBounds(),
	}
}

// SetWorkerBounds overrides the clamp applied to automatic worker
// selection.
func (s *Scheduler) SetWorkerBounds(bounds WorkerBounds) {
	s.bounds = bounds
}

// BlockedTicket is an unprocessed ticket that cannot run yet, together
// with the dependencies holding it back.
type BlockedTicket struct {
	Ticket    *domain.Ticket
	WaitingOn []string
}

// ResolveReadyWork returns the tickets eligible to run now, ordered by
// ascending priority rank with insertion order breaking ties, plus a
// report of unprocessed tickets still waiting on dependencies. Blocked
// tickets are reported rather than silently dropped so operators can
// see why work is not moving.
func (s *Scheduler) ResolveReadyWork() ([]*domain.Ticket, []BlockedTicket) {
	var ready []*domain.Ticket
	var blocked []BlockedTicket

	for _, ticket := range s.tickets {
		if ticket.State != domain.StateUnprocessed {
			continue
		}
		if ticket.IsReady(s.completed) {
			ready = append(ready, ticket)
			continue
		}
		blocked = append(blocked, BlockedTicket{
			Ticket:    ticket,
			WaitingOn: s.waitingOn(ticket),
		})
	}

	sort.Slice(ready, func(i, j int) bool {
		ri, rj := ready[i].Priority.Rank(), ready[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return s.position[ready[i].ID] < s.position[ready[j].ID]
	})

	return ready, blocked
}

// waitingOn lists the dependencies of a ticket that are not completed
func (s *Scheduler) waitingOn(ticket *domain.Ticket) []string {
	var waiting []string
	for _, dep := range ticket.Dependencies {
		if !s.completed[dep] {
			waiting = append(waiting, dep)
		}
	}
	return waiting
}
