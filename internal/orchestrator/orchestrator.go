// Package orchestrator is the coordination facade: it rebuilds the
// dependency graph from the ticket store, refuses cyclic graphs
// outright, resolves ready work, sizes batches, and forwards commit
// requests to the queue.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/hochfrequenz/ticket-orchestrator/internal/commitqueue"
	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
	"github.com/hochfrequenz/ticket-orchestrator/internal/graph"
	"github.com/hochfrequenz/ticket-orchestrator/internal/scheduler"
	"github.com/hochfrequenz/ticket-orchestrator/internal/ticketstore"
)

// Orchestrator wires the scheduling core to the durable stores
type Orchestrator struct {
	store   *ticketstore.Store
	queue   *commitqueue.Queue
	drainer *commitqueue.Drainer
	logger  *log.Logger
	bounds  scheduler.WorkerBounds
	owner   string
}

// New creates an Orchestrator. The lock owner identity is derived from
// the host and pid so concurrent processes are distinguishable in lock
// diagnostics.
func New(store *ticketstore.Store, queue *commitqueue.Queue, drainer *commitqueue.Drainer, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Orchestrator{
		store:   store,
		queue:   queue,
		drainer: drainer,
		logger:  logger,
		bounds:  scheduler.DefaultWorkerBounds(),
		owner:   fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	}
}

// SetWorkerBounds overrides the clamp for automatic worker selection
func (o *Orchestrator) SetWorkerBounds(bounds scheduler.WorkerBounds) {
	o.bounds = bounds
}

// Owner returns the lock owner identity used for queue drains
func (o *Orchestrator) Owner() string {
	return o.owner
}

// snapshot loads all tickets and validates them as a graph. Every
// call builds a private copy, so no scheduling pass ever sees another
// pass's mutations. Orphan references are logged and their edges
// dropped; a cycle refuses the whole pass.
func (o *Orchestrator) snapshot() ([]*domain.Ticket, *graph.Graph, error) {
	tickets, err := o.store.ListTickets(ticketstore.ListOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("loading tickets: %w", err)
	}

	g, orphans := graph.Build(tickets)
	for _, orphan := range orphans {
		o.logger.Printf("warning: %v, edge dropped", orphan)
	}

	if structural := g.DetectCycle(); structural != nil {
		return nil, nil, structural
	}

	// The scheduling view uses the graph's edges, where orphan
	// references are already dropped.
	for _, ticket := range tickets {
		ticket.Dependencies = g.Dependencies(ticket.ID)
	}
	return tickets, g, nil
}

// completedSet collects the ids of completed tickets
func completedSet(tickets []*domain.Ticket) map[string]bool {
	completed := make(map[string]bool)
	for _, ticket := range tickets {
		if ticket.State == domain.StateCompleted {
			completed[ticket.ID] = true
		}
	}
	return completed
}

// ResolveReadyWork returns the ids of tickets eligible to start,
// ordered by priority then insertion, plus the blocked report. A
// cyclic graph fails the whole query.
func (o *Orchestrator) ResolveReadyWork() ([]string, []scheduler.BlockedTicket, error) {
	tickets, _, err := o.snapshot()
	if err != nil {
		return nil, nil, err
	}

	sched := scheduler.New(tickets, completedSet(tickets))
	ready, blocked := sched.ResolveReadyWork()

	ids := make([]string, len(ready))
	for i, ticket := range ready {
		ids[i] = ticket.ID
	}
	return ids, blocked, nil
}

// BuildBatch selects the next batch from readyIDs, which are consumed
// in the order given (ResolveReadyWork order). The returned ids are
// the subset scheduled this round.
func (o *Orchestrator) BuildBatch(readyIDs []string, workers int) ([]string, *scheduler.Batch, error) {
	tickets, _, err := o.snapshot()
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[string]*domain.Ticket, len(tickets))
	for _, ticket := range tickets {
		byID[ticket.ID] = ticket
	}

	ready := make([]*domain.Ticket, 0, len(readyIDs))
	for _, id := range readyIDs {
		ticket, ok := byID[id]
		if !ok {
			o.logger.Printf("warning: batch candidate %s is unknown, skipping", id)
			continue
		}
		ready = append(ready, ticket)
	}

	sched := scheduler.New(tickets, completedSet(tickets))
	sched.SetWorkerBounds(o.bounds)
	batch, err := sched.BuildBatch(ready, workers)
	if err != nil {
		return nil, nil, err
	}
	for _, deferral := range batch.Deferred {
		o.logger.Printf("deferring %s to a later batch: %s also touches %s",
			deferral.TicketID, deferral.ConflictID, deferral.Artifact)
	}

	ids := make([]string, len(batch.Tickets))
	for i, ticket := range batch.Tickets {
		ids[i] = ticket.ID
	}
	return ids, batch, nil
}

// CriticalPath reports dependency depths over the current snapshot.
// It never gates scheduling; a cyclic graph still fails because no
// topological order exists.
func (o *Orchestrator) CriticalPath() (*graph.CriticalPathReport, error) {
	_, g, err := o.snapshot()
	if err != nil {
		return nil, err
	}
	return g.CriticalPaths()
}

// EnqueueCommit records a worker's finished ticket work for the drain
// loop and returns the queue id.
func (o *Orchestrator) EnqueueCommit(workerID, ticketID, message string, files []string) (int64, error) {
	queueID, err := o.queue.Enqueue(workerID, ticketID, message, files)
	if err != nil {
		return 0, err
	}
	o.logger.Printf("queued commit %d for ticket %s (worker %s, %d files)",
		queueID, ticketID, workerID, len(files))
	return queueID, nil
}

// DrainQueue drains until empty and reports processed/failed counts
func (o *Orchestrator) DrainQueue(ctx context.Context) (commitqueue.DrainResult, error) {
	return o.drainer.Drain(ctx, o.owner)
}

// RetryEntry re-enters a failed queue entry with exponential backoff
func (o *Orchestrator) RetryEntry(ctx context.Context, queueID int64, maxAttempts int) (int64, error) {
	return o.drainer.Retry(ctx, queueID, maxAttempts)
}

// UpdateTicketState applies a state transition through the store
func (o *Orchestrator) UpdateTicketState(id string, state domain.TicketState) error {
	return o.store.UpdateTicketState(id, state)
}
