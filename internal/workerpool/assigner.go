package workerpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/hochfrequenz/ticket-orchestrator/internal/workerproto"
)

// pendingTicket tracks a ticket waiting for assignment or completion
type pendingTicket struct {
	assign   *workerproto.AssignMessage
	resultCh chan *workerproto.Result
	workerID string // assigned worker, empty while queued
}

// sendFunc delivers an assignment to a worker connection
type sendFunc func(w *RemoteWorker, assign *workerproto.AssignMessage) error

// Assigner queues tickets and hands them to free worker slots
type Assigner struct {
	registry *Registry
	send     sendFunc

	mu      sync.Mutex
	queue   []*pendingTicket
	pending map[string]*pendingTicket // ticket ID -> pending
}

// NewAssigner creates an assigner over the registry
func NewAssigner(registry *Registry) *Assigner {
	return &Assigner{
		registry: registry,
		pending:  make(map[string]*pendingTicket),
	}
}

func (a *Assigner) setSendFunc(fn sendFunc) {
	a.send = fn
}

// HasCapacity reports whether any connected worker has a free slot
func (a *Assigner) HasCapacity() bool {
	return a.registry.TotalSlots() > 0
}

// Submit queues a ticket assignment and blocks until a worker reports
// the outcome or ctx ends. A ticket already pending is rejected.
func (a *Assigner) Submit(ctx context.Context, assign *workerproto.AssignMessage) (*workerproto.Result, error) {
	a.mu.Lock()
	if _, dup := a.pending[assign.TicketID]; dup {
		a.mu.Unlock()
		return nil, fmt.Errorf("ticket %s already assigned", assign.TicketID)
	}
	pt := &pendingTicket{
		assign:   assign,
		resultCh: make(chan *workerproto.Result, 1),
	}
	a.queue = append(a.queue, pt)
	a.pending[assign.TicketID] = pt
	a.mu.Unlock()

	a.TryDispatch()

	select {
	case result := <-pt.resultCh:
		if result == nil {
			return nil, fmt.Errorf("ticket %s: worker connection lost", assign.TicketID)
		}
		if result.Err != "" {
			return nil, fmt.Errorf("ticket %s: %s", assign.TicketID, result.Err)
		}
		return result, nil
	case <-ctx.Done():
		a.abandon(assign.TicketID)
		return nil, ctx.Err()
	}
}

// TryDispatch hands queued tickets to workers with free slots
func (a *Assigner) TryDispatch() {
	a.mu.Lock()
	defer a.mu.Unlock()

	var remaining []*pendingTicket
	for _, pt := range a.queue {
		worker := a.registry.FindReady()
		if worker == nil || a.send == nil {
			remaining = append(remaining, pt)
			continue
		}

		worker.DecrementSlots()
		pt.workerID = worker.ID

		if err := a.send(worker, pt.assign); err != nil {
			pt.workerID = ""
			remaining = append(remaining, pt)
			continue
		}
	}
	a.queue = remaining
}

// Complete resolves a pending ticket with its result
func (a *Assigner) Complete(ticketID string, result *workerproto.Result) {
	a.mu.Lock()
	pt, ok := a.pending[ticketID]
	if ok {
		delete(a.pending, ticketID)
	}
	a.mu.Unlock()

	if ok {
		pt.resultCh <- result
		close(pt.resultCh)
	}
}

// RequeueWorkerTickets puts tickets assigned to a dead worker back in
// the queue so another worker can pick them up.
func (a *Assigner) RequeueWorkerTickets(workerID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, pt := range a.pending {
		if pt.workerID != workerID {
			continue
		}
		pt.workerID = ""
		a.queue = append(a.queue, pt)
	}
}

// abandon drops a pending ticket whose submitter gave up waiting
func (a *Assigner) abandon(ticketID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.pending, ticketID)
	var remaining []*pendingTicket
	for _, pt := range a.queue {
		if pt.assign.TicketID != ticketID {
			remaining = append(remaining, pt)
		}
	}
	a.queue = remaining
}

// QueuedCount returns the number of tickets waiting for a slot
func (a *Assigner) QueuedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// PendingCount returns queued plus in-flight tickets
func (a *Assigner) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
