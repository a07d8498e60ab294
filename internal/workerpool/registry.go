// Package workerpool tracks remote ticket workers connected over
// WebSocket and assigns ready tickets to their free slots.
package workerpool

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// RemoteWorker is one connected worker process
type RemoteWorker struct {
	ID            string
	MaxTickets    int
	Slots         int
	Conn          *websocket.Conn
	ConnectedAt   time.Time
	LastHeartbeat time.Time
	mu            sync.Mutex
	writeMu       sync.Mutex // protects Conn writes
}

// UpdateSlots updates available slots (thread-safe)
func (w *RemoteWorker) UpdateSlots(slots int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Slots = slots
}

// DecrementSlots reduces available slots by 1
func (w *RemoteWorker) DecrementSlots() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Slots > 0 {
		w.Slots--
	}
}

// SetLastHeartbeat sets the last heartbeat time (thread-safe)
func (w *RemoteWorker) SetLastHeartbeat(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.LastHeartbeat = t
}

// WriteMessage sends a message to the worker connection (thread-safe)
func (w *RemoteWorker) WriteMessage(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.Conn.WriteMessage(messageType, data)
}

// WorkerStatus is a snapshot of one worker for status endpoints
type WorkerStatus struct {
	ID          string    `json:"id"`
	MaxTickets  int       `json:"max_tickets"`
	ActiveRuns  int       `json:"active_runs"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Status returns a consistent snapshot of the worker's fields
func (w *RemoteWorker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerStatus{
		ID:          w.ID,
		MaxTickets:  w.MaxTickets,
		ActiveRuns:  w.MaxTickets - w.Slots,
		ConnectedAt: w.ConnectedAt,
	}
}

// Registry tracks connected workers
type Registry struct {
	workers map[string]*RemoteWorker
	mu      sync.RWMutex
}

// NewRegistry creates an empty worker registry
func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]*RemoteWorker),
	}
}

// Register adds a worker to the registry
func (r *Registry) Register(w *RemoteWorker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w.ConnectedAt = time.Now()
	w.LastHeartbeat = time.Now()
	r.workers[w.ID] = w
}

// Unregister removes a worker from the registry
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, id)
}

// Get returns a worker by ID, nil if not connected
func (r *Registry) Get(id string) *RemoteWorker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workers[id]
}

// Count returns the number of connected workers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// FindReady returns a worker with free slots, preferring the one with
// the most slots so load spreads out.
func (r *Registry) FindReady() *RemoteWorker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *RemoteWorker
	var bestSlots int
	for _, w := range r.workers {
		w.mu.Lock()
		slots := w.Slots
		w.mu.Unlock()

		if slots > 0 && slots > bestSlots {
			best = w
			bestSlots = slots
		}
	}
	return best
}

// All returns all connected workers
func (r *Registry) All() []*RemoteWorker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*RemoteWorker, 0, len(r.workers))
	for _, w := range r.workers {
		result = append(result, w)
	}
	return result
}

// TotalSlots returns the sum of all free slots
func (r *Registry) TotalSlots() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, w := range r.workers {
		w.mu.Lock()
		total += w.Slots
		w.mu.Unlock()
	}
	return total
}
