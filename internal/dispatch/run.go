// Package dispatch starts worker processes for ready tickets and moves
// ticket state along with the outcome of each run.
package dispatch

import (
	"sync"
	"time"
)

// RunStatus represents the status of a worker run
type RunStatus string

const (
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunRolledBack RunStatus = "rolled_back"
)

// Run is a single worker process working on one ticket
type Run struct {
	ID       string
	TicketID string
	WorkerID string
	PID      int
	LogPath  string

	mu         sync.Mutex
	status     RunStatus
	startedAt  time.Time
	finishedAt time.Time
	output     []string
	err        error
}

// Status returns the current run status
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Err returns the run error, if any
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// StartedAt returns when the worker process started
func (r *Run) StartedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt
}

// Duration returns how long the run has been going, or took
func (r *Run) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.startedAt.IsZero() {
		return 0
	}
	if !r.finishedAt.IsZero() {
		return r.finishedAt.Sub(r.startedAt)
	}
	return time.Since(r.startedAt)
}

// Output returns a copy of the captured output lines
func (r *Run) Output() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.output))
	copy(out, r.output)
	return out
}

func (r *Run) appendOutput(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = append(r.output, line)
}

func (r *Run) finish(status RunStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.err = err
	r.finishedAt = time.Now()
}

// Manager tracks worker runs so the dashboard can show what is active
type Manager struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewManager creates an empty run registry
func NewManager() *Manager {
	return &Manager{runs: make(map[string]*Run)}
}

// Add registers a run under its ticket ID
func (m *Manager) Add(run *Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.TicketID] = run
}

// Get retrieves the run for a ticket, or nil
func (m *Manager) Get(ticketID string) *Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.runs[ticketID]
}

// All returns all tracked runs
func (m *Manager) All() []*Run {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	return runs
}

// RunningCount returns the number of runs still executing
func (m *Manager) RunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, r := range m.runs {
		if r.Status() == RunRunning {
			count++
		}
	}
	return count
}
