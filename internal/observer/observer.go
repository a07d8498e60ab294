package observer

import (
	"sync"
	"time"
)

// Observer tracks ticket run outcomes so the dashboard and notifier can
// report throughput without querying the store.
type Observer struct {
	stuckThreshold time.Duration

	mu          sync.RWMutex
	completions []outcome
	failures    []outcome
}

type outcome struct {
	TicketID   string
	Duration   time.Duration
	RecordedAt time.Time
}

// Metrics summarizes recorded outcomes.
type Metrics struct {
	TotalCompleted int
	TotalFailed    int
	AvgDuration    time.Duration
}

// Completion is a single completed ticket run.
type Completion struct {
	TicketID    string
	Duration    time.Duration
	CompletedAt time.Time
}

// New creates an Observer. Workers running longer than stuckThreshold
// are reported as stuck.
func New(stuckThreshold time.Duration) *Observer {
	return &Observer{
		stuckThreshold: stuckThreshold,
		completions:    make([]outcome, 0),
		failures:       make([]outcome, 0),
	}
}

// IsStuck reports whether a run started at the given time has exceeded
// the stuck threshold.
func (o *Observer) IsStuck(startedAt time.Time) bool {
	if startedAt.IsZero() {
		return false
	}
	return time.Since(startedAt) > o.stuckThreshold
}

// RecordCompletion records a successful ticket run.
func (o *Observer) RecordCompletion(ticketID string, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.completions = append(o.completions, outcome{
		TicketID:   ticketID,
		Duration:   duration,
		RecordedAt: time.Now(),
	})
}

// RecordFailure records a failed ticket run.
func (o *Observer) RecordFailure(ticketID string, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.failures = append(o.failures, outcome{
		TicketID:   ticketID,
		Duration:   duration,
		RecordedAt: time.Now(),
	})
}

// GetMetrics returns aggregate metrics over all recorded outcomes.
func (o *Observer) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	m := Metrics{
		TotalCompleted: len(o.completions),
		TotalFailed:    len(o.failures),
	}

	if len(o.completions) > 0 {
		var total time.Duration
		for _, c := range o.completions {
			total += c.Duration
		}
		m.AvgDuration = total / time.Duration(len(o.completions))
	}

	return m
}

// GetRecentCompletions returns completions recorded since the given time.
func (o *Observer) GetRecentCompletions(since time.Time) []Completion {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var recent []Completion
	for _, c := range o.completions {
		if c.RecordedAt.After(since) {
			recent = append(recent, Completion{
				TicketID:    c.TicketID,
				Duration:    c.Duration,
				CompletedAt: c.RecordedAt,
			})
		}
	}
	return recent
}
