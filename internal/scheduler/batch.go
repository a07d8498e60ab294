package scheduler

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
)

// WorkerBounds clamps automatic worker selection
type WorkerBounds struct {
	Min int
	Max int
}

// DefaultWorkerBounds returns the stock clamp for automatic worker
// selection.
func DefaultWorkerBounds() WorkerBounds {
	return WorkerBounds{Min: 1, Max: 8}
}

// ResolveWorkers picks the effective worker count for a batch. A
// requested count of zero selects half the hardware threads, clamped
// to bounds. An explicit request must be positive. Either way the
// result never exceeds the number of ready tickets.
func ResolveWorkers(requested, readyCount int, bounds WorkerBounds) (int, error) {
	if requested < 0 {
		return 0, fmt.Errorf("worker count must be positive, got %d", requested)
	}

	workers := requested
	if workers == 0 {
		workers = runtime.NumCPU() / 2
		if workers < bounds.Min {
			workers = bounds.Min
		}
		if workers > bounds.Max {
			workers = bounds.Max
		}
	}

	if workers > readyCount {
		workers = readyCount
	}
	return workers, nil
}

// ArtifactDeferral records a ticket pushed out of a batch because a
// higher-priority ticket in the same batch claims an overlapping
// artifact. The ticket stays ready; nothing about its state changes.
type ArtifactDeferral struct {
	TicketID   string
	ConflictID string
	Artifact   string
}

// Batch is one round of work sized to the available workers
type Batch struct {
	Tickets  []*domain.Ticket
	Deferred []ArtifactDeferral
	Workers  int
}

// BuildBatch selects up to the resolved worker count of tickets from
// ready, preserving its order. ready is expected to come from
// ResolveReadyWork, so earlier entries outrank later ones. A ticket
// whose artifacts overlap an already-selected ticket is deferred to a
// later batch and its slot goes to the next candidate.
func (s *Scheduler) BuildBatch(ready []*domain.Ticket, requested int) (*Batch, error) {
	workers, err := ResolveWorkers(requested, len(ready), s.bounds)
	if err != nil {
		return nil, err
	}

	batch := &Batch{Workers: workers}
	claimed := make(map[string]string) // cleaned artifact path -> ticket id

	for _, ticket := range ready {
		if len(batch.Tickets) >= workers {
			break
		}
		if owner, artifact, ok := overlaps(claimed, ticket.Artifacts); ok {
			batch.Deferred = append(batch.Deferred, ArtifactDeferral{
				TicketID:   ticket.ID,
				ConflictID: owner,
				Artifact:   artifact,
			})
			continue
		}
		for _, artifact := range ticket.Artifacts {
			claimed[filepath.Clean(artifact)] = ticket.ID
		}
		batch.Tickets = append(batch.Tickets, ticket)
	}

	return batch, nil
}

// overlaps reports the first claimed artifact that a candidate ticket
// also touches
func overlaps(claimed map[string]string, artifacts []string) (owner, artifact string, ok bool) {
	for _, a := range artifacts {
		cleaned := filepath.Clean(a)
		if id, taken := claimed[cleaned]; taken {
			return id, cleaned, true
		}
	}
	return "", "", false
}

// BatchStats summarizes how a ready set divides into rounds of the
// given worker count.
type BatchStats struct {
	TotalTickets int
	Workers      int
	BatchCount   int
	FinalBatch   int
}

// Stats reports the expected number of batches for total tickets at
// workers parallelism, and the size of the final partial batch.
func Stats(total, workers int) BatchStats {
	stats := BatchStats{TotalTickets: total, Workers: workers}
	if total <= 0 || workers <= 0 {
		return stats
	}

	stats.BatchCount = (total + workers - 1) / workers
	stats.FinalBatch = total - (stats.BatchCount-1)*workers
	return stats
}
