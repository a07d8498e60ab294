package rounds

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/hochfrequenz/ticket-orchestrator/internal/commitqueue"
	"github.com/hochfrequenz/ticket-orchestrator/internal/dispatch"
	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
	"github.com/hochfrequenz/ticket-orchestrator/internal/notify"
	"github.com/hochfrequenz/ticket-orchestrator/internal/orcerrors"
	"github.com/hochfrequenz/ticket-orchestrator/internal/scheduler"
)

// Planner is the slice of the orchestrator a round consumes
type Planner interface {
	ResolveReadyWork() ([]string, []scheduler.BlockedTicket, error)
	BuildBatch(readyIDs []string, workers int) ([]string, *scheduler.Batch, error)
	DrainQueue(ctx context.Context) (commitqueue.DrainResult, error)
}

// BatchRunner executes one batch of tickets with bounded workers
type BatchRunner interface {
	RunBatch(ctx context.Context, tickets []*domain.Ticket, workers int) (*dispatch.BatchResult, error)
}

// Summary accumulates what one round did
type Summary struct {
	Round         string
	Scheduled     int
	Completed     int
	Failed        int
	RolledBack    int
	Committed     int
	CommitsFailed int
	Blocked       int
}

// Runner executes orchestration rounds end to end: resolve ready work,
// build a batch, dispatch workers, drain the commit queue, repeat until
// the round's ticket budget or the ready pool is used up.
type Runner struct {
	planner    Planner
	dispatcher BatchRunner
	notifier   notify.Notifier
	logger     *log.Logger
}

// NewRunner creates a Runner. notifier and logger may be nil.
func NewRunner(planner Planner, dispatcher BatchRunner, notifier notify.Notifier, logger *log.Logger) *Runner {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		planner:    planner,
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     logger,
	}
}

// RunRound executes one round under cfg's ticket budget and deadline.
// MaxTickets <= 0 means no budget.
func (r *Runner) RunRound(ctx context.Context, cfg RoundConfig) (*Summary, error) {
	if cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.MaxDuration)
		defer cancel()
	}

	summary := &Summary{Round: cfg.Name}
	remaining := cfg.MaxTickets
	capped := cfg.MaxTickets > 0

	// A ticket attempted this round is not retried, even when the
	// worker rolled it back to the ready pool.
	attempted := make(map[string]bool)

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if capped && remaining <= 0 {
			break
		}

		readyIDs, blocked, err := r.planner.ResolveReadyWork()
		if err != nil {
			r.notifyStructural(err)
			return summary, err
		}
		summary.Blocked = len(blocked)

		fresh := readyIDs[:0]
		for _, id := range readyIDs {
			if !attempted[id] {
				fresh = append(fresh, id)
			}
		}
		if capped && len(fresh) > remaining {
			fresh = fresh[:remaining]
		}
		if len(fresh) == 0 {
			break
		}

		_, batch, err := r.planner.BuildBatch(fresh, cfg.Workers)
		if err != nil {
			r.notifyStructural(err)
			return summary, err
		}
		if len(batch.Tickets) == 0 {
			break
		}

		result, err := r.dispatcher.RunBatch(ctx, batch.Tickets, batch.Workers)
		if err != nil {
			return summary, err
		}
		for _, ticket := range batch.Tickets {
			attempted[ticket.ID] = true
		}
		summary.Scheduled += len(batch.Tickets)
		summary.Completed += len(result.Completed)
		summary.Failed += len(result.Failed)
		summary.RolledBack += len(result.RolledBack)
		remaining -= len(batch.Tickets)

		drained, err := r.planner.DrainQueue(ctx)
		summary.Committed += drained.Processed
		summary.CommitsFailed += drained.Failed
		if err != nil {
			return summary, err
		}
	}

	if summary.Scheduled == 0 {
		// Land queue entries left over from earlier runs even when
		// nothing was ready.
		drained, err := r.planner.DrainQueue(ctx)
		summary.Committed += drained.Processed
		summary.CommitsFailed += drained.Failed
		if err != nil {
			return summary, err
		}
	}

	r.logger.Printf("round %s: %d scheduled, %d completed, %d failed, %d rolled back, %d commits landed",
		cfg.Name, summary.Scheduled, summary.Completed, summary.Failed, summary.RolledBack, summary.Committed)

	if cfg.NotifyOnComplete {
		n := notify.RoundFinished(cfg.Name, summary.Completed, summary.Failed+summary.CommitsFailed, summary.Committed)
		if err := r.notifier.Send(n); err != nil {
			r.logger.Printf("warning: sending round notification: %v", err)
		}
	}
	return summary, nil
}

// notifyStructural sends a cycle notification when err carries one
func (r *Runner) notifyStructural(err error) {
	var structural *orcerrors.StructuralError
	if !errors.As(err, &structural) {
		return
	}
	cycle := strings.Join(structural.Path, " -> ")
	if sendErr := r.notifier.Send(notify.CycleDetected(cycle)); sendErr != nil {
		r.logger.Printf("warning: sending cycle notification: %v", sendErr)
	}
}
