package commitqueue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
	"github.com/hochfrequenz/ticket-orchestrator/internal/gitops"
	"github.com/hochfrequenz/ticket-orchestrator/internal/notify"
	"github.com/hochfrequenz/ticket-orchestrator/internal/orcerrors"
)

// ErrQueueEmpty signals that no queued entries remain
var ErrQueueEmpty = errors.New("commit queue is empty")

// defaultBackoffUnit scales the exponential retry wait
const defaultBackoffUnit = time.Second

// Worktree is the slice of git the drain loop needs
type Worktree interface {
	Stage(files []string) (staged, missing []string, err error)
	HasStagedChanges() (bool, error)
	Commit(message string) (string, error)
	ResetHard() error
}

// TicketDeferrer marks tickets deferred when their commits conflict
type TicketDeferrer interface {
	UpdateTicketState(id string, state domain.TicketState) error
}

// Drainer processes queue entries one at a time under the shared lock
type Drainer struct {
	queue    *Queue
	lock     Lock
	tree     Worktree
	tickets  TicketDeferrer
	logger   *log.Logger
	notifier notify.Notifier
	backoff  time.Duration
	retain   int
}

// NewDrainer creates a Drainer. retain bounds how many completed
// entries are kept for audit; zero keeps everything.
func NewDrainer(queue *Queue, lock Lock, tree Worktree, tickets TicketDeferrer, logger *log.Logger, retain int) *Drainer {
	if logger == nil {
		logger = log.Default()
	}
	return &Drainer{
		queue:    queue,
		lock:     lock,
		tree:     tree,
		tickets:  tickets,
		logger:   logger,
		notifier: notify.NoopNotifier{},
		backoff:  defaultBackoffUnit,
		retain:   retain,
	}
}

// SetBackoffUnit overrides the time unit for exponential retry waits
func (d *Drainer) SetBackoffUnit(unit time.Duration) {
	d.backoff = unit
}

// SetNotifier routes conflict and retry notifications
func (d *Drainer) SetNotifier(n notify.Notifier) {
	if n != nil {
		d.notifier = n
	}
}

// DrainResult accumulates the outcome of a full drain
type DrainResult struct {
	Processed int
	Failed    int
}

// DrainOne drains the oldest queued entry. It returns ErrQueueEmpty
// when nothing is queued. The lock is held only across staging and
// committing, never while traversing the queue.
func (d *Drainer) DrainOne(ctx context.Context, owner string) error {
	entry, err := d.queue.Next()
	if err != nil {
		return fmt.Errorf("selecting next entry: %w", err)
	}
	if entry == nil {
		return ErrQueueEmpty
	}

	if err := d.lock.Acquire(ctx, owner); err != nil {
		return err
	}
	defer func() {
		if err := d.lock.Release(owner); err != nil {
			d.logger.Printf("warning: releasing commit lock: %v", err)
		}
	}()

	// Another process may have drained this entry while we waited
	// for the lock.
	current, err := d.queue.Get(entry.QueueID)
	if err != nil {
		return fmt.Errorf("re-reading entry %d: %w", entry.QueueID, err)
	}
	if current == nil || current.Status != EntryQueued {
		return nil
	}

	return d.commitEntry(current)
}

// commitEntry stages and commits one entry. The caller holds the lock.
func (d *Drainer) commitEntry(entry *Entry) error {
	staged, missing, err := d.tree.Stage(entry.Files)
	for _, file := range missing {
		d.logger.Printf("warning: ticket %s: file %s no longer exists, skipping", entry.TicketID, file)
	}
	if err != nil {
		return d.fail(entry, fmt.Errorf("staging files for %s: %w", entry.TicketID, err))
	}

	hasChanges := len(staged) > 0
	if hasChanges {
		hasChanges, err = d.tree.HasStagedChanges()
		if err != nil {
			return d.fail(entry, fmt.Errorf("checking staged changes for %s: %w", entry.TicketID, err))
		}
	}
	if !hasChanges {
		return d.fail(entry, &orcerrors.StagingFailure{TicketID: entry.TicketID, Missing: missing})
	}

	hash, err := d.tree.Commit(entry.Message)
	if err != nil {
		if gitops.IsConflictError(err) {
			return d.failConflict(entry, err)
		}
		return d.fail(entry, fmt.Errorf("committing %s: %w", entry.TicketID, err))
	}

	if err := d.queue.MarkCompleted(entry.QueueID, hash); err != nil {
		return err
	}
	d.logger.Printf("committed %s for ticket %s (worker %s, entry %d)",
		hash, entry.TicketID, entry.WorkerID, entry.QueueID)

	if d.retain > 0 {
		if _, err := d.queue.PruneCompleted(d.retain); err != nil {
			d.logger.Printf("warning: pruning completed entries: %v", err)
		}
	}
	return nil
}

// entryError wraps a per-entry failure so the drain loop can keep
// going without mistaking it for infrastructure trouble.
type entryError struct{ err error }

func (e *entryError) Error() string { return e.err.Error() }
func (e *entryError) Unwrap() error { return e.err }

// fail marks the entry failed and returns the reason
func (d *Drainer) fail(entry *Entry, reason error) error {
	if err := d.queue.MarkFailed(entry.QueueID, reason.Error()); err != nil {
		d.logger.Printf("warning: marking entry %d failed: %v", entry.QueueID, err)
	}
	return &entryError{err: reason}
}

// failConflict is the conflict fail-safe: discard everything staged,
// defer the ticket for manual intervention, never merge.
func (d *Drainer) failConflict(entry *Entry, cause error) error {
	if err := d.tree.ResetHard(); err != nil {
		d.logger.Printf("warning: resetting work tree after conflict: %v", err)
	}
	if err := d.tickets.UpdateTicketState(entry.TicketID, domain.StateDeferred); err != nil {
		d.logger.Printf("warning: deferring ticket %s: %v", entry.TicketID, err)
	}

	conflict := &orcerrors.CommitConflict{TicketID: entry.TicketID, Detail: "changes reset to HEAD", Err: cause}
	d.logger.Printf("%v", conflict)
	if err := d.notifier.Send(notify.ConflictDeferred(entry.TicketID, conflict.Detail)); err != nil {
		d.logger.Printf("warning: sending conflict notification: %v", err)
	}
	return d.fail(entry, conflict)
}

// Drain drains entries until the queue is empty, accumulating counts.
// Entry-level failures are counted and draining continues; lock and
// storage errors abort with the partial result.
func (d *Drainer) Drain(ctx context.Context, owner string) (DrainResult, error) {
	var result DrainResult

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		err := d.DrainOne(ctx, owner)
		if errors.Is(err, ErrQueueEmpty) {
			return result, nil
		}
		if err == nil {
			result.Processed++
			continue
		}

		var entryErr *entryError
		if errors.As(err, &entryErr) {
			result.Failed++
			continue
		}
		return result, err
	}
}

// Retry re-enters a failed entry at the back of the queue after an
// exponential backoff wait of 2^attempts units. Once attempts reach
// maxAttempts the entry stays failed and RetryExhausted is returned.
func (d *Drainer) Retry(ctx context.Context, queueID int64, maxAttempts int) (int64, error) {
	entry, err := d.queue.Get(queueID)
	if err != nil {
		return 0, err
	}
	if entry == nil {
		return 0, fmt.Errorf("queue entry %d not found", queueID)
	}
	if entry.Status != EntryFailed {
		return 0, fmt.Errorf("queue entry %d is %s, only failed entries can be retried", queueID, entry.Status)
	}

	if maxAttempts > 0 && entry.Attempts >= maxAttempts {
		if err := d.notifier.Send(notify.RetryGaveUp(entry.TicketID, entry.QueueID, entry.Attempts)); err != nil {
			d.logger.Printf("warning: sending retry notification: %v", err)
		}
		return 0, &orcerrors.RetryExhausted{
			QueueID:  entry.QueueID,
			TicketID: entry.TicketID,
			Attempts: entry.Attempts,
			Err:      errors.New(entry.LastError),
		}
	}

	wait := d.backoff * (1 << uint(entry.Attempts))
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(wait):
	}

	newID, err := d.queue.Requeue(queueID)
	if err != nil {
		return 0, err
	}
	d.logger.Printf("retrying entry %d as %d (ticket %s, attempt %d, waited %s)",
		queueID, newID, entry.TicketID, entry.Attempts+1, wait)
	return newID, nil
}
