package dispatch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
	"github.com/hochfrequenz/ticket-orchestrator/internal/observer"
	"github.com/hochfrequenz/ticket-orchestrator/internal/workerproto"
)

// StateStore moves tickets between states as workers claim and finish
// them.
type StateStore interface {
	UpdateTicketState(id string, state domain.TicketState) error
}

// ChangeDetector reports which files in the working tree differ from
// the last commit.
type ChangeDetector interface {
	ChangedFiles() ([]string, error)
}

// CommitEnqueuer hands finished work to the commit queue
type CommitEnqueuer interface {
	EnqueueCommit(workerID, ticketID, message string, files []string) (int64, error)
}

// Pool hands tickets to remote workers. When no pool is set, or no
// remote slot is free, tickets run locally.
type Pool interface {
	HasCapacity() bool
	Submit(ctx context.Context, assign *workerproto.AssignMessage) (*workerproto.Result, error)
}

// Config describes the worker command to run per ticket. The ticket ID
// is appended as the final argument, and TICKET_* environment variables
// carry the details.
type Config struct {
	Command string
	Args    []string
	Dir     string
	LogDir  string
}

// Dispatcher runs worker processes for a batch of tickets
type Dispatcher struct {
	store    StateStore
	detector ChangeDetector
	queue    CommitEnqueuer
	obs      *observer.Observer
	logger   *log.Logger
	cfg      Config
	runs     *Manager
	pool     Pool
}

// NewDispatcher wires a dispatcher. obs may be nil when no metrics are
// wanted.
func NewDispatcher(store StateStore, detector ChangeDetector, queue CommitEnqueuer, obs *observer.Observer, logger *log.Logger, cfg Config) *Dispatcher {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &Dispatcher{
		store:    store,
		detector: detector,
		queue:    queue,
		obs:      obs,
		logger:   logger,
		cfg:      cfg,
		runs:     NewManager(),
	}
}

// Runs returns the run registry for dashboards
func (d *Dispatcher) Runs() *Manager {
	return d.runs
}

// SetPool enables handing tickets to remote workers
func (d *Dispatcher) SetPool(pool Pool) {
	d.pool = pool
}

// BatchResult summarizes one batch of worker runs
type BatchResult struct {
	Completed  []string
	Failed     []string
	RolledBack []string
	Skipped    []string
}

// RunBatch executes workers for the given tickets, at most workers at a
// time. Per-ticket failures are recorded in the result rather than
// aborting the batch.
func (d *Dispatcher) RunBatch(ctx context.Context, tickets []*domain.Ticket, workers int) (*BatchResult, error) {
	if workers < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", workers)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	result := &BatchResult{}

	for _, ticket := range tickets {
		t := ticket // capture for goroutine
		g.Go(func() error {
			status := d.runOne(ctx, t)

			mu.Lock()
			defer mu.Unlock()
			switch status {
			case RunCompleted:
				result.Completed = append(result.Completed, t.ID)
			case RunFailed:
				result.Failed = append(result.Failed, t.ID)
			case RunRolledBack:
				result.RolledBack = append(result.RolledBack, t.ID)
			default:
				result.Skipped = append(result.Skipped, t.ID)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

// runOne claims a ticket, runs the worker command and settles the
// ticket state from the outcome.
func (d *Dispatcher) runOne(ctx context.Context, t *domain.Ticket) RunStatus {
	if err := d.store.UpdateTicketState(t.ID, domain.StateInProgress); err != nil {
		d.logger.Printf("skipping ticket %s: %v", t.ID, err)
		return ""
	}

	run := &Run{
		ID:       uuid.NewString(),
		TicketID: t.ID,
		status:   RunRunning,
	}
	run.WorkerID = "worker-" + run.ID[:8]
	run.startedAt = time.Now()
	d.runs.Add(run)

	d.logger.Printf("ticket %s: starting worker %s", t.ID, run.WorkerID)

	var runErr error
	var remoteChanged []string
	remote := d.pool != nil && d.pool.HasCapacity()
	if remote {
		remoteChanged, runErr = d.execRemote(ctx, run, t)
	} else {
		runErr = d.execWorker(ctx, run, t)
	}
	if runErr != nil {
		if err := d.store.UpdateTicketState(t.ID, domain.StateFailed); err != nil {
			d.logger.Printf("warning: marking ticket %s failed: %v", t.ID, err)
		}
		if d.obs != nil {
			d.obs.RecordFailure(t.ID, run.Duration())
		}
		run.finish(RunFailed, runErr)
		d.logger.Printf("ticket %s: worker failed: %v", t.ID, runErr)
		return RunFailed
	}

	var files []string
	var changed bool
	if remote {
		files, changed = filesToCommit(t, remoteChanged)
	} else {
		files, changed = d.changesFor(t)
	}
	if !changed {
		// The worker exited cleanly but produced nothing, so the
		// ticket goes back to the ready pool untouched.
		if err := d.store.UpdateTicketState(t.ID, domain.StateUnprocessed); err != nil {
			d.logger.Printf("warning: rolling back ticket %s: %v", t.ID, err)
		}
		run.finish(RunRolledBack, nil)
		d.logger.Printf("ticket %s: worker made no changes, returned to ready pool", t.ID)
		return RunRolledBack
	}

	if err := d.store.UpdateTicketState(t.ID, domain.StateCompleted); err != nil {
		d.logger.Printf("warning: marking ticket %s completed: %v", t.ID, err)
	}
	if d.obs != nil {
		d.obs.RecordCompletion(t.ID, run.Duration())
	}

	message := fmt.Sprintf("%s: %s", t.ID, t.Title)
	if _, err := d.queue.EnqueueCommit(run.WorkerID, t.ID, message, files); err != nil {
		d.logger.Printf("warning: ticket %s completed but enqueue failed: %v", t.ID, err)
	}

	run.finish(RunCompleted, nil)
	return RunCompleted
}

// execWorker starts the worker process and streams its output until it
// exits.
func (d *Dispatcher) execWorker(ctx context.Context, run *Run, t *domain.Ticket) error {
	args := append(append([]string{}, d.cfg.Args...), t.ID)
	cmd := exec.CommandContext(ctx, d.cfg.Command, args...)
	cmd.Dir = d.cfg.Dir
	cmd.Env = append(os.Environ(),
		"TICKET_ID="+t.ID,
		"TICKET_TITLE="+t.Title,
		"TICKET_FILE="+t.FilePath,
		"TICKET_PRIORITY="+string(t.Priority),
	)

	var logFile *os.File
	if d.cfg.LogDir != "" {
		if err := os.MkdirAll(d.cfg.LogDir, 0755); err == nil {
			run.LogPath = filepath.Join(d.cfg.LogDir, run.WorkerID+".log")
			logFile, _ = os.Create(run.LogPath)
		}
	}
	if logFile != nil {
		defer logFile.Close()
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", d.cfg.Command, err)
	}
	run.PID = cmd.Process.Pid

	var wg sync.WaitGroup
	wg.Add(2)
	readLines := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			run.appendOutput(line)
			if logFile != nil {
				logFile.WriteString(line + "\n")
				logFile.Sync()
			}
		}
	}
	go readLines(stdout)
	go readLines(stderr)
	wg.Wait()

	return cmd.Wait()
}

// execRemote hands the ticket to the worker pool and waits for the
// outcome.
func (d *Dispatcher) execRemote(ctx context.Context, run *Run, t *domain.Ticket) ([]string, error) {
	result, err := d.pool.Submit(ctx, &workerproto.AssignMessage{
		TicketID: t.ID,
		Title:    t.Title,
		Priority: string(t.Priority),
		FilePath: t.FilePath,
		Env: map[string]string{
			"TICKET_ID":       t.ID,
			"TICKET_TITLE":    t.Title,
			"TICKET_FILE":     t.FilePath,
			"TICKET_PRIORITY": string(t.Priority),
		},
	})
	if err != nil {
		return nil, err
	}

	for _, line := range strings.Split(strings.TrimRight(result.Output, "\n"), "\n") {
		if line != "" {
			run.appendOutput(line)
		}
	}

	if result.ExitCode != 0 {
		return nil, fmt.Errorf("worker exited with code %d", result.ExitCode)
	}
	return result.ChangedFiles, nil
}

// changesFor decides which files a completed local ticket should
// commit, from the shared tree's current state.
func (d *Dispatcher) changesFor(t *domain.Ticket) ([]string, bool) {
	changed, err := d.detector.ChangedFiles()
	if err != nil {
		d.logger.Printf("warning: change detection failed for %s: %v", t.ID, err)
		// Trust declared artifacts; staging catches any that are
		// actually untouched. Without artifacts the ticket rolls back.
		if len(t.Artifacts) > 0 {
			return t.Artifacts, true
		}
		return nil, false
	}
	return filesToCommit(t, changed)
}

// filesToCommit selects the commit file list. A ticket that declares
// artifacts commits those, and only counts as changed when at least one
// artifact was touched; otherwise everything the worker touched goes
// in.
func filesToCommit(t *domain.Ticket, changed []string) ([]string, bool) {
	if len(t.Artifacts) == 0 {
		return changed, len(changed) > 0
	}

	changedSet := make(map[string]bool, len(changed))
	for _, f := range changed {
		changedSet[filepath.Clean(f)] = true
	}
	for _, artifact := range t.Artifacts {
		if changedSet[filepath.Clean(artifact)] {
			return t.Artifacts, true
		}
	}
	return nil, false
}
