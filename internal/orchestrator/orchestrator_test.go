package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/ticket-orchestrator/internal/commitqueue"
	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
	"github.com/hochfrequenz/ticket-orchestrator/internal/orcerrors"
	"github.com/hochfrequenz/ticket-orchestrator/internal/ticketstore"
)

// fakeTree satisfies commitqueue.Worktree without touching git
type fakeTree struct {
	commits   []string
	commitErr error
	resets    int
}

func (f *fakeTree) Stage(files []string) (staged, missing []string, err error) {
	return files, nil, nil
}

func (f *fakeTree) HasStagedChanges() (bool, error) { return true, nil }

func (f *fakeTree) Commit(message string) (string, error) {
	if f.commitErr != nil {
		return "", f.commitErr
	}
	f.commits = append(f.commits, message)
	return fmt.Sprintf("hash%03d", len(f.commits)), nil
}

func (f *fakeTree) ResetHard() error {
	f.resets++
	return nil
}

type testEnv struct {
	orch  *Orchestrator
	store *ticketstore.Store
	tree  *fakeTree
	logs  *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := ticketstore.New(filepath.Join(t.TempDir(), "tickets.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	queue, err := commitqueue.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { queue.Close() })

	var logs bytes.Buffer
	logger := log.New(&logs, "", 0)

	lock := commitqueue.NewFileLock(filepath.Join(t.TempDir(), "commit.lock"), time.Second, time.Millisecond)
	tree := &fakeTree{}
	drainer := commitqueue.NewDrainer(queue, lock, tree, store, logger, 0)
	drainer.SetBackoffUnit(time.Millisecond)

	return &testEnv{
		orch:  New(store, queue, drainer, logger),
		store: store,
		tree:  tree,
		logs:  &logs,
	}
}

func (e *testEnv) upsert(t *testing.T, ticket *domain.Ticket) {
	t.Helper()
	if err := e.store.UpsertTicket(ticket); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) complete(t *testing.T, id string) {
	t.Helper()
	if err := e.store.UpdateTicketState(id, domain.StateInProgress); err != nil {
		t.Fatal(err)
	}
	if err := e.store.UpdateTicketState(id, domain.StateCompleted); err != nil {
		t.Fatal(err)
	}
}

func TestResolveReadyWork_DependencyCompleted(t *testing.T) {
	env := newTestEnv(t)

	env.upsert(t, &domain.Ticket{ID: "DEPS-001", Title: "Foundation"})
	env.upsert(t, &domain.Ticket{ID: "READY-001", Title: "Next", Dependencies: []string{"DEPS-001"}})
	env.complete(t, "DEPS-001")

	ready, blocked, err := env.orch.ResolveReadyWork()
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0] != "READY-001" {
		t.Errorf("ready = %v, want [READY-001]", ready)
	}
	if len(blocked) != 0 {
		t.Errorf("blocked = %d, want 0", len(blocked))
	}
}

func TestResolveReadyWork_CycleRefusesPass(t *testing.T) {
	env := newTestEnv(t)

	env.upsert(t, &domain.Ticket{ID: "A", Title: "a", Dependencies: []string{"B"}})
	env.upsert(t, &domain.Ticket{ID: "B", Title: "b", Dependencies: []string{"A"}})

	ready, _, err := env.orch.ResolveReadyWork()

	var structural *orcerrors.StructuralError
	if !errors.As(err, &structural) {
		t.Fatalf("ResolveReadyWork = %v, want StructuralError", err)
	}
	if got := strings.Join(structural.Path, " -> "); got != "A -> B -> A" {
		t.Errorf("cycle path = %q, want %q", got, "A -> B -> A")
	}
	if len(ready) != 0 {
		t.Errorf("ready = %v, want none: a cycle refuses the whole pass", ready)
	}
}

func TestResolveReadyWork_OrphanEdgeDropped(t *testing.T) {
	env := newTestEnv(t)

	env.upsert(t, &domain.Ticket{ID: "T1", Title: "t", Dependencies: []string{"GHOST"}})

	ready, _, err := env.orch.ResolveReadyWork()
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0] != "T1" {
		t.Errorf("ready = %v, want [T1] once the orphan edge is dropped", ready)
	}
	if !strings.Contains(env.logs.String(), "GHOST") {
		t.Error("orphan reference was not logged")
	}
}

func TestResolveReadyWork_BlockedReported(t *testing.T) {
	env := newTestEnv(t)

	env.upsert(t, &domain.Ticket{ID: "BASE", Title: "base"})
	env.upsert(t, &domain.Ticket{ID: "WAITING", Title: "w", Dependencies: []string{"BASE"}})

	ready, blocked, err := env.orch.ResolveReadyWork()
	if err != nil {
		t.Fatal(err)
	}
	if len(ready) != 1 || ready[0] != "BASE" {
		t.Errorf("ready = %v, want [BASE]", ready)
	}
	if len(blocked) != 1 || blocked[0].Ticket.ID != "WAITING" {
		t.Fatalf("blocked = %+v, want WAITING reported", blocked)
	}
	if len(blocked[0].WaitingOn) != 1 || blocked[0].WaitingOn[0] != "BASE" {
		t.Errorf("WaitingOn = %v, want [BASE]", blocked[0].WaitingOn)
	}
}

func TestBuildBatch_PriorityBudget(t *testing.T) {
	env := newTestEnv(t)

	env.upsert(t, &domain.Ticket{ID: "T-P0", Title: "urgent", Priority: domain.PriorityP0})
	env.upsert(t, &domain.Ticket{ID: "T-P1", Title: "high", Priority: domain.PriorityP1})
	env.upsert(t, &domain.Ticket{ID: "T-P2", Title: "normal", Priority: domain.PriorityP2})

	ready, _, err := env.orch.ResolveReadyWork()
	if err != nil {
		t.Fatal(err)
	}

	batchIDs, batch, err := env.orch.BuildBatch(ready, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(batchIDs) != 2 || batchIDs[0] != "T-P0" || batchIDs[1] != "T-P1" {
		t.Errorf("batch = %v, want [T-P0 T-P1]", batchIDs)
	}
	if batch.Workers != 2 {
		t.Errorf("workers = %d, want 2", batch.Workers)
	}
}

func TestEnqueueAndDrain(t *testing.T) {
	env := newTestEnv(t)

	env.upsert(t, &domain.Ticket{ID: "T1", Title: "t1"})

	queueID, err := env.orch.EnqueueCommit("worker-1", "T1", "feat: t1 done", []string{"a.go"})
	if err != nil {
		t.Fatal(err)
	}
	if queueID == 0 {
		t.Fatal("EnqueueCommit returned zero queue id")
	}

	result, err := env.orch.DrainQueue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 1 || result.Failed != 0 {
		t.Errorf("result = %+v, want 1 processed", result)
	}
	if len(env.tree.commits) != 1 || env.tree.commits[0] != "feat: t1 done" {
		t.Errorf("commits = %v, want the enqueued message", env.tree.commits)
	}
}

func TestDrain_ConflictDefersTicketInStore(t *testing.T) {
	env := newTestEnv(t)

	env.upsert(t, &domain.Ticket{ID: "T1", Title: "t1"})
	if err := env.store.UpdateTicketState("T1", domain.StateInProgress); err != nil {
		t.Fatal(err)
	}

	env.tree.commitErr = errors.New("git commit failed: exit status 1\nCONFLICT (content): merge conflict in a.go")
	if _, err := env.orch.EnqueueCommit("worker-1", "T1", "doomed", []string{"a.go"}); err != nil {
		t.Fatal(err)
	}

	result, err := env.orch.DrainQueue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 1 {
		t.Errorf("result = %+v, want 1 failed", result)
	}
	if env.tree.resets != 1 {
		t.Errorf("resets = %d, want the work tree rolled back once", env.tree.resets)
	}

	ticket, err := env.store.GetTicket("T1")
	if err != nil {
		t.Fatal(err)
	}
	if ticket.State != domain.StateDeferred {
		t.Errorf("ticket state = %q, want %q", ticket.State, domain.StateDeferred)
	}
}

func TestCriticalPath(t *testing.T) {
	env := newTestEnv(t)

	env.upsert(t, &domain.Ticket{ID: "A", Title: "a"})
	env.upsert(t, &domain.Ticket{ID: "B", Title: "b", Dependencies: []string{"A"}})
	env.upsert(t, &domain.Ticket{ID: "C", Title: "c", Dependencies: []string{"B"}})

	report, err := env.orch.CriticalPath()
	if err != nil {
		t.Fatal(err)
	}
	if report.CriticalID != "C" || report.MaxDepth != 3 {
		t.Errorf("critical = %s depth %d, want C at 3", report.CriticalID, report.MaxDepth)
	}
}
