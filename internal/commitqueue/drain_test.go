package commitqueue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
	"github.com/hochfrequenz/ticket-orchestrator/internal/notify"
	"github.com/hochfrequenz/ticket-orchestrator/internal/orcerrors"
)

// fakeTree is an in-memory Worktree that records commits in order
type fakeTree struct {
	commits   []string
	missing   map[string]bool
	commitErr error
	resets    int
}

func (f *fakeTree) Stage(files []string) (staged, missing []string, err error) {
	for _, file := range files {
		if f.missing[file] {
			missing = append(missing, file)
			continue
		}
		staged = append(staged, file)
	}
	return staged, missing, nil
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

// fakeDeferrer records requested state transitions
type fakeDeferrer struct {
	transitions map[string]domain.TicketState
}

func (f *fakeDeferrer) UpdateTicketState(id string, state domain.TicketState) error {
	if f.transitions == nil {
		f.transitions = make(map[string]domain.TicketState)
	}
	f.transitions[id] = state
	return nil
}

func newTestDrainer(t *testing.T, tree Worktree, tickets TicketDeferrer) (*Drainer, *Queue) {
	t.Helper()
	queue := newTestQueue(t)
	lock := NewFileLock(filepath.Join(t.TempDir(), "commit.lock"), time.Second, time.Millisecond)
	logger := log.New(io.Discard, "", 0)
	drainer := NewDrainer(queue, lock, tree, tickets, logger, 0)
	drainer.SetBackoffUnit(time.Millisecond)
	return drainer, queue
}

func TestDrain_FIFO(t *testing.T) {
	tree := &fakeTree{}
	drainer, queue := newTestDrainer(t, tree, &fakeDeferrer{})

	if _, err := queue.Enqueue("W1", "T1", "first commit", []string{"a.go"}); err != nil {
		t.Fatal(err)
	}
	if _, err := queue.Enqueue("W2", "T2", "second commit", []string{"b.go"}); err != nil {
		t.Fatal(err)
	}

	result, err := drainer.Drain(context.Background(), "orchestrator")
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 2 || result.Failed != 0 {
		t.Errorf("result = %+v, want 2 processed", result)
	}

	want := []string{"first commit", "second commit"}
	if len(tree.commits) != 2 || tree.commits[0] != want[0] || tree.commits[1] != want[1] {
		t.Errorf("commits = %v, want %v (enqueue order)", tree.commits, want)
	}

	entries, err := queue.List(EntryCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("completed entries = %d, want 2", len(entries))
	}
	if entries[0].CommitHash == "" || entries[0].CompletedAt.IsZero() {
		t.Errorf("completed entry missing audit fields: %+v", entries[0])
	}
}

func TestDrain_FIFOProperty(t *testing.T) {
	tree := &fakeTree{}
	drainer, queue := newTestDrainer(t, tree, &fakeDeferrer{})

	var want []string
	for i := 0; i < 20; i++ {
		message := fmt.Sprintf("commit %02d", i)
		if _, err := queue.Enqueue("W1", "T1", message, []string{"a.go"}); err != nil {
			t.Fatal(err)
		}
		want = append(want, message)
	}

	result, err := drainer.Drain(context.Background(), "orchestrator")
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 20 {
		t.Fatalf("processed = %d, want 20", result.Processed)
	}
	for i := range want {
		if tree.commits[i] != want[i] {
			t.Fatalf("commits[%d] = %q, want %q", i, tree.commits[i], want[i])
		}
	}
}

func TestDrainOne_Empty(t *testing.T) {
	drainer, _ := newTestDrainer(t, &fakeTree{}, &fakeDeferrer{})

	err := drainer.DrainOne(context.Background(), "orchestrator")
	if !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("DrainOne = %v, want ErrQueueEmpty", err)
	}
}

func TestDrainOne_MissingFilesSkipped(t *testing.T) {
	tree := &fakeTree{missing: map[string]bool{"gone.go": true}}
	drainer, queue := newTestDrainer(t, tree, &fakeDeferrer{})

	if _, err := queue.Enqueue("W1", "T1", "partial", []string{"a.go", "gone.go"}); err != nil {
		t.Fatal(err)
	}

	if err := drainer.DrainOne(context.Background(), "orchestrator"); err != nil {
		t.Fatalf("missing file must not fail the entry: %v", err)
	}
	if len(tree.commits) != 1 {
		t.Errorf("commits = %v, want the partial staging committed", tree.commits)
	}
}

func TestDrainOne_NothingStagedFailsWithoutCommit(t *testing.T) {
	tree := &fakeTree{missing: map[string]bool{"a.go": true, "b.go": true}}
	drainer, queue := newTestDrainer(t, tree, &fakeDeferrer{})

	id, err := queue.Enqueue("W1", "T1", "empty", []string{"a.go", "b.go"})
	if err != nil {
		t.Fatal(err)
	}

	err = drainer.DrainOne(context.Background(), "orchestrator")
	var staging *orcerrors.StagingFailure
	if !errors.As(err, &staging) {
		t.Fatalf("DrainOne = %v, want StagingFailure", err)
	}
	if len(tree.commits) != 0 {
		t.Errorf("commit attempted with nothing staged: %v", tree.commits)
	}

	entry, err := queue.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != EntryFailed {
		t.Errorf("entry status = %q, want %q", entry.Status, EntryFailed)
	}
}

func TestDrainOne_ConflictDefersTicket(t *testing.T) {
	tree := &fakeTree{commitErr: errors.New("git commit failed: exit status 1\nCONFLICT (content): merge conflict in a.go")}
	tickets := &fakeDeferrer{}
	drainer, queue := newTestDrainer(t, tree, tickets)

	id, err := queue.Enqueue("W1", "T1", "conflicted", []string{"a.go"})
	if err != nil {
		t.Fatal(err)
	}

	err = drainer.DrainOne(context.Background(), "orchestrator")
	var conflict *orcerrors.CommitConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("DrainOne = %v, want CommitConflict", err)
	}
	if conflict.TicketID != "T1" {
		t.Errorf("conflict ticket = %q, want T1", conflict.TicketID)
	}

	if tree.resets != 1 {
		t.Errorf("resets = %d, want the work tree reset exactly once", tree.resets)
	}
	if tickets.transitions["T1"] != domain.StateDeferred {
		t.Errorf("ticket state = %q, want %q", tickets.transitions["T1"], domain.StateDeferred)
	}

	entry, err := queue.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != EntryFailed {
		t.Errorf("entry status = %q, want %q", entry.Status, EntryFailed)
	}
}

func TestDrain_CountsFailures(t *testing.T) {
	tree := &fakeTree{missing: map[string]bool{"gone.go": true}}
	drainer, queue := newTestDrainer(t, tree, &fakeDeferrer{})

	if _, err := queue.Enqueue("W1", "T1", "good", []string{"a.go"}); err != nil {
		t.Fatal(err)
	}
	if _, err := queue.Enqueue("W2", "T2", "bad", []string{"gone.go"}); err != nil {
		t.Fatal(err)
	}
	if _, err := queue.Enqueue("W3", "T3", "also good", []string{"b.go"}); err != nil {
		t.Fatal(err)
	}

	result, err := drainer.Drain(context.Background(), "orchestrator")
	if err != nil {
		t.Fatal(err)
	}
	if result.Processed != 2 || result.Failed != 1 {
		t.Errorf("result = %+v, want 2 processed and 1 failed", result)
	}
}

func TestDrain_ReleasesLockBetweenEntries(t *testing.T) {
	tree := &fakeTree{}
	drainer, queue := newTestDrainer(t, tree, &fakeDeferrer{})

	if _, err := queue.Enqueue("W1", "T1", "msg", []string{"a.go"}); err != nil {
		t.Fatal(err)
	}

	if _, err := drainer.Drain(context.Background(), "orchestrator"); err != nil {
		t.Fatal(err)
	}

	if _, _, held, _ := drainer.lock.Holder(); held {
		t.Error("lock still held after drain finished")
	}
}

func TestRetry_RequeuesWithBackoff(t *testing.T) {
	tree := &fakeTree{}
	drainer, queue := newTestDrainer(t, tree, &fakeDeferrer{})

	id, err := queue.Enqueue("W1", "T1", "flaky", []string{"a.go"})
	if err != nil {
		t.Fatal(err)
	}
	if err := queue.MarkFailed(id, "transient"); err != nil {
		t.Fatal(err)
	}

	newID, err := drainer.Retry(context.Background(), id, 3)
	if err != nil {
		t.Fatal(err)
	}
	if newID <= id {
		t.Errorf("retried entry id %d not behind original %d", newID, id)
	}

	entry, err := queue.Get(newID)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != EntryQueued {
		t.Errorf("retried status = %q, want %q", entry.Status, EntryQueued)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	tree := &fakeTree{}
	drainer, queue := newTestDrainer(t, tree, &fakeDeferrer{})

	id, err := queue.Enqueue("W1", "T1", "doomed", []string{"a.go"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := queue.MarkFailed(id, "still broken"); err != nil {
			t.Fatal(err)
		}
	}

	_, err = drainer.Retry(context.Background(), id, 3)
	var exhausted *orcerrors.RetryExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("Retry = %v, want RetryExhausted", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", exhausted.Attempts)
	}

	// The entry stays failed and visible for manual handling.
	entry, err := queue.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil || entry.Status != EntryFailed {
		t.Errorf("entry = %+v, want retained in failed state", entry)
	}
}

func TestDrainOne_ConflictNotifies(t *testing.T) {
	tree := &fakeTree{commitErr: errors.New("git commit failed: exit status 1\nCONFLICT (content): merge conflict in a.go")}
	drainer, queue := newTestDrainer(t, tree, &fakeDeferrer{})
	sink := &sinkNotifier{}
	drainer.SetNotifier(sink)

	if _, err := queue.Enqueue("W1", "T1", "conflicted", []string{"a.go"}); err != nil {
		t.Fatal(err)
	}
	drainer.DrainOne(context.Background(), "orchestrator")

	if len(sink.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sink.sent))
	}
	if sink.sent[0].TicketID != "T1" {
		t.Errorf("notification ticket = %q, want T1", sink.sent[0].TicketID)
	}
	if sink.sent[0].Type != notify.NotifyWarning {
		t.Errorf("notification type = %v, want NotifyWarning", sink.sent[0].Type)
	}
}

func TestRetry_ExhaustedNotifies(t *testing.T) {
	drainer, queue := newTestDrainer(t, &fakeTree{}, &fakeDeferrer{})
	sink := &sinkNotifier{}
	drainer.SetNotifier(sink)

	id, err := queue.Enqueue("W1", "T1", "doomed", []string{"a.go"})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := queue.MarkFailed(id, "still broken"); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := drainer.Retry(context.Background(), id, 2); err == nil {
		t.Fatal("Retry should have reported exhaustion")
	}
	if len(sink.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sink.sent))
	}
	if sink.sent[0].Type != notify.NotifyError {
		t.Errorf("notification type = %v, want NotifyError", sink.sent[0].Type)
	}
}

type sinkNotifier struct{ sent []notify.Notification }

func (s *sinkNotifier) Send(n notify.Notification) error {
	s.sent = append(s.sent, n)
	return nil
}

func TestRetry_RejectsQueuedEntry(t *testing.T) {
	drainer, queue := newTestDrainer(t, &fakeTree{}, &fakeDeferrer{})

	id, err := queue.Enqueue("W1", "T1", "msg", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := drainer.Retry(context.Background(), id, 3); err == nil {
		t.Error("Retry accepted an entry that is not failed")
	}
}
