package commitqueue

import (
	"path/filepath"
	"testing"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	queue, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { queue.Close() })
	return queue
}

func TestQueue_EnqueueAndNext(t *testing.T) {
	queue := newTestQueue(t)

	id, err := queue.Enqueue("worker-1", "TICKET-001", "feat: add parser", []string{"parser.go", "parser_test.go"})
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Error("Enqueue returned zero queue id")
	}

	entry, err := queue.Next()
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil {
		t.Fatal("Next returned nil with one entry queued")
	}
	if entry.QueueID != id {
		t.Errorf("QueueID = %d, want %d", entry.QueueID, id)
	}
	if entry.WorkerID != "worker-1" || entry.TicketID != "TICKET-001" {
		t.Errorf("entry = %+v, want worker-1/TICKET-001", entry)
	}
	if entry.Status != EntryQueued {
		t.Errorf("Status = %q, want %q", entry.Status, EntryQueued)
	}
	if len(entry.Files) != 2 || entry.Files[0] != "parser.go" {
		t.Errorf("Files = %v, want the enqueued list in order", entry.Files)
	}
	if entry.QueuedAt.IsZero() {
		t.Error("QueuedAt not recorded")
	}
}

func TestQueue_EnqueueValidation(t *testing.T) {
	queue := newTestQueue(t)

	if _, err := queue.Enqueue("worker-1", "", "msg", nil); err == nil {
		t.Error("Enqueue accepted empty ticket id")
	}
	if _, err := queue.Enqueue("worker-1", "TICKET-001", "", nil); err == nil {
		t.Error("Enqueue accepted empty commit message")
	}
}

func TestQueue_MonotonicIDs(t *testing.T) {
	queue := newTestQueue(t)

	var last int64
	for i := 0; i < 100; i++ {
		id, err := queue.Enqueue("worker-1", "TICKET-001", "msg", nil)
		if err != nil {
			t.Fatal(err)
		}
		if id <= last {
			t.Fatalf("id %d not greater than previous %d at enqueue %d", id, last, i)
		}
		last = id
	}
}

func TestQueue_FIFOOrder(t *testing.T) {
	queue := newTestQueue(t)

	first, err := queue.Enqueue("W1", "T1", "first", nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := queue.Enqueue("W2", "T2", "second", nil)
	if err != nil {
		t.Fatal(err)
	}

	entry, err := queue.Next()
	if err != nil {
		t.Fatal(err)
	}
	if entry.QueueID != first {
		t.Errorf("Next = entry %d, want the older entry %d", entry.QueueID, first)
	}

	if err := queue.MarkCompleted(first, "abc1234"); err != nil {
		t.Fatal(err)
	}

	entry, err = queue.Next()
	if err != nil {
		t.Fatal(err)
	}
	if entry.QueueID != second {
		t.Errorf("Next after drain = entry %d, want %d", entry.QueueID, second)
	}
}

func TestQueue_NextEmpty(t *testing.T) {
	queue := newTestQueue(t)

	entry, err := queue.Next()
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Errorf("Next on empty queue = %+v, want nil", entry)
	}
}

func TestQueue_MarkFailedBumpsAttempts(t *testing.T) {
	queue := newTestQueue(t)

	id, err := queue.Enqueue("W1", "T1", "msg", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := queue.MarkFailed(id, "nothing staged"); err != nil {
		t.Fatal(err)
	}

	entry, err := queue.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != EntryFailed {
		t.Errorf("Status = %q, want %q", entry.Status, EntryFailed)
	}
	if entry.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", entry.Attempts)
	}
	if entry.LastError != "nothing staged" {
		t.Errorf("LastError = %q, want the failure reason", entry.LastError)
	}
	if entry.FailedAt.IsZero() {
		t.Error("FailedAt not recorded")
	}
}

func TestQueue_RequeueMovesToBack(t *testing.T) {
	queue := newTestQueue(t)

	failedID, err := queue.Enqueue("W1", "T1", "first", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := queue.MarkFailed(failedID, "transient"); err != nil {
		t.Fatal(err)
	}
	waitingID, err := queue.Enqueue("W2", "T2", "second", nil)
	if err != nil {
		t.Fatal(err)
	}

	newID, err := queue.Requeue(failedID)
	if err != nil {
		t.Fatal(err)
	}
	if newID <= waitingID {
		t.Errorf("requeued id %d not behind waiting entry %d", newID, waitingID)
	}

	// The retried entry re-enters at the back, never the front.
	entry, err := queue.Next()
	if err != nil {
		t.Fatal(err)
	}
	if entry.QueueID != waitingID {
		t.Errorf("Next = %d, want the entry that was already waiting (%d)", entry.QueueID, waitingID)
	}

	requeued, err := queue.Get(newID)
	if err != nil {
		t.Fatal(err)
	}
	if requeued.Status != EntryQueued {
		t.Errorf("requeued status = %q, want %q", requeued.Status, EntryQueued)
	}
	if requeued.Attempts != 1 {
		t.Errorf("requeued attempts = %d, want the counter carried over", requeued.Attempts)
	}
}

func TestQueue_RequeueRejectsNonFailed(t *testing.T) {
	queue := newTestQueue(t)

	id, err := queue.Enqueue("W1", "T1", "msg", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := queue.Requeue(id); err == nil {
		t.Error("Requeue accepted a queued entry")
	}
}

func TestQueue_PruneCompleted(t *testing.T) {
	queue := newTestQueue(t)

	var completed []int64
	for i := 0; i < 5; i++ {
		id, err := queue.Enqueue("W1", "T1", "msg", nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := queue.MarkCompleted(id, "abc1234"); err != nil {
			t.Fatal(err)
		}
		completed = append(completed, id)
	}
	failedID, err := queue.Enqueue("W1", "T2", "msg", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := queue.MarkFailed(failedID, "broken"); err != nil {
		t.Fatal(err)
	}

	pruned, err := queue.PruneCompleted(2)
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 3 {
		t.Errorf("pruned = %d, want 3", pruned)
	}

	remaining, err := queue.List(EntryCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 2 {
		t.Fatalf("completed remaining = %d, want 2", len(remaining))
	}
	if remaining[0].QueueID != completed[3] || remaining[1].QueueID != completed[4] {
		t.Errorf("kept %d and %d, want the most recent two", remaining[0].QueueID, remaining[1].QueueID)
	}

	// Failed entries are retained regardless of pruning.
	if entry, err := queue.Get(failedID); err != nil || entry == nil {
		t.Errorf("failed entry pruned: entry=%v err=%v", entry, err)
	}
}

func TestQueue_Depth(t *testing.T) {
	queue := newTestQueue(t)

	for i := 0; i < 3; i++ {
		if _, err := queue.Enqueue("W1", "T1", "msg", nil); err != nil {
			t.Fatal(err)
		}
	}
	id, err := queue.Enqueue("W1", "T2", "msg", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := queue.MarkCompleted(id, "abc1234"); err != nil {
		t.Fatal(err)
	}

	depth, err := queue.Depth()
	if err != nil {
		t.Fatal(err)
	}
	if depth != 3 {
		t.Errorf("Depth = %d, want 3", depth)
	}
}
