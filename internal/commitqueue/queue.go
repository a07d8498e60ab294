// Package commitqueue serializes commits from concurrent workers into
// a single shared history. Entries drain strictly in enqueue order
// under a cross-process lock; conflicts are never merged, only rolled
// back.
package commitqueue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// EntryStatus is the lifecycle state of one queue entry
type EntryStatus string

const (
	EntryQueued    EntryStatus = "queued"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
)

// Entry is one worker's request to persist file changes for a ticket.
// Entries are retained after completion or failure for audit.
type Entry struct {
	QueueID     int64
	WorkerID    string
	TicketID    string
	Message     string
	Files       []string
	Status      EntryStatus
	Attempts    int
	LastError   string
	CommitHash  string
	QueuedAt    time.Time
	CompletedAt time.Time
	FailedAt    time.Time
}

// idGenerator hands out strictly increasing nanosecond ids so entries
// stay ordered even when two enqueues land on the same clock reading.
type idGenerator struct {
	mu   sync.Mutex
	last int64
}

func (g *idGenerator) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := time.Now().UnixNano()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}

// Queue is the durable entry store, shared between processes through
// SQLite.
type Queue struct {
	db  *sql.DB
	ids idGenerator
}

// Open opens or creates the queue database at dbPath
func Open(dbPath string) (*Queue, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening queue database: %w", err)
	}

	// Unrelated processes share this database.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Queue{db: db}, nil
}

// Close closes the underlying database
func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue appends a commit request and returns its queue id
func (q *Queue) Enqueue(workerID, ticketID, message string, files []string) (int64, error) {
	if ticketID == "" {
		return 0, fmt.Errorf("enqueue: ticket id is required")
	}
	if message == "" {
		return 0, fmt.Errorf("enqueue: commit message is required")
	}

	filesJSON, err := json.Marshal(files)
	if err != nil {
		return 0, fmt.Errorf("marshaling files: %w", err)
	}

	id := q.ids.next()
	_, err = q.db.Exec(`
		INSERT INTO queue_entries (queue_id, worker_id, ticket_id, commit_message, files, status, queued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, workerID, ticketID, message, string(filesJSON), EntryQueued, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueueing entry for %s: %w", ticketID, err)
	}
	return id, nil
}

const entryColumns = `queue_id, worker_id, ticket_id, commit_message, files, status, attempts,
	COALESCE(last_error, ''), COALESCE(commit_hash, ''), queued_at, completed_at, failed_at`

// Next returns the oldest queued entry, or nil when the queue is empty
func (q *Queue) Next() (*Entry, error) {
	row := q.db.QueryRow(`
		SELECT `+entryColumns+`
		FROM queue_entries WHERE status = ? ORDER BY queue_id ASC LIMIT 1`, EntryQueued)

	entry, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

// Get returns the entry with the given queue id, or nil if unknown
func (q *Queue) Get(queueID int64) (*Entry, error) {
	row := q.db.QueryRow(`
		SELECT `+entryColumns+`
		FROM queue_entries WHERE queue_id = ?`, queueID)

	entry, err := scanEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

// List returns entries in queue order, optionally filtered by status
func (q *Queue) List(status EntryStatus) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_entries`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY queue_id ASC`

	rows, err := q.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Depth returns the number of entries still waiting to drain
func (q *Queue) Depth() (int, error) {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM queue_entries WHERE status = ?`, EntryQueued).Scan(&n)
	return n, err
}

// MarkCompleted records a successful drain with the resulting commit
func (q *Queue) MarkCompleted(queueID int64, commitHash string) error {
	result, err := q.db.Exec(`
		UPDATE queue_entries SET status = ?, commit_hash = ?, completed_at = ?
		WHERE queue_id = ?`,
		EntryCompleted, commitHash, time.Now(), queueID,
	)
	if err != nil {
		return fmt.Errorf("marking entry %d completed: %w", queueID, err)
	}
	return requireRow(result, queueID)
}

// MarkFailed records a failed drain attempt and bumps the attempt
// counter.
func (q *Queue) MarkFailed(queueID int64, reason string) error {
	result, err := q.db.Exec(`
		UPDATE queue_entries SET status = ?, last_error = ?, attempts = attempts + 1, failed_at = ?
		WHERE queue_id = ?`,
		EntryFailed, reason, time.Now(), queueID,
	)
	if err != nil {
		return fmt.Errorf("marking entry %d failed: %w", queueID, err)
	}
	return requireRow(result, queueID)
}

// Requeue moves a failed entry to the back of the queue under a fresh
// id. The attempt counter carries over so retry budgets keep counting.
func (q *Queue) Requeue(queueID int64) (int64, error) {
	newID := q.ids.next()
	result, err := q.db.Exec(`
		UPDATE queue_entries SET queue_id = ?, status = ?, queued_at = ?, failed_at = NULL
		WHERE queue_id = ? AND status = ?`,
		newID, EntryQueued, time.Now(), queueID, EntryFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("requeueing entry %d: %w", queueID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, fmt.Errorf("entry %d is not in a failed state", queueID)
	}
	return newID, nil
}

// PruneCompleted deletes completed entries beyond the most recent keep,
// returning how many were removed. Failed entries are never pruned.
func (q *Queue) PruneCompleted(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := q.db.Exec(`
		DELETE FROM queue_entries WHERE status = ? AND queue_id NOT IN (
			SELECT queue_id FROM queue_entries WHERE status = ?
			ORDER BY queue_id DESC LIMIT ?
		)`,
		EntryCompleted, EntryCompleted, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("pruning completed entries: %w", err)
	}
	affected, err := result.RowsAffected()
	return int(affected), err
}

func requireRow(result sql.Result, queueID int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("queue entry %d not found", queueID)
	}
	return nil
}

// scanEntry builds an Entry from a row or rows scan function
func scanEntry(scan func(dest ...interface{}) error) (*Entry, error) {
	var entry Entry
	var filesJSON sql.NullString
	var completedAt, failedAt sql.NullTime

	err := scan(
		&entry.QueueID, &entry.WorkerID, &entry.TicketID, &entry.Message,
		&filesJSON, &entry.Status, &entry.Attempts,
		&entry.LastError, &entry.CommitHash,
		&entry.QueuedAt, &completedAt, &failedAt,
	)
	if err != nil {
		return nil, err
	}

	if filesJSON.Valid && filesJSON.String != "" && filesJSON.String != "null" {
		if err := json.Unmarshal([]byte(filesJSON.String), &entry.Files); err != nil {
			return nil, fmt.Errorf("unmarshaling files for entry %d: %w", entry.QueueID, err)
		}
	}
	if completedAt.Valid {
		entry.CompletedAt = completedAt.Time
	}
	if failedAt.Valid {
		entry.FailedAt = failedAt.Time
	}
	return &entry, nil
}
