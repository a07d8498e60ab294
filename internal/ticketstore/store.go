// Package ticketstore provides SQLite-backed ticket persistence.
// The database file is shared between unrelated worker processes,
// so every write goes through SQLite's own locking rather than any
// in-process mutex.
package ticketstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a ticket id is unknown
var ErrNotFound = errors.New("ticket not found")

// Store provides SQLite-backed ticket persistence
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	// Concurrent processes share this file; wait out writer locks
	// instead of failing with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertTicket inserts or updates a ticket. On update the state
// column is left alone: state belongs to the scheduling core once a
// ticket exists, a file re-sync must not clobber in_progress.
func (s *Store) UpsertTicket(t *domain.Ticket) error {
	if err := t.Validate(); err != nil {
		return err
	}

	depsJSON, err := json.Marshal(t.Dependencies)
	if err != nil {
		return err
	}
	artifactsJSON, err := json.Marshal(t.Artifacts)
	if err != nil {
		return err
	}

	state := t.State
	if state == "" {
		state = domain.StateUnprocessed
	}
	priority := t.Priority
	if priority == "" {
		priority = domain.DefaultPriority
	}

	_, err = s.db.Exec(`
		INSERT INTO tickets (id, title, state, priority, dependencies, parent, artifacts, file_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			priority = excluded.priority,
			dependencies = excluded.dependencies,
			parent = excluded.parent,
			artifacts = excluded.artifacts,
			file_path = excluded.file_path,
			updated_at = excluded.updated_at
	`,
		t.ID,
		t.Title,
		string(state),
		string(priority),
		string(depsJSON),
		t.Parent,
		string(artifactsJSON),
		t.FilePath,
		t.CreatedAt,
		t.UpdatedAt,
	)
	return err
}

// GetTicket retrieves a ticket by ID, nil if unknown
func (s *Store) GetTicket(id string) (*domain.Ticket, error) {
	row := s.db.QueryRow(`
		SELECT id, title, state, priority, dependencies, parent, artifacts, file_path, created_at, updated_at
		FROM tickets WHERE id = ?
	`, id)

	t, err := scanTicket(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// ListOptions specifies filters for listing tickets
type ListOptions struct {
	State  domain.TicketState
	Parent string
}

// ListTickets returns tickets matching the given options in original
// insertion order. Stable ordering is what makes ready-work
// tie-breaking repeatable.
func (s *Store) ListTickets(opts ListOptions) ([]*domain.Ticket, error) {
	query := `SELECT id, title, state, priority, dependencies, parent, artifacts, file_path, created_at, updated_at FROM tickets WHERE 1=1`
	var args []interface{}

	if opts.State != "" {
		query += " AND state = ?"
		args = append(args, string(opts.State))
	}
	if opts.Parent != "" {
		query += " AND parent = ?"
		args = append(args, opts.Parent)
	}

	query += " ORDER BY seq"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []*domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows.Scan)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}

	return tickets, rows.Err()
}

// UpdateTicketState applies a validated state transition. The write
// is a compare-and-set on the previous state so concurrent updates
// from other processes are never silently lost.
func (s *Store) UpdateTicketState(id string, state domain.TicketState) error {
	for attempt := 0; attempt < 3; attempt++ {
		var current string
		err := s.db.QueryRow(`SELECT state FROM tickets WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		from := domain.TicketState(current)
		if from == state {
			return nil
		}
		if !domain.ValidTransition(from, state) {
			return fmt.Errorf("invalid transition for %s: %s -> %s", id, from, state)
		}

		res, err := s.db.Exec(`UPDATE tickets SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
			string(state), time.Now(), id, current)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 {
			return nil
		}
		// Lost the race with another writer; re-read and retry.
	}
	return fmt.Errorf("ticket %s: state changed concurrently, giving up", id)
}

// CompletedIDs returns the set of completed ticket IDs
func (s *Store) CompletedIDs() (map[string]bool, error) {
	rows, err := s.db.Query(`SELECT id FROM tickets WHERE state = ?`, string(domain.StateCompleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	completed := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		completed[id] = true
	}
	return completed, rows.Err()
}

// CountByState returns ticket counts per state
func (s *Store) CountByState() (map[domain.TicketState]int, error) {
	rows, err := s.db.Query(`SELECT state, COUNT(*) FROM tickets GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.TicketState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[domain.TicketState(state)] = n
	}
	return counts, rows.Err()
}

func scanTicket(scan func(dest ...interface{}) error) (*domain.Ticket, error) {
	var t domain.Ticket
	var state, priority string
	var title, depsJSON, parent, artifactsJSON, filePath sql.NullString

	err := scan(&t.ID, &title, &state, &priority, &depsJSON, &parent, &artifactsJSON, &filePath, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.State = domain.TicketState(state)
	t.Priority = domain.Priority(priority)
	t.Title = title.String
	t.Parent = parent.String
	t.FilePath = filePath.String

	if depsJSON.Valid && depsJSON.String != "" && depsJSON.String != "null" {
		if err := json.Unmarshal([]byte(depsJSON.String), &t.Dependencies); err != nil {
			return nil, err
		}
	}
	if artifactsJSON.Valid && artifactsJSON.String != "" && artifactsJSON.String != "null" {
		if err := json.Unmarshal([]byte(artifactsJSON.String), &t.Artifacts); err != nil {
			return nil, err
		}
	}

	return &t, nil
}
