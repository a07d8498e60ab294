package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hochfrequenz/ticket-orchestrator/internal/commitqueue"
	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
	"github.com/hochfrequenz/ticket-orchestrator/internal/ticketstore"
	"github.com/hochfrequenz/ticket-orchestrator/internal/workerpool"
)

// TicketResponse is the API response for a ticket
type TicketResponse struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	State        string   `json:"state"`
	Priority     string   `json:"priority"`
	Dependencies []string `json:"dependencies,omitempty"`
	Parent       string   `json:"parent,omitempty"`
	Artifacts    []string `json:"artifacts,omitempty"`
	UpdatedAt    *string  `json:"updated_at,omitempty"`
}

// StatusResponse is the API response for overall status
type StatusResponse struct {
	Total       int `json:"total"`
	Unprocessed int `json:"unprocessed"`
	InProgress  int `json:"in_progress"`
	Completed   int `json:"completed"`
	Deferred    int `json:"deferred"`
	Failed      int `json:"failed"`
	QueueDepth  int `json:"queue_depth"`
	Workers     int `json:"workers_connected"`
	ActiveRuns  int `json:"active_runs"`
}

// EntryResponse is the API response for a commit queue entry
type EntryResponse struct {
	QueueID     int64    `json:"queue_id"`
	WorkerID    string   `json:"worker_id"`
	TicketID    string   `json:"ticket_id"`
	Message     string   `json:"message"`
	Files       []string `json:"files,omitempty"`
	Status      string   `json:"status"`
	Attempts    int      `json:"attempts"`
	LastError   string   `json:"last_error,omitempty"`
	CommitHash  string   `json:"commit_hash,omitempty"`
	QueuedAt    string   `json:"queued_at"`
	CompletedAt *string  `json:"completed_at,omitempty"`
	FailedAt    *string  `json:"failed_at,omitempty"`
}

// QueueResponse is the API response for the commit queue
type QueueResponse struct {
	Depth   int             `json:"depth"`
	Entries []EntryResponse `json:"entries"`
}

// BlockedResponse names a blocked ticket and the dependencies holding
// it back
type BlockedResponse struct {
	ID        string   `json:"id"`
	WaitingOn []string `json:"waiting_on"`
}

// CriticalResponse reports the dependency-depth analysis
type CriticalResponse struct {
	TicketID string         `json:"ticket_id"`
	MaxDepth int            `json:"max_depth"`
	Depths   map[string]int `json:"depths,omitempty"`
}

// GraphResponse is the scheduling view: ready order, blocked report,
// critical path
type GraphResponse struct {
	Ready    []string          `json:"ready"`
	Blocked  []BlockedResponse `json:"blocked"`
	Critical *CriticalResponse `json:"critical,omitempty"`
}

// RunResponse is one worker run for dashboards
type RunResponse struct {
	ID        string  `json:"id"`
	TicketID  string  `json:"ticket_id"`
	WorkerID  string  `json:"worker_id"`
	Status    string  `json:"status"`
	StartedAt *string `json:"started_at,omitempty"`
	Duration  string  `json:"duration"`
	Error     string  `json:"error,omitempty"`
}

func ticketToResponse(t *domain.Ticket) TicketResponse {
	resp := TicketResponse{
		ID:           t.ID,
		Title:        t.Title,
		State:        string(t.State),
		Priority:     string(t.Priority),
		Dependencies: t.Dependencies,
		Parent:       t.Parent,
		Artifacts:    t.Artifacts,
	}
	if !t.UpdatedAt.IsZero() {
		u := t.UpdatedAt.Format(time.RFC3339)
		resp.UpdatedAt = &u
	}
	return resp
}

func entryToResponse(e *commitqueue.Entry) EntryResponse {
	resp := EntryResponse{
		QueueID:    e.QueueID,
		WorkerID:   e.WorkerID,
		TicketID:   e.TicketID,
		Message:    e.Message,
		Files:      e.Files,
		Status:     string(e.Status),
		Attempts:   e.Attempts,
		LastError:  e.LastError,
		CommitHash: e.CommitHash,
		QueuedAt:   e.QueuedAt.Format(time.RFC3339),
	}
	if !e.CompletedAt.IsZero() {
		t := e.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &t
	}
	if !e.FailedAt.IsZero() {
		t := e.FailedAt.Format(time.RFC3339)
		resp.FailedAt = &t
	}
	return resp
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		counts, err := s.store.CountByState()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		var status StatusResponse
		for _, n := range counts {
			status.Total += n
		}
		status.Unprocessed = counts[domain.StateUnprocessed]
		status.InProgress = counts[domain.StateInProgress]
		status.Completed = counts[domain.StateCompleted]
		status.Deferred = counts[domain.StateDeferred]
		status.Failed = counts[domain.StateFailed]

		if s.queue != nil {
			if depth, err := s.queue.Depth(); err == nil {
				status.QueueDepth = depth
			}
		}
		if s.pool != nil {
			status.Workers = s.pool.Count()
		}
		if s.runs != nil {
			status.ActiveRuns = s.runs.RunningCount()
		}

		writeJSON(w, status)
	}
}

func (s *Server) listTicketsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		opts := ticketstore.ListOptions{
			State: domain.TicketState(r.URL.Query().Get("state")),
		}
		tickets, err := s.store.ListTickets(opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		responses := make([]TicketResponse, len(tickets))
		for i, t := range tickets {
			responses[i] = ticketToResponse(t)
		}

		writeJSON(w, responses)
	}
}

func (s *Server) getTicketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "ticket ID required")
			return
		}

		ticket, err := s.store.GetTicket(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if ticket == nil {
			writeError(w, http.StatusNotFound, "ticket not found")
			return
		}

		writeJSON(w, ticketToResponse(ticket))
	}
}

func (s *Server) queueHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if s.queue == nil {
			writeJSON(w, QueueResponse{Entries: []EntryResponse{}})
			return
		}

		status := commitqueue.EntryStatus(r.URL.Query().Get("status"))
		entries, err := s.queue.List(status)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		depth, err := s.queue.Depth()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		resp := QueueResponse{Depth: depth, Entries: make([]EntryResponse, len(entries))}
		for i, entry := range entries {
			resp.Entries[i] = entryToResponse(entry)
		}

		writeJSON(w, resp)
	}
}

func (s *Server) graphHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if s.planner == nil {
			writeJSON(w, GraphResponse{Ready: []string{}, Blocked: []BlockedResponse{}})
			return
		}

		ready, blocked, err := s.planner.ResolveReadyWork()
		if err != nil {
			// A cyclic graph refuses the whole scheduling pass.
			writeError(w, http.StatusConflict, err.Error())
			return
		}

		resp := GraphResponse{Ready: ready, Blocked: make([]BlockedResponse, len(blocked))}
		if resp.Ready == nil {
			resp.Ready = []string{}
		}
		for i, b := range blocked {
			resp.Blocked[i] = BlockedResponse{ID: b.Ticket.ID, WaitingOn: b.WaitingOn}
		}

		if report, err := s.planner.CriticalPath(); err == nil && report != nil {
			resp.Critical = &CriticalResponse{
				TicketID: report.CriticalID,
				MaxDepth: report.MaxDepth,
				Depths:   report.Depths,
			}
		}

		writeJSON(w, resp)
	}
}

func (s *Server) runsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if s.runs == nil {
			writeJSON(w, []RunResponse{})
			return
		}

		runs := s.runs.All()
		sort.Slice(runs, func(i, j int) bool {
			return runs[i].StartedAt().Before(runs[j].StartedAt())
		})

		resp := make([]RunResponse, 0, len(runs))
		for _, run := range runs {
			rr := RunResponse{
				ID:       run.ID,
				TicketID: run.TicketID,
				WorkerID: run.WorkerID,
				Status:   string(run.Status()),
				Duration: run.Duration().Round(time.Second).String(),
			}
			if started := run.StartedAt(); !started.IsZero() {
				t := started.Format(time.RFC3339)
				rr.StartedAt = &t
			}
			if err := run.Err(); err != nil {
				rr.Error = err.Error()
			}
			resp = append(resp, rr)
		}

		writeJSON(w, resp)
	}
}

func (s *Server) workersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if s.pool == nil {
			writeJSON(w, []workerpool.WorkerStatus{})
			return
		}

		workers := s.pool.All()
		resp := make([]workerpool.WorkerStatus, 0, len(workers))
		for _, worker := range workers {
			resp = append(resp, worker.Status())
		}
		sort.Slice(resp, func(i, j int) bool { return resp[i].ID < resp[j].ID })

		writeJSON(w, resp)
	}
}

func (s *Server) workerSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.hub == nil {
			writeError(w, http.StatusServiceUnavailable, "worker pool not enabled")
			return
		}
		s.hub.HandleWebSocket(w, r)
	}
}

func (s *Server) indexHandler() http.HandlerFunc {
	index := map[string]string{
		"status":  "/api/status",
		"tickets": "/api/tickets",
		"queue":   "/api/queue",
		"graph":   "/api/graph",
		"runs":    "/api/runs",
		"workers": "/api/workers",
		"events":  "/api/events",
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		writeJSON(w, index)
	}
}
