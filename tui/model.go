package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hochfrequenz/ticket-orchestrator/internal/commitqueue"
	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
	"github.com/hochfrequenz/ticket-orchestrator/internal/scheduler"
	"github.com/hochfrequenz/ticket-orchestrator/internal/workerpool"
)

// Tab indexes
const (
	tabDashboard = iota
	tabTickets
	tabQueue
	tabWorkers
	tabCount
)

// Snapshot is one refresh of everything the dashboard shows
type Snapshot struct {
	Tickets    []*domain.Ticket
	Ready      []string
	Blocked    []scheduler.BlockedTicket
	Entries    []*commitqueue.Entry
	QueueDepth int
	Workers    []workerpool.WorkerStatus
	CriticalID string
	MaxDepth   int
}

// Model is the TUI application model
type Model struct {
	// Data
	snapshot    Snapshot
	counts      map[domain.TicketState]int
	lastErr     error
	lastRefresh time.Time

	// UI state
	width       int
	height      int
	activeTab   int
	selectedRow int
	scroll      int

	// Refresh
	fetch        func() (*Snapshot, error)
	refreshEvery time.Duration
}

// ModelConfig holds the data source for the TUI model
type ModelConfig struct {
	// Fetch loads a fresh snapshot; called on every tick
	Fetch func() (*Snapshot, error)
	// RefreshEvery defaults to two seconds
	RefreshEvery time.Duration
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	every := cfg.RefreshEvery
	if every <= 0 {
		every = 2 * time.Second
	}
	return Model{
		counts:       make(map[domain.TicketState]int),
		fetch:        cfg.Fetch,
		refreshEvery: every,
		activeTab:    tabDashboard,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchCmd(),
		m.tickCmd(),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

// SnapshotMsg carries a freshly fetched snapshot
type SnapshotMsg struct {
	Snapshot *Snapshot
}

// FetchErrMsg reports a failed refresh
type FetchErrMsg struct {
	Err error
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshEvery, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) fetchCmd() tea.Cmd {
	fetch := m.fetch
	if fetch == nil {
		return nil
	}
	return func() tea.Msg {
		snap, err := fetch()
		if err != nil {
			return FetchErrMsg{Err: err}
		}
		return SnapshotMsg{Snapshot: snap}
	}
}

func (m *Model) applySnapshot(snap *Snapshot) {
	if snap == nil {
		return
	}
	m.snapshot = *snap
	m.lastErr = nil
	m.lastRefresh = time.Now()

	m.counts = make(map[domain.TicketState]int)
	for _, ticket := range snap.Tickets {
		m.counts[ticket.State]++
	}
}
