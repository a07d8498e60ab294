package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		case "j", "down":
			if m.selectedRow < m.rowCount()-1 {
				m.selectedRow++
			}
			m.clampScroll()
		case "k", "up":
			if m.selectedRow > 0 {
				m.selectedRow--
			}
			m.clampScroll()
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.selectedRow = 0
			m.scroll = 0
		case "t":
			m.activeTab = tabTickets
			m.selectedRow = 0
			m.scroll = 0
		case "c":
			m.activeTab = tabQueue
			m.selectedRow = 0
			m.scroll = 0
		case "w":
			m.activeTab = tabWorkers
			m.selectedRow = 0
			m.scroll = 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())

	case SnapshotMsg:
		m.applySnapshot(msg.Snapshot)
		m.clampScroll()
		return m, nil

	case FetchErrMsg:
		m.lastErr = msg.Err
		return m, nil
	}

	return m, nil
}

// rowCount is the number of selectable rows on the active tab
func (m Model) rowCount() int {
	switch m.activeTab {
	case tabTickets:
		return len(m.snapshot.Tickets)
	case tabQueue:
		return len(m.snapshot.Entries)
	case tabWorkers:
		return len(m.snapshot.Workers)
	default:
		return 0
	}
}

// clampScroll keeps the selected row inside the visible window
func (m *Model) clampScroll() {
	rows := m.rowCount()
	if rows == 0 {
		m.selectedRow = 0
		m.scroll = 0
		return
	}
	if m.selectedRow >= rows {
		m.selectedRow = rows - 1
	}

	visible := m.visibleRows()
	if m.selectedRow >= m.scroll+visible {
		m.scroll = m.selectedRow - visible + 1
	}
	if m.selectedRow < m.scroll {
		m.scroll = m.selectedRow
	}
}

// visibleRows is how many table rows fit under the chrome
func (m Model) visibleRows() int {
	rows := m.height - 8
	if rows < 4 {
		rows = 4
	}
	return rows
}
