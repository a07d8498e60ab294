package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hochfrequenz/ticket-orchestrator/internal/commitqueue"
	"github.com/hochfrequenz/ticket-orchestrator/internal/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	sectionTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39"))

	readyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	blockedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	highPrioStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	normalPrioStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	lowPrioStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	selectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Bold(true)

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))
)

var tabNames = [tabCount]string{"Dashboard", "Tickets", "Queue", "Workers"}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" Ticket Orchestrator │ Ready: %d │ Blocked: %d │ In progress: %d │ Queue: %d │ Workers: %d ",
		len(m.snapshot.Ready), len(m.snapshot.Blocked),
		m.counts[domain.StateInProgress], m.snapshot.QueueDepth, len(m.snapshot.Workers))
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	switch m.activeTab {
	case tabDashboard:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderReady()))
		b.WriteString("\n")
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderBlocked()))
		b.WriteString("\n")
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderSummary()))
		b.WriteString("\n")
	case tabTickets:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderTickets()))
		b.WriteString("\n")
	case tabQueue:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderQueue()))
		b.WriteString("\n")
	case tabWorkers:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderWorkers()))
		b.WriteString("\n")
	}

	if m.lastErr != nil {
		b.WriteString(warningStyle.Width(m.width).Render(" refresh failed: " + m.lastErr.Error() + " "))
		b.WriteString("\n")
	}

	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderTabs() string {
	tabs := make([]string, tabCount)
	for i, name := range tabNames {
		label := fmt.Sprintf(" %s ", name)
		if i == m.activeTab {
			tabs[i] = tabActiveStyle.Render(label)
		} else {
			tabs[i] = tabInactiveStyle.Render(label)
		}
	}
	return strings.Join(tabs, "│")
}

func (m Model) renderReady() string {
	var b strings.Builder
	b.WriteString(sectionTitleStyle.Render("Ready"))
	b.WriteString("\n")

	if len(m.snapshot.Ready) == 0 {
		b.WriteString(dimmedStyle.Render("no tickets ready"))
		return b.String()
	}

	byID := make(map[string]*domain.Ticket, len(m.snapshot.Tickets))
	for _, ticket := range m.snapshot.Tickets {
		byID[ticket.ID] = ticket
	}

	max := 8
	for i, id := range m.snapshot.Ready {
		if i == max {
			b.WriteString(dimmedStyle.Render(fmt.Sprintf("… and %d more", len(m.snapshot.Ready)-max)))
			break
		}
		line := id
		if ticket := byID[id]; ticket != nil {
			line = fmt.Sprintf("%-14s %s %s", id, prioStyle(ticket.Priority).Render(string(ticket.Priority)), truncate(ticket.Title, m.width-28))
		}
		b.WriteString(readyStyle.Render("● "))
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderBlocked() string {
	var b strings.Builder
	b.WriteString(sectionTitleStyle.Render("Blocked"))
	b.WriteString("\n")

	if len(m.snapshot.Blocked) == 0 {
		b.WriteString(dimmedStyle.Render("nothing blocked"))
		return b.String()
	}

	max := 6
	for i, blocked := range m.snapshot.Blocked {
		if i == max {
			b.WriteString(dimmedStyle.Render(fmt.Sprintf("… and %d more", len(m.snapshot.Blocked)-max)))
			break
		}
		b.WriteString(blockedStyle.Render("○ "))
		b.WriteString(fmt.Sprintf("%-14s waiting on %s", blocked.Ticket.ID, strings.Join(blocked.WaitingOn, ", ")))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderSummary() string {
	var b strings.Builder
	b.WriteString(sectionTitleStyle.Render("Summary"))
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("unprocessed %d · in progress %d · completed %d · deferred %d · failed %d\n",
		m.counts[domain.StateUnprocessed], m.counts[domain.StateInProgress],
		m.counts[domain.StateCompleted], m.counts[domain.StateDeferred],
		m.counts[domain.StateFailed]))

	if m.snapshot.CriticalID != "" {
		b.WriteString(fmt.Sprintf("critical path: %s (depth %d)\n", m.snapshot.CriticalID, m.snapshot.MaxDepth))
	}
	if !m.lastRefresh.IsZero() {
		b.WriteString(dimmedStyle.Render("refreshed " + m.lastRefresh.Format("15:04:05")))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderTickets() string {
	var b strings.Builder
	b.WriteString(sectionTitleStyle.Render(fmt.Sprintf("Tickets (%d)", len(m.snapshot.Tickets))))
	b.WriteString("\n")

	if len(m.snapshot.Tickets) == 0 {
		b.WriteString(dimmedStyle.Render("no tickets loaded"))
		return b.String()
	}

	visible := m.visibleRows()
	end := m.scroll + visible
	if end > len(m.snapshot.Tickets) {
		end = len(m.snapshot.Tickets)
	}

	for i := m.scroll; i < end; i++ {
		ticket := m.snapshot.Tickets[i]
		line := fmt.Sprintf("%-14s %-12s %s  %s",
			ticket.ID,
			stateStyle(ticket.State).Render(string(ticket.State)),
			prioStyle(ticket.Priority).Render(string(ticket.Priority)),
			truncate(ticket.Title, m.width-40))
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderQueue() string {
	var b strings.Builder
	b.WriteString(sectionTitleStyle.Render(fmt.Sprintf("Commit queue (%d waiting)", m.snapshot.QueueDepth)))
	b.WriteString("\n")

	if len(m.snapshot.Entries) == 0 {
		b.WriteString(dimmedStyle.Render("queue is empty"))
		return b.String()
	}

	visible := m.visibleRows()
	end := m.scroll + visible
	if end > len(m.snapshot.Entries) {
		end = len(m.snapshot.Entries)
	}

	for i := m.scroll; i < end; i++ {
		entry := m.snapshot.Entries[i]
		status := entryStyle(entry.Status).Render(fmt.Sprintf("%-9s", entry.Status))
		line := fmt.Sprintf("%d  %s %-14s %s", entry.QueueID, status, entry.TicketID, truncate(entry.Message, m.width-48))
		if entry.Attempts > 0 {
			line += warningStyle.Render(fmt.Sprintf(" (attempt %d)", entry.Attempts))
		}
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderWorkers() string {
	var b strings.Builder
	b.WriteString(sectionTitleStyle.Render(fmt.Sprintf("Workers (%d connected)", len(m.snapshot.Workers))))
	b.WriteString("\n")

	if len(m.snapshot.Workers) == 0 {
		b.WriteString(dimmedStyle.Render("no remote workers, tickets run locally"))
		return b.String()
	}

	for i, worker := range m.snapshot.Workers {
		busy := readyStyle
		if worker.ActiveRuns >= worker.MaxTickets {
			busy = warningStyle
		}
		line := fmt.Sprintf("%-20s %s  up %s",
			worker.ID,
			busy.Render(fmt.Sprintf("%d/%d slots busy", worker.ActiveRuns, worker.MaxTickets)),
			time.Since(worker.ConnectedAt).Round(time.Second))
		if i == m.selectedRow {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) renderStatusBar() string {
	var hints string
	switch m.activeTab {
	case tabTickets, tabQueue, tabWorkers:
		hints = " [tab]switch [j/k]scroll [r]efresh [q]uit "
	default:
		hints = " [tab]switch [t]ickets [c]ommits [w]orkers [r]efresh [q]uit "
	}
	return statusBarStyle.Width(m.width).Render(hints)
}

func stateStyle(state domain.TicketState) lipgloss.Style {
	switch state {
	case domain.StateCompleted:
		return readyStyle
	case domain.StateInProgress:
		return warningStyle
	case domain.StateFailed:
		return failedStyle
	case domain.StateDeferred:
		return lowPrioStyle
	default:
		return normalPrioStyle
	}
}

func prioStyle(p domain.Priority) lipgloss.Style {
	switch p {
	case domain.PriorityP0:
		return highPrioStyle
	case domain.PriorityP3:
		return lowPrioStyle
	default:
		return normalPrioStyle
	}
}

func entryStyle(status commitqueue.EntryStatus) lipgloss.Style {
	switch status {
	case commitqueue.EntryCompleted:
		return readyStyle
	case commitqueue.EntryFailed:
		return failedStyle
	default:
		return blockedStyle
	}
}

func truncate(s string, max int) string {
	if max < 8 {
		max = 8
	}
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
