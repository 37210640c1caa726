// Package tui implements the live job monitor behind `sketchar watch`.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/sketchar/internal/events"
)

const maxEventLog = 10

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	health    healthMsg
	connected bool
	jobs      *jobBook
	eventLog  []events.Event
	lastID    int64

	jobTable table.Model
	spinner  spinner.Model
	theme    Theme

	hubEvents chan events.Event
	lastError string
}

// New creates a watch model for the service at apiURL.
func New(apiURL string) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Job", Width: 10},
			{Title: "Backend", Width: 12},
			{Title: "Status", Width: 10},
			{Title: "Duration", Width: 10},
			{Title: "Detail", Width: 18},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		apiURL:    strings.TrimSuffix(apiURL, "/"),
		jobs:      newJobBook(),
		jobTable:  t,
		spinner:   sp,
		theme:     NewDefaultTheme(),
		hubEvents: make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		m.spinner.Tick,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.jobTable, cmd = m.jobTable.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		// Refresh the elapsed time of a running job.
		m.jobTable.SetRows(m.jobs.rows())
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		if e.ID > m.lastID {
			m.lastID = e.ID
		}
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		m.jobs.apply(e)
		m.jobTable.SetRows(m.jobs.rows())
		m.health.Busy = m.jobs.running() != nil
		m.connected = true
		m.lastError = ""
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health = msg
		m.connected = true
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})

	case sseDisconnectedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL)
		})
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to " + m.apiURL + "..."
	}
	innerWidth := m.width - 4

	parts := []string{
		m.renderHeader(innerWidth),
		m.theme.Panel.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Heading.Render("JOBS"),
			m.jobTable.View(),
		)),
		m.renderEvents(innerWidth),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Bad.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, m.theme.Muted.Render(" [q] Quit • [↑/↓] Select job"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m Model) renderHeader(width int) string {
	status := m.theme.Good.Render("IDLE")
	if !m.connected {
		status = m.theme.Bad.Render("CONNECTING")
	} else if m.health.Busy {
		status = m.theme.Busy.Render("GENERATING " + m.spinner.View())
	}

	vision := m.theme.Muted.Render("off")
	if m.health.VisionAvailable {
		vision = m.theme.Good.Render("on")
	}

	uptime := time.Duration(m.health.UptimeSeconds) * time.Second
	title := m.theme.Accent.Render(" SKETCHAR WATCH ") + m.theme.Muted.Render(m.apiURL)
	stats := fmt.Sprintf(" %s  ⏱ %s  Backend: %s (%s)  Vision: %s",
		status,
		formatUptime(uptime),
		m.health.DefaultBackend,
		strings.Join(m.health.Backends, ", "),
		vision,
	)
	return m.theme.Panel.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, title, stats))
}

func (m Model) renderEvents(width int) string {
	lines := []string{m.theme.Heading.Render("EVENTS")}
	if len(m.eventLog) == 0 {
		lines = append(lines, m.theme.Muted.Render("  Waiting for events..."))
	}
	for _, e := range m.eventLog {
		ts := m.theme.Muted.Render(e.At.Format("15:04:05"))
		typ := m.theme.statusStyle(eventStatus(e.Type)).Render(fmt.Sprintf("%-14s", e.Type))
		data := string(e.Data)
		if len(data) > 60 {
			data = data[:60] + "..."
		}
		lines = append(lines, fmt.Sprintf("  %s %s %s", ts, typ, data))
	}
	return m.theme.Panel.Width(width).Render(strings.Join(lines, "\n"))
}

func eventStatus(eventType string) string {
	switch eventType {
	case events.JobStarted:
		return "running"
	case events.JobSucceeded:
		return "succeeded"
	default:
		return "failed"
	}
}

func formatUptime(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
