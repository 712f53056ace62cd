// ABOUTME: Terminal dashboard for connectivity, cache freshness, drafts, and presence
// ABOUTME: Terminal focus/blur drives the app foreground/background lifecycle events
package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/studyhall/app"
	"github.com/harperreed/studyhall/drafts"
	"github.com/harperreed/studyhall/models"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginBottom(1)

	onlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Width(14)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginTop(1)
)

type tickMsg time.Time

type syncDoneMsg struct {
	result models.FlushResult
	err    error
}

// Model is the dashboard bubbletea model.
type Model struct {
	services *app.Services
	spinner  spinner.Model

	peerEvents chan models.NotificationEvent
	events     []models.NotificationEvent

	syncing    bool
	lastResult *models.FlushResult
	syncErr    error

	width  int
	height int
}

// NewModel creates the dashboard over an initialized service stack.
func NewModel(services *app.Services) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		services:   services,
		spinner:    sp,
		peerEvents: make(chan models.NotificationEvent, 16),
		width:      80,
		height:     24,
	}

	services.Presence.OnPeerOnline(func(e models.NotificationEvent) {
		select {
		case m.peerEvents <- e:
		default:
			// Dashboard is behind; drop rather than block the watcher
		}
	})

	return m
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.FocusMsg:
		m.services.HandleForeground()
		return m, nil

	case tea.BlurMsg:
		m.services.HandleBackground()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "s":
			if m.syncing {
				return m, nil
			}
			m.syncing = true
			m.syncErr = nil
			services := m.services
			return m, func() tea.Msg {
				result, err := services.Drafts.SyncAllDrafts()
				return syncDoneMsg{result: result, err: err}
			}
		}
		return m, nil

	case syncDoneMsg:
		m.syncing = false
		switch {
		case errors.Is(msg.err, drafts.ErrFlushInProgress):
			// A background trigger beat us to it; counts refresh on the next tick
			m.syncErr = nil
		case msg.err != nil:
			m.syncErr = msg.err
		default:
			m.syncErr = nil
			result := msg.result
			m.lastResult = &result
		}
		return m, nil

	case tickMsg:
		// Drain any peer notifications delivered since the last tick
		for {
			select {
			case e := <-m.peerEvents:
				m.events = append(m.events, e)
			default:
				return m, tick()
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("studyhall"))
	s.WriteString("\n\n")

	snap := m.services.Monitor.Snapshot()
	s.WriteString(labelStyle.Render("Connection"))
	if snap.IsOnline {
		s.WriteString(onlineStyle.Render("● online"))
	} else {
		s.WriteString(offlineStyle.Render("○ offline"))
	}
	if m.services.Monitor.HasReconnected() {
		s.WriteString(mutedStyle.Render("  (just reconnected, syncing...)"))
	}
	s.WriteString("\n")

	s.WriteString(labelStyle.Render("Data as of"))
	if ts := m.services.Cache.LastSyncTime(); ts != nil {
		s.WriteString(ts.Local().Format("2006-01-02 15:04:05"))
	} else {
		s.WriteString(mutedStyle.Render("never synced"))
	}
	s.WriteString("\n")

	s.WriteString(labelStyle.Render("Drafts"))
	if m.syncing {
		s.WriteString(m.spinner.View() + " syncing...")
	} else {
		pending := m.services.Drafts.PendingCount()
		switch pending {
		case 0:
			s.WriteString("none pending")
		case 1:
			s.WriteString("1 pending")
		default:
			s.WriteString(fmt.Sprintf("%d pending", pending))
		}
		if m.lastResult != nil {
			s.WriteString(mutedStyle.Render(fmt.Sprintf("  (last flush: %d synced, %d failed)",
				m.lastResult.SyncedCount, m.lastResult.FailedCount)))
		}
		if m.syncErr != nil {
			s.WriteString(offlineStyle.Render("  flush error: " + m.syncErr.Error()))
		}
	}
	s.WriteString("\n")

	s.WriteString(labelStyle.Render("Presence"))
	s.WriteString(m.services.Presence.State().String())
	s.WriteString("\n")

	if len(m.events) > 0 {
		s.WriteString("\n")
		s.WriteString(labelStyle.Render("Now online"))
		s.WriteString("\n")
		for _, e := range recentEvents(m.events, 5) {
			name := e.SubjectName
			if name == "" {
				name = e.SubjectID
			}
			line := "  " + name
			if e.ContextLabel != "" {
				line += mutedStyle.Render(" · " + e.ContextLabel)
			}
			s.WriteString(eventStyle.Render(line))
			s.WriteString("\n")
		}
	}

	s.WriteString(helpStyle.Render("s: sync drafts • q: quit"))
	return s.String()
}

func recentEvents(events []models.NotificationEvent, n int) []models.NotificationEvent {
	if len(events) <= n {
		return events
	}
	return events[len(events)-n:]
}

// Run starts the dashboard over an initialized service stack, blocking
// until the user quits. Focus reporting is enabled so terminal focus
// changes reach the presence service.
func Run(services *app.Services) error {
	p := tea.NewProgram(NewModel(services), tea.WithAltScreen(), tea.WithReportFocus())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run dashboard: %w", err)
	}
	return nil
}
