// Package tui renders the fleet dashboard in the terminal with bubbletea.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/packline/internal/api"
	"github.com/Iron-Ham/packline/internal/dashboard"
	"github.com/Iron-Ham/packline/internal/presence"
	"github.com/Iron-Ham/packline/internal/tui/styles"
)

// Source is the part of the dashboard aggregator the view drives.
type Source interface {
	Snapshot() dashboard.Snapshot
	Request()
	SetIncludeCompleted(include bool)
	IncludeCompleted() bool
}

var _ Source = (*dashboard.Aggregator)(nil)

// Roster lists who else is looking at the inventory room.
type Roster interface {
	Roster() []presence.User
}

var _ Roster = (*presence.Tracker)(nil)

// SnapshotMsg carries a new fleet snapshot into the program.
type SnapshotMsg dashboard.Snapshot

// PresenceMsg signals that the roster changed.
type PresenceMsg struct{}

// groupings is the order the g key cycles through.
var groupings = []string{"shipping_method", "status", "owner"}

// Config configures a Model.
type Config struct {
	Source Source
	// Roster is optional; without it no presence line is shown.
	Roster  Roster
	Theme   string
	GroupBy string
}

// Model is the bubbletea model of the dashboard view.
type Model struct {
	source  Source
	roster  Roster
	styles  styles.Styles
	spinner spinner.Model

	groupBy  string
	snap     dashboard.Snapshot
	users    []presence.User
	width    int
	quitting bool
}

// New creates a dashboard model.
func New(cfg Config) Model {
	groupBy := cfg.GroupBy
	if _, ok := dashboard.KeyFuncFor(groupBy); !ok || groupBy == "" {
		groupBy = groupings[0]
	}
	m := Model{
		source:  cfg.Source,
		roster:  cfg.Roster,
		styles:  styles.New(cfg.Theme),
		spinner: spinner.New(spinner.WithSpinner(spinner.Dot)),
		groupBy: groupBy,
	}
	if cfg.Source != nil {
		m.snap = cfg.Source.Snapshot()
	}
	if cfg.Roster != nil {
		m.users = cfg.Roster.Roster()
	}
	return m
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles one message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case SnapshotMsg:
		m.snap = dashboard.Snapshot(msg)
		return m, nil

	case PresenceMsg:
		if m.roster != nil {
			m.users = m.roster.Roster()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case "r":
		m.source.Request()
	case "c":
		m.source.SetIncludeCompleted(!m.source.IncludeCompleted())
	case "g":
		for i, g := range groupings {
			if g == m.groupBy {
				m.groupBy = groupings[(i+1)%len(groupings)]
				break
			}
		}
	}
	return m, nil
}

// GroupBy returns the active grouping name.
func (m Model) GroupBy() string {
	return m.groupBy
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Fulfillment sessions"))
	b.WriteString("\n")
	b.WriteString(m.summaryLine())
	b.WriteString("\n")
	if m.snap.Err != nil {
		b.WriteString(m.styles.ErrorMsg.Render("Refresh failed: " + m.snap.Err.Error()))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	key, _ := dashboard.KeyFuncFor(m.groupBy)
	groups := dashboard.GroupBy(m.snap.Sessions, key)
	if len(groups) == 0 {
		b.WriteString(m.styles.Muted.Render("No sessions"))
		b.WriteString("\n")
	}
	for _, g := range groups {
		b.WriteString(m.styles.GroupTitle.Render(fmt.Sprintf("%s (%d)", g.Key, len(g.Sessions))))
		b.WriteString("\n")
		for i := range g.Sessions {
			b.WriteString(m.sessionRow(&g.Sessions[i]))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if line := m.presenceLine(); line != "" {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(m.helpLine())
	return b.String()
}

func (m Model) summaryLine() string {
	sum := m.snap.Summarize()
	parts := []string{
		fmt.Sprintf("%d sessions", sum.Total),
		fmt.Sprintf("%d in progress", sum.InProgress),
		fmt.Sprintf("%d draft", sum.Draft),
	}
	if m.source != nil && m.source.IncludeCompleted() {
		parts = append(parts, fmt.Sprintf("%d completed", sum.Completed), fmt.Sprintf("%d cancelled", sum.Cancelled))
	}
	line := m.styles.Subtitle.Render(strings.Join(parts, " · "))
	if sum.Overpicked > 0 {
		line += "  " + m.styles.WarningMsg.Render(fmt.Sprintf("%d overpicked", sum.Overpicked))
	}
	if m.snap.Refreshing {
		line += "  " + m.spinner.View()
	} else if !m.snap.FetchedAt.IsZero() {
		line += "  " + m.styles.Muted.Render("updated "+m.snap.FetchedAt.Format(time.Kitchen))
	}
	return line
}

func (m Model) sessionRow(s *api.Session) string {
	owner := s.CurrentOwner
	if owner == "" {
		owner = "-"
	}
	row := fmt.Sprintf("  %-12s %s %-10s %3s%%  %d/%d",
		s.OrderNumber,
		m.styles.Status(s.Status),
		owner,
		s.ProgressPercentage.StringFixed(0),
		s.CompletedItems,
		s.TotalItems,
	)
	if len(s.Overpicked()) > 0 {
		row += "  " + m.styles.WarningMsg.Render("overpicked")
	}
	return row
}

func (m Model) presenceLine() string {
	if m.roster == nil || len(m.users) == 0 {
		return ""
	}
	names := make([]string, 0, len(m.users))
	for _, u := range m.users {
		name := u.Username
		if u.IsSelf {
			name += " (you)"
		}
		names = append(names, m.styles.User(name, u.Color))
	}
	return m.styles.Muted.Render("Viewing: ") + strings.Join(names, ", ")
}

func (m Model) helpLine() string {
	key := m.styles.HelpKey.Render
	completed := "show completed"
	if m.source != nil && m.source.IncludeCompleted() {
		completed = "hide completed"
	}
	return m.styles.HelpBar.Render(fmt.Sprintf("%s refresh  %s %s  %s group: %s  %s quit",
		key("r"), key("c"), completed, key("g"), m.groupBy, key("q")))
}
