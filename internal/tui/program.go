package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Iron-Ham/packline/internal/dashboard"
	"github.com/Iron-Ham/packline/internal/presence"
)

// Run shows the dashboard until the user quits or ctx is done. The
// aggregator should already be started; tracker may be nil.
func Run(ctx context.Context, agg *dashboard.Aggregator, tracker *presence.Tracker, theme, groupBy string) error {
	cfg := Config{Source: agg, Theme: theme, GroupBy: groupBy}
	if tracker != nil {
		cfg.Roster = tracker
	}

	p := tea.NewProgram(New(cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	agg.OnChange(func(s dashboard.Snapshot) { p.Send(SnapshotMsg(s)) })
	if tracker != nil {
		tracker.OnChange(func() { p.Send(PresenceMsg{}) })
	}

	_, err := p.Run()
	if ctx.Err() != nil && err != nil {
		// A cancelled context ends the view normally.
		return nil
	}
	return err
}
