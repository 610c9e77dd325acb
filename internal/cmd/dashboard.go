package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/packline/internal/api"
	"github.com/Iron-Ham/packline/internal/coordination"
	"github.com/Iron-Ham/packline/internal/dashboard"
	"github.com/Iron-Ham/packline/internal/presence"
	"github.com/Iron-Ham/packline/internal/tui"
)

func newDashboardCmd() *cobra.Command {
	var (
		once       bool
		jsonOutput bool
	)
	dashboardCmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show every open session, updated live",
		Long: `Show every open session, updated live.

Sessions are grouped by shipping method unless --group-by says otherwise.
The view refreshes when any session changes and polls as a backstop. With
--once the current listing is printed and the command exits.`,
		Args: cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			if _, ok := dashboard.KeyFuncFor(a.cfg.Dashboard.GroupBy); !ok {
				return fmt.Errorf("invalid grouping %q", a.cfg.Dashboard.GroupBy)
			}
			if once || jsonOutput {
				return a.withHub(cmd.Context(), func(ctx context.Context, hub *coordination.Hub) error {
					agg := hub.Dashboard()
					if err := agg.Refresh(ctx); err != nil {
						return err
					}
					if jsonOutput {
						return printGroupsJSON(cmd, agg.Groups())
					}
					printDashboard(a.term, agg.Snapshot(), agg.Groups())
					return nil
				}, coordination.WithSignals(false))
			}

			a.watchConfig()
			return a.withHub(cmd.Context(), func(ctx context.Context, hub *coordination.Hub) error {
				var tracker *presence.Tracker
				if a.cfg.TUI.ShowPresence && a.cfg.Realtime.Enabled {
					tracker = hub.Presence()
				}
				return tui.Run(ctx, hub.Dashboard(), tracker, a.cfg.TUI.Theme, a.cfg.Dashboard.GroupBy)
			}, coordination.WithDashboard())
		}),
	}
	dashboardCmd.Flags().BoolVar(&once, "once", false, "print the current listing and exit")
	dashboardCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the current listing as JSON and exit")
	dashboardCmd.Flags().Bool("include-completed", false, "list completed and cancelled sessions too")
	dashboardCmd.Flags().String("group-by", "", "grouping: shipping_method, status or owner")
	_ = viper.BindPFlag("dashboard.include_completed", dashboardCmd.Flags().Lookup("include-completed"))
	_ = viper.BindPFlag("dashboard.group_by", dashboardCmd.Flags().Lookup("group-by"))
	return dashboardCmd
}

func printDashboard(p printer, snap dashboard.Snapshot, groups []dashboard.Group) {
	sum := snap.Summarize()
	p.Printf("%d sessions, %d in progress, %d draft", sum.Total, sum.InProgress, sum.Draft)
	if sum.Completed+sum.Cancelled > 0 {
		p.Printf(", %d completed, %d cancelled", sum.Completed, sum.Cancelled)
	}
	if sum.Overpicked > 0 {
		p.Printf(", %d overpicked", sum.Overpicked)
	}
	p.Printf("\n")
	if len(groups) == 0 {
		p.Printf("No sessions\n")
		return
	}
	for _, g := range groups {
		p.Printf("\n%s (%d)\n", g.Key, len(g.Sessions))
		for _, s := range g.Sessions {
			owner := s.CurrentOwner
			if owner == "" {
				owner = "-"
			}
			p.Printf("  %-12s %-12s %-10s %3s%%  %d/%d\n",
				s.OrderNumber, s.Status, owner, s.ProgressPercentage.StringFixed(0), s.CompletedItems, s.TotalItems)
		}
	}
}

type groupJSON struct {
	Key      string        `json:"key"`
	Sessions []api.Session `json:"sessions"`
}

func printGroupsJSON(cmd *cobra.Command, groups []dashboard.Group) error {
	out := make([]groupJSON, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupJSON{Key: g.Key, Sessions: g.Sessions})
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
