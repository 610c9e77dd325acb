package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/packline/internal/coordination"
	"github.com/Iron-Ham/packline/internal/realtime"
)

func newWatchCmd() *cobra.Command {
	var cursors bool
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Print realtime events as they arrive",
		Long: `Print realtime events as they arrive.

Session lifecycle notices, presence changes and connection state are
printed one per line until interrupted.`,
		Args: cobra.NoArgs,
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			if !a.cfg.Realtime.Enabled {
				return fmt.Errorf("realtime is disabled (set realtime.enabled)")
			}
			a.watchConfig()
			return a.withHub(cmd.Context(), func(ctx context.Context, hub *coordination.Hub) error {
				id := hub.Channel().OnAny(func(e realtime.Event) {
					if _, ok := e.(*realtime.CursorUpdatedEvent); ok && !cursors {
						return
					}
					a.term.Printf("%s %-24s %s\n", e.Timestamp().Format(time.TimeOnly), e.EventType(), describe(e))
				})
				defer hub.Channel().Off(id)

				tracker := hub.Presence()
				tracker.OnChange(func() {
					names := make([]string, 0)
					for _, u := range tracker.Roster() {
						if !u.IsSelf {
							names = append(names, u.Username)
						}
					}
					if len(names) == 0 {
						a.term.Printf("%s viewing: nobody else\n", time.Now().Format(time.TimeOnly))
						return
					}
					a.term.Printf("%s viewing: %s\n", time.Now().Format(time.TimeOnly), strings.Join(names, ", "))
				})

				<-ctx.Done()
				return nil
			})
		}),
	}
	watchCmd.Flags().BoolVar(&cursors, "cursors", false, "include cursor movements")
	return watchCmd
}

// describe renders the interesting fields of e on one line.
func describe(e realtime.Event) string {
	switch ev := e.(type) {
	case *realtime.ConnectedEvent:
		if ev.Attempt > 0 {
			return fmt.Sprintf("reconnected after %d attempts", ev.Attempt)
		}
		return ""
	case *realtime.DisconnectedEvent:
		return string(ev.Reason)
	case *realtime.ReconnectFailedEvent:
		return fmt.Sprintf("gave up after %d attempts", ev.Attempts)
	case *realtime.RoomJoinedEvent:
		return fmt.Sprintf("%s, %d viewing", ev.Room, len(ev.Users))
	case *realtime.UserJoinedEvent:
		return ev.User.Username
	case *realtime.UserLeftEvent:
		if ev.Username != "" {
			return ev.Username
		}
		return ev.UserID
	case *realtime.CursorUpdatedEvent:
		return fmt.Sprintf("%s at %s/%s", ev.Username, ev.RowID, ev.Field)
	case *realtime.InventoryChangedEvent:
		return fmt.Sprintf("%s changed %s %s", ev.Username, ev.SKU, ev.Field)
	case *realtime.PresenceUpdateEvent:
		return fmt.Sprintf("%d viewing", len(ev.Users))
	case *realtime.SessionEvent:
		parts := []string{"session " + ev.SessionID}
		if ev.OrderNumber != "" {
			parts = append(parts, "order "+ev.OrderNumber)
		}
		if ev.Status != "" {
			parts = append(parts, ev.Status)
		}
		if ev.User != "" {
			parts = append(parts, "by "+ev.User)
		}
		if owner := firstNonEmpty(ev.NewOwner, ev.TargetUserID); owner != "" {
			parts = append(parts, "to "+owner)
		}
		if ev.Reason != "" {
			parts = append(parts, "("+ev.Reason+")")
		}
		return strings.Join(parts, " ")
	case *realtime.TakeoverRequestEvent:
		return fmt.Sprintf("session %s requested by %s", ev.SessionID, firstNonEmpty(ev.RequesterName, ev.RequesterID))
	case *realtime.TakeoverResponseEvent:
		if ev.Accepted {
			return fmt.Sprintf("session %s accepted", ev.SessionID)
		}
		return fmt.Sprintf("session %s declined", ev.SessionID)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
