package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/packline/internal/api"
	"github.com/Iron-Ham/packline/internal/coordination"
	"github.com/Iron-Ham/packline/internal/deeplink"
	"github.com/Iron-Ham/packline/internal/fulfillment"
)

func newSessionCmd() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Work fulfillment sessions",
		Long: `Work fulfillment sessions.

Opening an order starts a new session, claims a draft, or offers a
takeover when someone else is working it. When a command exits the session
it opened is saved as a draft so it can be picked up again.`,
	}
	sessionCmd.AddCommand(
		newSessionCheckCmd(),
		newSessionWorkCmd(),
		newSessionScanCmd(),
		newSessionCompleteCmd(),
		newSessionCancelCmd(),
		newSessionStatusCmd(),
		newSessionLinkCmd(),
		newSessionRequestCmd(),
	)
	return sessionCmd
}

func newSessionCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <order-number>",
		Short: "Show what exists for an order without opening it",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			return a.withHub(cmd.Context(), func(ctx context.Context, hub *coordination.Hub) error {
				res, err := hub.Controller().Check(ctx, args[0])
				if err != nil {
					return err
				}
				a.term.Printf("Order %s: %s", args[0], res.Status)
				if res.User != "" {
					a.term.Printf(" (%s)", res.User)
				}
				if res.SessionID != "" {
					a.term.Printf("  session %s", res.SessionID)
				}
				if res.CanClaim {
					a.term.Printf("  claimable")
				}
				a.term.Printf("\n")
				return nil
			})
		}),
	}
}

func newSessionWorkCmd() *cobra.Command {
	var sessionType string
	workCmd := &cobra.Command{
		Use:   "work <order-number|deep-link>",
		Short: "Open a session and scan interactively",
		Long: `Open a session and scan interactively.

The argument is an order number or a session deep link. Type "help" at
the prompt for the available commands. Leaving saves the session as a
draft unless it was completed or cancelled.`,
		Args: cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			a.watchConfig()
			return a.withHub(cmd.Context(), func(ctx context.Context, hub *coordination.Hub) error {
				sess, err := openTarget(ctx, a, hub, args[0], sessionType)
				if err != nil {
					return err
				}
				return workLoop(ctx, a, hub, sess)
			})
		}),
	}
	workCmd.Flags().StringVarP(&sessionType, "type", "t", "", "session type for a new session: pick or return (default from config)")
	return workCmd
}

func newSessionScanCmd() *cobra.Command {
	var sessionType string
	scanCmd := &cobra.Command{
		Use:   "scan <order-number> <sku> [quantity]",
		Short: "Scan one item into an order's session",
		Args:  cobra.RangeArgs(2, 3),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			raw := "1"
			if len(args) == 3 {
				raw = args[2]
			}
			qty, err := fulfillment.ParseQuantity(raw)
			if err != nil {
				return err
			}
			return a.withHub(cmd.Context(), func(ctx context.Context, hub *coordination.Hub) error {
				sess, err := openTarget(ctx, a, hub, args[0], sessionType)
				if err != nil {
					return err
				}
				res, err := hub.Controller().Scan(ctx, sess.SessionID, args[1], qty, a.cfg.Fulfillment.ScanField)
				if err != nil {
					return err
				}
				a.term.Printf("%s\n", scanMessage(args[1], res))
				if s := hub.Controller().Session(); s != nil {
					printSession(a.term, s)
				}
				return nil
			})
		}),
	}
	scanCmd.Flags().StringVarP(&sessionType, "type", "t", "", "session type for a new session: pick or return (default from config)")
	return scanCmd
}

func newSessionCompleteCmd() *cobra.Command {
	var force bool
	completeCmd := &cobra.Command{
		Use:   "complete <order-number|deep-link>",
		Short: "Complete an order's session",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			return a.withHub(cmd.Context(), func(ctx context.Context, hub *coordination.Hub) error {
				sess, err := openTarget(ctx, a, hub, args[0], "")
				if err != nil {
					return err
				}
				if force {
					err = hub.Controller().ForceComplete(ctx, sess.SessionID)
				} else {
					err = hub.Controller().Complete(ctx, sess.SessionID)
				}
				if err != nil {
					return err
				}
				a.term.Printf("Order %s completed\n", sess.OrderNumber)
				return nil
			})
		}),
	}
	completeCmd.Flags().BoolVarP(&force, "force", "f", false, "complete even if items are missing (admin only)")
	return completeCmd
}

func newSessionCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-number|deep-link>",
		Short: "Cancel an order's session",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			return a.withHub(cmd.Context(), func(ctx context.Context, hub *coordination.Hub) error {
				sess, err := openTarget(ctx, a, hub, args[0], "")
				if err != nil {
					return err
				}
				if err := hub.Controller().Cancel(ctx, sess.SessionID); err != nil {
					return err
				}
				a.term.Printf("Order %s cancelled\n", sess.OrderNumber)
				return nil
			})
		}),
	}
}

func newSessionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session without opening it",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			return a.withHub(cmd.Context(), func(ctx context.Context, hub *coordination.Hub) error {
				sess, err := hub.Client().SessionStatus(ctx, args[0])
				if err != nil {
					return err
				}
				printSession(a.term, sess)
				return nil
			})
		}),
	}
}

func newSessionLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <order-number> <invoice-number>",
		Short: "Print the deep link of a session",
		Args:  cobra.ExactArgs(2),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			path, err := deeplink.Generate(a.cfg.Fulfillment.BasePath, args[0], args[1])
			if err != nil {
				return err
			}
			a.term.Printf("%s\n", path)
			return nil
		}),
	}
}

func newSessionRequestCmd() *cobra.Command {
	var wait time.Duration
	requestCmd := &cobra.Command{
		Use:   "request <session-id> [message]",
		Short: "Ask a session's owner to hand it over",
		Long: `Ask a session's owner to hand it over.

The owner sees the request and can accept or decline it. If they accept,
the session is saved as a draft and can be opened with "session work".`,
		Args: cobra.MinimumNArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			if !a.cfg.Realtime.Enabled {
				return fmt.Errorf("takeover requests need realtime enabled")
			}
			return a.withHub(cmd.Context(), func(ctx context.Context, hub *coordination.Hub) error {
				if !waitConnected(ctx, hub, wait) {
					return fmt.Errorf("not connected to the realtime server")
				}
				id, err := hub.Negotiator().Request(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				a.term.Printf("Asked the owner of %s, waiting up to %s\n", args[0], wait)
				if !waitAnswered(ctx, hub, id, wait) {
					return fmt.Errorf("no answer from the owner of %s", args[0])
				}
				return nil
			})
		}),
	}
	requestCmd.Flags().DurationVar(&wait, "wait", time.Minute, "how long to wait for an answer")
	return requestCmd
}

// waitConnected polls until the realtime channel is up or d elapses.
func waitConnected(ctx context.Context, hub *coordination.Hub, d time.Duration) bool {
	return poll(ctx, d, hub.Channel().Connected)
}

// waitAnswered polls until request id is answered or d elapses.
func waitAnswered(ctx context.Context, hub *coordination.Hub, id string, d time.Duration) bool {
	return poll(ctx, d, func() bool { return !hub.Negotiator().Pending(id) })
}

func poll(ctx context.Context, d time.Duration, done func() bool) bool {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !done() {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}

// openTarget opens target, a deep link or an order number.
func openTarget(ctx context.Context, a *app, hub *coordination.Hub, target, sessionType string) (*api.Session, error) {
	if deeplink.IsSessionLink(a.cfg.Fulfillment.BasePath, target) {
		return hub.Controller().Resume(ctx, target)
	}
	if sessionType == "" {
		sessionType = a.cfg.Fulfillment.DefaultSessionType
	}
	return hub.Controller().Open(ctx, target, api.SessionType(sessionType))
}

func scanMessage(sku string, res *api.ScanResult) string {
	msg := res.Message
	if msg == "" {
		msg = "Scanned " + sku
	}
	if res.IsOverpicked {
		msg += " (overpicked)"
	}
	return msg
}

// printer is where session summaries are written.
type printer interface {
	Printf(format string, args ...any)
}

func printSession(p printer, s *api.Session) {
	p.Printf("Order %s  invoice %s  session %s\n", s.OrderNumber, s.InvoiceNumber, s.SessionID)
	owner := s.CurrentOwner
	if owner == "" {
		owner = "-"
	}
	p.Printf("Status %s  owner %s  %d/%d items (%s%%)\n",
		s.Status, owner, s.CompletedItems, s.TotalItems, s.ProgressPercentage.StringFixed(0))
	for _, it := range s.Items {
		mark := ""
		switch {
		case it.Overpicked():
			mark = "  overpicked"
		case it.IsComplete:
			mark = "  done"
		}
		name := it.SKU
		if it.Name != "" {
			name += " " + it.Name
		}
		p.Printf("  %-24s %s/%s%s\n", name, it.QtyScanned.String(), it.QtyInvoiced.String(), mark)
	}
}

// splitArgs splits an interactive command line into its verb and the rest.
func splitArgs(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}
