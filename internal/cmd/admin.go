package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/packline/internal/coordination"
)

func newAdminCmd() *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Forced ownership changes (admin only)",
		Long: `Forced ownership changes.

These commands change who owns a session without asking its owner. The
owner's client is told and sent back to the order list. They require
user.admin in the config, and the server checks the role again.`,
	}
	adminCmd.AddCommand(
		newAdminForceCancelCmd(),
		newAdminForceAssignCmd(),
		newAdminTakeoverCmd(),
	)
	return adminCmd
}

func newAdminForceCancelCmd() *cobra.Command {
	var reason string
	cancelCmd := &cobra.Command{
		Use:   "force-cancel <session-id>",
		Short: "Cancel a session whoever owns it",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.requireAdmin(); err != nil {
				return err
			}
			return a.withHub(cmd.Context(), func(ctx context.Context, hub *coordination.Hub) error {
				return hub.Coordinator().ForceCancel(ctx, args[0], reason)
			})
		}),
	}
	cancelCmd.Flags().StringVarP(&reason, "reason", "r", "", "reason shown to the owner")
	return cancelCmd
}

func newAdminForceAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-assign <session-id> <user-id>",
		Short: "Give a session to another user",
		Args:  cobra.ExactArgs(2),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.requireAdmin(); err != nil {
				return err
			}
			return a.withHub(cmd.Context(), func(ctx context.Context, hub *coordination.Hub) error {
				return hub.Coordinator().ForceAssign(ctx, args[0], args[1])
			})
		}),
	}
}

func newAdminTakeoverCmd() *cobra.Command {
	var work bool
	takeoverCmd := &cobra.Command{
		Use:   "takeover <session-id>",
		Short: "Take a session over and open it",
		Long: `Take a session over and open it.

The previous owner is told the session was taken over. Without --work the
session is saved as a draft again on exit, owned by nobody.`,
		Args: cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.requireAdmin(); err != nil {
				return err
			}
			return a.withHub(cmd.Context(), func(ctx context.Context, hub *coordination.Hub) error {
				path, err := hub.Coordinator().Takeover(ctx, args[0])
				if err != nil {
					return err
				}
				a.term.Printf("%s\n", path)
				sess := hub.Controller().Session()
				if !work || sess == nil {
					return nil
				}
				return workLoop(ctx, a, hub, sess)
			})
		}),
	}
	takeoverCmd.Flags().BoolVarP(&work, "work", "w", false, "keep the session open and scan interactively")
	return takeoverCmd
}

// requireAdmin fails before any request is made when the configured user
// is not an admin.
func (a *app) requireAdmin() error {
	if !a.cfg.User.Admin {
		return errors.New("this command needs an admin user (set user.admin)")
	}
	return nil
}
