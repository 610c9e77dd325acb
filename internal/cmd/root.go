package cmd

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/packline/internal/config"
)

// annotationCreatesConfig marks commands that may run before the file named
// by --config exists.
const annotationCreatesConfig = "packline/creates-config"

// NewRootCmd builds the packline command tree.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "packline",
		Short: "Pick & pack session client",
		Long: `Packline works fulfillment sessions against the warehouse backend.

One user owns a session at a time. Sessions left behind are saved as
drafts so anyone can pick them up, admins can cancel, reassign or take
over sessions, and the dashboard shows the whole floor live.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			err := config.Init(cfgFile)
			if err != nil && cmd.Annotations[annotationCreatesConfig] == "true" && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		},
	}

	// Global flags
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.config/packline/config.yaml)")
	root.PersistentFlags().BoolP("yes", "y", false, "answer yes to every confirmation")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("fulfillment.assume_yes", root.PersistentFlags().Lookup("yes"))
	_ = viper.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newSessionCmd(),
		newAdminCmd(),
		newDashboardCmd(),
		newWatchCmd(),
		newConfigCmd(),
	)
	return root
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}
