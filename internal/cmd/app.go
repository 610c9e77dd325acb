package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/packline/internal/config"
	"github.com/Iron-Ham/packline/internal/coordination"
	"github.com/Iron-Ham/packline/internal/event"
	"github.com/Iron-Ham/packline/internal/logging"
	"github.com/Iron-Ham/packline/internal/recovery"
)

// app is what every command runs with: the validated configuration, the
// logger and the terminal.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	term   *terminal
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	term := newTerminal(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(),
		cfg.Fulfillment.AssumeYes, cfg.TUI.Theme)
	return &app{cfg: cfg, logger: logger, term: term}, nil
}

// newLogger opens the rotating log file, or returns a no-op logger when
// logging is disabled.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	dir := cfg.Logging.Dir
	if dir == "" {
		dir = filepath.Join(config.ConfigDir(), "logs")
	}
	logger, err := logging.NewLoggerWithRotation(dir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	return logger, nil
}

func (a *app) close() {
	_ = a.logger.Close()
}

// requireUser fails early when the config does not say who is signed in.
func (a *app) requireUser() error {
	if a.cfg.User.ID == "" {
		return fmt.Errorf("no user configured: set user.id in %s or PACKLINE_USER_ID", config.ConfigFile())
	}
	return nil
}

// watchConfig applies log level edits to the running process.
func (a *app) watchConfig() {
	config.Watch(config.LogLevelWatcher(a.logger.SetLevel, func(err error) {
		a.term.Notify(event.ToastWarning, "config change ignored: "+err.Error())
	}))
}

// withHub runs fn with a started hub and stops the hub afterwards, which
// saves any session still open as a draft. A termination signal cancels
// the context passed to fn.
func (a *app) withHub(ctx context.Context, fn func(ctx context.Context, hub *coordination.Hub) error, opts ...coordination.Option) error {
	if err := a.requireUser(); err != nil {
		return err
	}
	hub, err := coordination.NewHub(coordination.Config{
		Settings:  a.cfg,
		Prompter:  a.term,
		Navigator: a.term,
		Notifier:  a.term,
		Logger:    a.logger,
	}, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := hub.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = hub.Stop() }()

	if sigs := hub.Signals(); sigs != nil {
		go func() {
			for sig := range sigs {
				if _, ok := sig.(recovery.Unload); ok {
					a.logger.Info("leaving on signal", "signal", sig.Name())
					cancel()
					return
				}
			}
		}()
	}

	return fn(ctx, hub)
}

// run wraps a command body that needs the app.
func run(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, a, args)
	}
}
