package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/packline/internal/config"
)

// settableKeys maps every key "config set" accepts to its value kind.
var settableKeys = map[string]string{
	"server.base_url":                  "string",
	"server.token":                     "string",
	"server.request_timeout_seconds":   "int",
	"server.bulk_timeout_seconds":      "int",
	"user.id":                          "string",
	"user.username":                    "string",
	"user.admin":                       "bool",
	"realtime.enabled":                 "bool",
	"realtime.url":                     "string",
	"realtime.room":                    "string",
	"realtime.max_attempts":            "int",
	"realtime.initial_backoff_ms":      "int",
	"realtime.max_backoff_ms":          "int",
	"realtime.ping_interval_seconds":   "int",
	"fulfillment.base_path":            "string",
	"fulfillment.login_path":           "string",
	"fulfillment.default_session_type": "string",
	"fulfillment.scan_field":           "string",
	"fulfillment.assume_yes":           "bool",
	"dashboard.poll_interval_seconds":  "int",
	"dashboard.include_completed":      "bool",
	"dashboard.group_by":               "string",
	"recovery.release_timeout_seconds": "int",
	"recovery.watch_signals":           "bool",
	"logging.enabled":                  "bool",
	"logging.level":                    "string",
	"logging.dir":                      "string",
	"logging.max_size_mb":              "int",
	"logging.max_backups":              "int",
	"logging.compress":                 "bool",
	"tui.theme":                        "string",
	"tui.show_presence":                "bool",
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "View or modify packline configuration",
		Long: `View or modify packline configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
		RunE: runConfigShow,
	}
	configCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show current configuration",
			RunE:  runConfigShow,
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set a configuration value",
			Long: `Set a configuration value in the config file.

Keys use dot notation, e.g.:
  packline config set user.id u-42
  packline config set dashboard.group_by owner
  packline config set realtime.enabled false

Run "packline config show" to see every key and its current value.`,
			Args:        cobra.ExactArgs(2),
			RunE:        runConfigSet,
			Annotations: map[string]string{annotationCreatesConfig: "true"},
		},
		&cobra.Command{
			Use:         "init",
			Short:       "Create a default config file",
			Long:        `Create a default config file at ~/.config/packline/config.yaml with all available options.`,
			Args:        cobra.NoArgs,
			RunE:        runConfigInit,
			Annotations: map[string]string{annotationCreatesConfig: "true"},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show the config file path",
			Args:  cobra.NoArgs,
			RunE:  runConfigPath,
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the configuration for errors",
			Args:  cobra.NoArgs,
			RunE:  runConfigValidate,
		},
	)
	return configCmd
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Config file: %s\n", used)
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	keys := make([]string, 0, len(settableKeys))
	for k := range settableKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	section := ""
	for _, k := range keys {
		sec, name, _ := strings.Cut(k, ".")
		if sec != section {
			fmt.Fprintf(out, "%s:\n", sec)
			section = sec
		}
		value := viper.Get(k)
		if k == "server.token" && viper.GetString(k) != "" {
			value = "********"
		}
		fmt.Fprintf(out, "  %s: %v\n", name, value)
	}
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	kind, ok := settableKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'packline config show' to see valid keys", key)
	}

	var typed any
	switch kind {
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typed = b
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		typed = n
	default:
		typed = value
	}

	previous := viper.Get(key)
	viper.Set(key, typed)
	if _, err := config.Load(); err != nil {
		viper.Set(key, previous)
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	file := targetConfigFile(cmd)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := viper.WriteConfigAs(file); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typed)
	fmt.Fprintf(out, "Config saved to %s\n", file)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	file := targetConfigFile(cmd)

	// Check if config file already exists
	if _, err := os.Stat(file); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'packline config set' to modify values", file)
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// The token may be written here later, so keep the file private.
	if err := os.WriteFile(file, []byte(defaultConfigYAML()), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", file)
	fmt.Fprintln(out, "Set user.id and server.base_url before opening sessions.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "Active config: %s\n", used)
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	fmt.Fprintf(out, "  2. ./config.yaml (current directory)\n")
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s_SERVER_BASE_URL)\n", config.EnvPrefix, config.EnvPrefix)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration is valid")
	if cfg.User.ID == "" {
		fmt.Fprintln(out, "Note: user.id is not set; session commands will refuse to run")
	}
	return nil
}

// targetConfigFile is the file writes go to: --config when given, else the
// file in use, else the default location.
func targetConfigFile(cmd *cobra.Command) string {
	if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
		return f.Value.String()
	}
	if used := viper.ConfigFileUsed(); used != "" {
		if _, err := os.Stat(used); err == nil {
			return used
		}
	}
	return config.ConfigFile()
}

func defaultConfigYAML() string {
	d := config.Default()
	var b strings.Builder
	w := func(format string, args ...any) { fmt.Fprintf(&b, format, args...) }

	w("# packline configuration\n\n")
	w("# Fulfillment backend\n")
	w("server:\n")
	w("  # REST root; the realtime endpoint is derived from it unless realtime.url is set\n")
	w("  base_url: %s\n", d.Server.BaseURL)
	w("  # Bearer token sent on every request\n")
	w("  token: \"\"\n")
	w("  request_timeout_seconds: %d\n", d.Server.RequestTimeoutSeconds)
	w("  # The full dashboard listing can be slow\n")
	w("  bulk_timeout_seconds: %d\n\n", d.Server.BulkTimeoutSeconds)

	w("# Who you are\n")
	w("user:\n")
	w("  id: \"\"\n")
	w("  username: \"\"\n")
	w("  # Unlocks the admin commands; the server checks the role again\n")
	w("  admin: false\n\n")

	w("# Live updates and presence\n")
	w("realtime:\n")
	w("  enabled: %t\n", d.Realtime.Enabled)
	w("  url: \"\"\n")
	w("  room: %s\n", d.Realtime.Room)
	w("  # Reconnects tried before giving up\n")
	w("  max_attempts: %d\n", d.Realtime.MaxAttempts)
	w("  initial_backoff_ms: %d\n", d.Realtime.InitialBackoffMs)
	w("  max_backoff_ms: %d\n", d.Realtime.MaxBackoffMs)
	w("  ping_interval_seconds: %d\n\n", d.Realtime.PingIntervalSeconds)

	w("fulfillment:\n")
	w("  # Deep links live under this path\n")
	w("  base_path: %s\n", d.Fulfillment.BasePath)
	w("  login_path: %s\n", d.Fulfillment.LoginPath)
	w("  # Options: %s\n", strings.Join(config.ValidSessionTypes(), ", "))
	w("  default_session_type: %s\n", d.Fulfillment.DefaultSessionType)
	w("  scan_field: %s\n", d.Fulfillment.ScanField)
	w("  # Answer yes to every confirmation\n")
	w("  assume_yes: %t\n\n", d.Fulfillment.AssumeYes)

	w("dashboard:\n")
	w("  poll_interval_seconds: %d\n", d.Dashboard.PollIntervalSeconds)
	w("  include_completed: %t\n", d.Dashboard.IncludeCompleted)
	w("  # Options: %s\n", strings.Join(config.ValidGroupings(), ", "))
	w("  group_by: %s\n\n", d.Dashboard.GroupBy)

	w("# Saving abandoned sessions as drafts\n")
	w("recovery:\n")
	w("  release_timeout_seconds: %d\n", d.Recovery.ReleaseTimeoutSeconds)
	w("  # Release on SIGINT, SIGTERM, SIGHUP and SIGTSTP\n")
	w("  watch_signals: %t\n\n", d.Recovery.WatchSignals)

	w("logging:\n")
	w("  enabled: %t\n", d.Logging.Enabled)
	w("  # Options: %s\n", strings.Join(config.ValidLogLevels(), ", "))
	w("  level: %s\n", d.Logging.Level)
	w("  # Empty means %s\n", filepath.Join(config.ConfigDir(), "logs"))
	w("  dir: \"\"\n")
	w("  max_size_mb: %d\n", d.Logging.MaxSizeMB)
	w("  max_backups: %d\n", d.Logging.MaxBackups)
	w("  compress: %t\n\n", d.Logging.Compress)

	w("tui:\n")
	w("  # Options: %s\n", strings.Join(config.ValidThemes(), ", "))
	w("  theme: %s\n", d.TUI.Theme)
	w("  show_presence: %t\n", d.TUI.ShowPresence)
	return b.String()
}
