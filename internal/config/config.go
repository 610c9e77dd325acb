package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/packline/internal/errors"
)

// Config represents the complete packline configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	User        UserConfig        `mapstructure:"user"`
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
	Fulfillment FulfillmentConfig `mapstructure:"fulfillment"`
	Dashboard   DashboardConfig   `mapstructure:"dashboard"`
	Recovery    RecoveryConfig    `mapstructure:"recovery"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	TUI         TUIConfig         `mapstructure:"tui"`
}

// ServerConfig locates the fulfillment backend
type ServerConfig struct {
	// BaseURL is the REST root, e.g. https://wms.example.com/api
	BaseURL string `mapstructure:"base_url"`
	// Token is the bearer token sent on every request and on the realtime handshake
	Token string `mapstructure:"token"`
	// RequestTimeoutSeconds bounds ordinary requests (default: 60)
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	// BulkTimeoutSeconds bounds known bulk requests such as the full dashboard listing (default: 180)
	BulkTimeoutSeconds int `mapstructure:"bulk_timeout_seconds"`
}

// UserConfig identifies the signed-in user
type UserConfig struct {
	// ID is the backend user id
	ID string `mapstructure:"id"`
	// Username is the display name shown to other users
	Username string `mapstructure:"username"`
	// Admin unlocks force-cancel, force-assign and takeover in the client.
	// The backend still enforces the role.
	Admin bool `mapstructure:"admin"`
}

// RealtimeConfig controls the realtime channel
type RealtimeConfig struct {
	// Enabled connects the realtime channel (default: true). Without it the
	// client relies on polling alone.
	Enabled bool `mapstructure:"enabled"`
	// URL is the websocket endpoint. If empty it is derived from server.base_url.
	URL string `mapstructure:"url"`
	// Room is the inventory room joined for presence (default: "inventory")
	Room string `mapstructure:"room"`
	// MaxAttempts is how many reconnects are tried before giving up (default: 5)
	MaxAttempts int `mapstructure:"max_attempts"`
	// InitialBackoffMs is the first reconnect delay (default: 1000)
	InitialBackoffMs int `mapstructure:"initial_backoff_ms"`
	// MaxBackoffMs caps the reconnect delay (default: 5000)
	MaxBackoffMs int `mapstructure:"max_backoff_ms"`
	// PingIntervalSeconds is the keepalive interval (default: 25)
	PingIntervalSeconds int `mapstructure:"ping_interval_seconds"`
}

// FulfillmentConfig controls the session workflow
type FulfillmentConfig struct {
	// BasePath is the fulfillment view's path; deep links live under it
	// (default: "/inventory/order-fulfillment")
	BasePath string `mapstructure:"base_path"`
	// LoginPath is where an authentication failure sends the user (default: "/login")
	LoginPath string `mapstructure:"login_path"`
	// DefaultSessionType is used when none is given: "pick" or "return" (default: "pick")
	DefaultSessionType string `mapstructure:"default_session_type"`
	// ScanField is the item field scans increment (default: "qty_scanned")
	ScanField string `mapstructure:"scan_field"`
	// AssumeYes answers every confirmation with yes. Meant for scripted use.
	AssumeYes bool `mapstructure:"assume_yes"`
}

// DashboardConfig controls the fleet view
type DashboardConfig struct {
	// PollIntervalSeconds is the backstop poll interval (default: 30)
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	// IncludeCompleted lists finished sessions too (default: false)
	IncludeCompleted bool `mapstructure:"include_completed"`
	// GroupBy picks the display grouping: "shipping_method", "status" or "owner"
	// (default: "shipping_method")
	GroupBy string `mapstructure:"group_by"`
}

// RecoveryConfig controls auto-draft on abandonment
type RecoveryConfig struct {
	// ReleaseTimeoutSeconds bounds the release call (default: 10)
	ReleaseTimeoutSeconds int `mapstructure:"release_timeout_seconds"`
	// WatchSignals releases the active session on SIGINT, SIGTERM, SIGHUP and SIGTSTP (default: true)
	WatchSignals bool `mapstructure:"watch_signals"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is where packline.log is written (default: <config dir>/logs)
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// TUIConfig controls the terminal dashboard
type TUIConfig struct {
	// Theme is the color theme: "default" or "mono" (default: "default")
	Theme string `mapstructure:"theme"`
	// ShowPresence lists who else is viewing the inventory room (default: true)
	ShowPresence bool `mapstructure:"show_presence"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:               "http://localhost:8000/api",
			RequestTimeoutSeconds: 60,
			BulkTimeoutSeconds:    180,
		},
		Realtime: RealtimeConfig{
			Enabled:             true,
			Room:                "inventory",
			MaxAttempts:         5,
			InitialBackoffMs:    1000,
			MaxBackoffMs:        5000,
			PingIntervalSeconds: 25,
		},
		Fulfillment: FulfillmentConfig{
			BasePath:           "/inventory/order-fulfillment",
			LoginPath:          "/login",
			DefaultSessionType: "pick",
			ScanField:          "qty_scanned",
		},
		Dashboard: DashboardConfig{
			PollIntervalSeconds: 30,
			GroupBy:             "shipping_method",
		},
		Recovery: RecoveryConfig{
			ReleaseTimeoutSeconds: 10,
			WatchSignals:          true,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		TUI: TUIConfig{
			Theme:        "default",
			ShowPresence: true,
		},
	}
}

// RequestTimeout returns the ordinary request deadline
func (c *ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// BulkTimeout returns the bulk request deadline
func (c *ServerConfig) BulkTimeout() time.Duration {
	return time.Duration(c.BulkTimeoutSeconds) * time.Second
}

// InitialBackoff returns the first reconnect delay
func (c *RealtimeConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff returns the reconnect delay cap
func (c *RealtimeConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMs) * time.Millisecond
}

// PingInterval returns the keepalive interval
func (c *RealtimeConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

// ResolveURL returns the websocket endpoint. Without an explicit URL it is
// the server's origin with a ws or wss scheme and the /realtime path.
func (c *Config) ResolveURL() string {
	if c.Realtime.URL != "" {
		return c.Realtime.URL
	}
	base := strings.TrimSuffix(c.Server.BaseURL, "/")
	base = strings.TrimSuffix(base, "/api")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/realtime"
}

// PollInterval returns the dashboard backstop interval
func (c *DashboardConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ReleaseTimeout returns the release call deadline
func (c *RecoveryConfig) ReleaseTimeout() time.Duration {
	return time.Duration(c.ReleaseTimeoutSeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Server defaults
	viper.SetDefault("server.base_url", defaults.Server.BaseURL)
	viper.SetDefault("server.token", defaults.Server.Token)
	viper.SetDefault("server.request_timeout_seconds", defaults.Server.RequestTimeoutSeconds)
	viper.SetDefault("server.bulk_timeout_seconds", defaults.Server.BulkTimeoutSeconds)

	// User defaults
	viper.SetDefault("user.id", defaults.User.ID)
	viper.SetDefault("user.username", defaults.User.Username)
	viper.SetDefault("user.admin", defaults.User.Admin)

	// Realtime defaults
	viper.SetDefault("realtime.enabled", defaults.Realtime.Enabled)
	viper.SetDefault("realtime.url", defaults.Realtime.URL)
	viper.SetDefault("realtime.room", defaults.Realtime.Room)
	viper.SetDefault("realtime.max_attempts", defaults.Realtime.MaxAttempts)
	viper.SetDefault("realtime.initial_backoff_ms", defaults.Realtime.InitialBackoffMs)
	viper.SetDefault("realtime.max_backoff_ms", defaults.Realtime.MaxBackoffMs)
	viper.SetDefault("realtime.ping_interval_seconds", defaults.Realtime.PingIntervalSeconds)

	// Fulfillment defaults
	viper.SetDefault("fulfillment.base_path", defaults.Fulfillment.BasePath)
	viper.SetDefault("fulfillment.login_path", defaults.Fulfillment.LoginPath)
	viper.SetDefault("fulfillment.default_session_type", defaults.Fulfillment.DefaultSessionType)
	viper.SetDefault("fulfillment.scan_field", defaults.Fulfillment.ScanField)
	viper.SetDefault("fulfillment.assume_yes", defaults.Fulfillment.AssumeYes)

	// Dashboard defaults
	viper.SetDefault("dashboard.poll_interval_seconds", defaults.Dashboard.PollIntervalSeconds)
	viper.SetDefault("dashboard.include_completed", defaults.Dashboard.IncludeCompleted)
	viper.SetDefault("dashboard.group_by", defaults.Dashboard.GroupBy)

	// Recovery defaults
	viper.SetDefault("recovery.release_timeout_seconds", defaults.Recovery.ReleaseTimeoutSeconds)
	viper.SetDefault("recovery.watch_signals", defaults.Recovery.WatchSignals)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// TUI defaults
	viper.SetDefault("tui.theme", defaults.TUI.Theme)
	viper.SetDefault("tui.show_presence", defaults.TUI.ShowPresence)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "packline")
	}
	// Fall back to ~/.config/packline
	home, err := os.UserHomeDir()
	if err != nil {
		return ".packline"
	}
	return filepath.Join(home, ".config", "packline")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// EnvPrefix is the prefix of environment overrides, e.g.
// PACKLINE_SERVER_BASE_URL for server.base_url.
const EnvPrefix = "PACKLINE"

// Init points viper at cfgFile, or at the default search path when it is
// empty, enables environment overrides, and reads the file if one exists.
func Init(cfgFile string) error {
	// Set defaults first so they're available even without a config file
	SetDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(EnvPrefix)
	// Replace dots with underscores for nested keys in env vars
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && cfgFile == "" {
			return nil
		}
		return err
	}
	return nil
}

// ValidSessionTypes returns the accepted default session types
func ValidSessionTypes() []string {
	return []string{"pick", "return"}
}

// ValidGroupings returns the accepted dashboard groupings
func ValidGroupings() []string {
	return []string{"shipping_method", "status", "owner"}
}

// ValidThemes returns the accepted TUI themes
func ValidThemes() []string {
	return []string{"default", "mono"}
}
