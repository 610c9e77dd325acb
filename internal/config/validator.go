package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "server.base_url")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateRealtime()...)
	errors = append(errors, c.validateFulfillment()...)
	errors = append(errors, c.validateDashboard()...)
	errors = append(errors, c.validateRecovery()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateTUI()...)

	return errors
}

// validateServer validates the ServerConfig
func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if err := validateURL(c.Server.BaseURL, "http", "https"); err != "" {
		errors = append(errors, ValidationError{
			Field:   "server.base_url",
			Value:   c.Server.BaseURL,
			Message: err,
		})
	}

	if c.Server.RequestTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "server.request_timeout_seconds",
			Value:   c.Server.RequestTimeoutSeconds,
			Message: "must be positive",
		})
	}

	// A bulk request is never given less time than an ordinary one
	if c.Server.BulkTimeoutSeconds < c.Server.RequestTimeoutSeconds {
		errors = append(errors, ValidationError{
			Field:   "server.bulk_timeout_seconds",
			Value:   c.Server.BulkTimeoutSeconds,
			Message: fmt.Sprintf("must be at least server.request_timeout_seconds (%d)", c.Server.RequestTimeoutSeconds),
		})
	}

	return errors
}

// validateRealtime validates the RealtimeConfig
func (c *Config) validateRealtime() []ValidationError {
	var errors []ValidationError

	if !c.Realtime.Enabled {
		return nil
	}

	if c.Realtime.URL != "" {
		if err := validateURL(c.Realtime.URL, "ws", "wss"); err != "" {
			errors = append(errors, ValidationError{
				Field:   "realtime.url",
				Value:   c.Realtime.URL,
				Message: err,
			})
		}
	}

	if strings.TrimSpace(c.Realtime.Room) == "" {
		errors = append(errors, ValidationError{
			Field:   "realtime.room",
			Value:   c.Realtime.Room,
			Message: "must not be empty",
		})
	}

	if c.Realtime.MaxAttempts < 0 {
		errors = append(errors, ValidationError{
			Field:   "realtime.max_attempts",
			Value:   c.Realtime.MaxAttempts,
			Message: "must be non-negative",
		})
	}

	if c.Realtime.InitialBackoffMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "realtime.initial_backoff_ms",
			Value:   c.Realtime.InitialBackoffMs,
			Message: "must be positive",
		})
	}

	if c.Realtime.MaxBackoffMs < c.Realtime.InitialBackoffMs {
		errors = append(errors, ValidationError{
			Field:   "realtime.max_backoff_ms",
			Value:   c.Realtime.MaxBackoffMs,
			Message: fmt.Sprintf("must be at least realtime.initial_backoff_ms (%d)", c.Realtime.InitialBackoffMs),
		})
	}

	if c.Realtime.PingIntervalSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "realtime.ping_interval_seconds",
			Value:   c.Realtime.PingIntervalSeconds,
			Message: "must be positive",
		})
	}

	return errors
}

// validateFulfillment validates the FulfillmentConfig
func (c *Config) validateFulfillment() []ValidationError {
	var errors []ValidationError

	for _, p := range []struct{ field, path string }{
		{"fulfillment.base_path", c.Fulfillment.BasePath},
		{"fulfillment.login_path", c.Fulfillment.LoginPath},
	} {
		if p.path != "" && !strings.HasPrefix(p.path, "/") {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.path,
				Message: "must be an absolute path starting with /",
			})
		}
	}

	if !slices.Contains(ValidSessionTypes(), c.Fulfillment.DefaultSessionType) {
		errors = append(errors, ValidationError{
			Field:   "fulfillment.default_session_type",
			Value:   c.Fulfillment.DefaultSessionType,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSessionTypes(), ", ")),
		})
	}

	if strings.TrimSpace(c.Fulfillment.ScanField) == "" {
		errors = append(errors, ValidationError{
			Field:   "fulfillment.scan_field",
			Value:   c.Fulfillment.ScanField,
			Message: "must not be empty",
		})
	}

	return errors
}

// validateDashboard validates the DashboardConfig
func (c *Config) validateDashboard() []ValidationError {
	var errors []ValidationError

	// Polling faster than this only adds load; pushed events cover freshness
	const minPollSeconds = 5
	if c.Dashboard.PollIntervalSeconds < minPollSeconds {
		errors = append(errors, ValidationError{
			Field:   "dashboard.poll_interval_seconds",
			Value:   c.Dashboard.PollIntervalSeconds,
			Message: fmt.Sprintf("must be at least %d", minPollSeconds),
		})
	}

	if c.Dashboard.GroupBy != "" && !slices.Contains(ValidGroupings(), c.Dashboard.GroupBy) {
		errors = append(errors, ValidationError{
			Field:   "dashboard.group_by",
			Value:   c.Dashboard.GroupBy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidGroupings(), ", ")),
		})
	}

	return errors
}

// validateRecovery validates the RecoveryConfig
func (c *Config) validateRecovery() []ValidationError {
	var errors []ValidationError

	const maxReleaseSeconds = 60
	if c.Recovery.ReleaseTimeoutSeconds <= 0 || c.Recovery.ReleaseTimeoutSeconds > maxReleaseSeconds {
		errors = append(errors, ValidationError{
			Field:   "recovery.release_timeout_seconds",
			Value:   c.Recovery.ReleaseTimeoutSeconds,
			Message: fmt.Sprintf("must be between 1 and %d", maxReleaseSeconds),
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateTUI validates the TUIConfig
func (c *Config) validateTUI() []ValidationError {
	if c.TUI.Theme == "" || slices.Contains(ValidThemes(), c.TUI.Theme) {
		return nil
	}
	return []ValidationError{{
		Field:   "tui.theme",
		Value:   c.TUI.Theme,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidThemes(), ", ")),
	}}
}

// validateURL returns a problem description, or "" if raw is an absolute
// URL with one of the given schemes.
func validateURL(raw string, schemes ...string) string {
	if strings.TrimSpace(raw) == "" {
		return "must not be empty"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "is not a valid URL"
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Sprintf("scheme must be one of: %s", strings.Join(schemes, ", "))
	}
	if u.Host == "" {
		return "must include a host"
	}
	return ""
}
