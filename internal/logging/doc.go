// Package logging provides structured logging for packline.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation, so that a single log file can be filtered by session,
// order, user, or component after the fact.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR), adjustable at runtime
//   - Context propagation (session ID, order number, user, component)
//   - Size-based log rotation with optional gzip compression
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer and level.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	scanLog := logger.WithComponent("fulfillment").WithSession("s-42")
//	scanLog.Info("scan accepted", "sku", "SKU-1", "overpicked", false)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"scan accepted","component":"fulfillment","session_id":"s-42","sku":"SKU-1","overpicked":false}
//
// # Log Rotation
//
//	logger, err := logging.NewLoggerWithRotation("/path/to/logs", "INFO", logging.RotationConfig{
//	    MaxSizeMB:  10,
//	    MaxBackups: 3,
//	    Compress:   true,
//	})
//
// Rotated files are named packline.log.1, packline.log.2, ... where .1 is the
// most recent backup.
//
// # Testing
//
// Use [NopLogger] to discard all output.
package logging
