// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs every request and pagination round.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs batch progress and the run summary.
	LevelInfo LogLevel = "info"

	// LevelWarn logs retries, skipped and failed IDs.
	LevelWarn LogLevel = "warn"

	// LevelError logs conditions that abort the run.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// RunID is attached to every entry. Setup generates one when empty.
	RunID string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	runID := cfg.RunID
	if runID == "" {
		runID = NewRunID()
	}

	logger := zerolog.New(out).With().Timestamp().Str("run_id", runID).Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to zerolog.Level. Unknown names map to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ValidLevel reports whether level names a known level.
func ValidLevel(level LogLevel) bool {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - GraphQL requests (status, duration, cost)
//   - Pagination rounds (connection path, cursor)
//   - Records written, checkpoint saves
//
// Info: Normal operation events
//   - Resume position on startup
//   - Batch progress
//   - Run summary
//
// Warn: Warning conditions that don't stop the run
//   - Retry attempts and throttle waits
//   - Checkpoint not found in the input
//   - Not-found and failed IDs
//   - Partial record dropped from the output tail
//
// Error: Conditions that abort the run
//   - Input missing or unreadable
//   - Output or checkpoint write failures
//   - Cancellation
//
// Context Fields:
//   - run_id: identifier of one invocation
//   - component: emitting package
//   - id: node ID being processed
//   - batch: batch sequence number
//   - connection: path of the connection being paged
//   - cursor: cursor sent for the page
//   - status_code: HTTP status code
//   - error_class: client, server, rate_limit, network
//   - attempt: retry attempt number
