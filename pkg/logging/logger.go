// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
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

	// Fields are attached to every log line, e.g. service name and version.
	Fields map[string]string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	for k, v := range cfg.Fields {
		ctx = ctx.Str(k, v)
	}
	logger := ctx.Logger()

	log.Logger = logger

	return logger
}

// ParseLevel validates a level name from configuration or flags.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

var zerologLevels = map[LogLevel]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// parseLevel converts LogLevel to zerolog.Level. Unknown names log at info.
func parseLevel(level LogLevel) zerolog.Level {
	l, err := ParseLevel(string(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return zerologLevels[l]
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, eviction, invalidation, sweep)
//   - Each request attempt
//   - Malformed rate limit headers
//
// Info: Normal operation events
//   - Network status transitions to online
//   - Requests that succeeded after a retry
//   - Proxy startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts with their backoff
//   - Network status transitions to degraded or offline
//   - Rate limit nearly exhausted
//   - Terminal request failures (404, 401, ...)
//   - Recovered listener panics
//   - Status publishing failures
//
// Error: Error conditions requiring attention
//   - Requests that exhausted their retries
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (tracker-client, cache, netstatus, proxy)
//   - request_id: X-Request-ID shared by all attempts of a request
//   - method, url: request target
//   - attempt, attempts: attempt number / total attempts made
//   - kind: error classification (network, auth, rate_limited, ...)
//   - status: HTTP status code
//   - backoff: delay before the next attempt
//   - cache, key: cache name and key
//   - from, to: network status transition
