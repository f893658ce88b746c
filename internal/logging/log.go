// Package logging wraps zerolog with the fields this subsystem attaches to
// nearly every line: session id, partition key, and current state name.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the package-level logger instance, configured by Init.
var Logger zerolog.Logger

// Level is a subset of zerolog's levels exposed through Config so callers
// don't need to import zerolog just to configure verbosity.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	Init(Config{Level: InfoLevel})
}

// Init (re)configures the global Logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithSession creates a child logger scoped to a session id.
func WithSession(sessionID string) zerolog.Logger {
	return Logger.With().Str("session_id", sessionID).Logger()
}

// WithPartition creates a child logger scoped to an event type and partition.
func WithPartition(l zerolog.Logger, eventType, partition string) zerolog.Logger {
	return l.With().Str("event_type", eventType).Str("partition", partition).Logger()
}

// WithState creates a child logger annotated with a lifecycle state name.
// The coordinator's own transition log line carries "from"/"to" fields
// instead and does not use this helper.
func WithState(l zerolog.Logger, state string) zerolog.Logger {
	return l.With().Str("state", state).Logger()
}
