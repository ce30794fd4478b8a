package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. It discards everything until
// Init runs, so library code can derive child loggers at construction
// time without caring whether logging was set up yet.
var Logger = zerolog.Nop()

// Init configures the root logger. level is one of debug, info, warn
// or error (anything unrecognized falls back to info). jsonOutput
// switches from the human-readable console format to raw JSON lines
// for log shippers.
func Init(level string, jsonOutput bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if !jsonOutput {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// WithComponent derives a logger tagged with a component name, so one
// subsystem's events can be filtered together downstream.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithWorker derives a logger tagged with the worker identity that is
// also used when claiming jobs.
func WithWorker(name string) zerolog.Logger {
	return Logger.With().Str("worker", name).Logger()
}
