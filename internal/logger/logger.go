package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup configures the global level and returns the server logger, which
// writes to stdout.
//   - level: trace, debug, info, warn, error, fatal or panic (unknown means info)
//   - format: "pretty" for console output, anything else for JSON lines
func Setup(level, format string) zerolog.Logger {
	return New(os.Stdout, "attempt-engine", level, format)
}

// SetupCLI is Setup for the operator tools. Logs go to stderr so command
// output on stdout (tokens, hashes) stays pipeable.
func SetupCLI(service, level, format string) zerolog.Logger {
	return New(os.Stderr, service, level, format)
}

// New builds a logger tagged with service.
func New(out io.Writer, service, level, format string) zerolog.Logger {
	writer := out
	if format == "pretty" {
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(writer).
		With().
		Timestamp().
		Str("service", service).
		Caller().
		Logger()
}
