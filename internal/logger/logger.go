package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup initializes the global zerolog logger.
//   - service: value of the "service" field on every entry
//   - level: trace, debug, info, warn, error, fatal, panic
//   - format: "json" for production, "pretty" for human-readable dev output
func Setup(service, level, format string) zerolog.Logger {
	var writer io.Writer = os.Stdout
	if format == "pretty" {
		writer = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
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

