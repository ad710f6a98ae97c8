// Package monitoring holds the process-wide diagnostic loggers.
package monitoring

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the structured logger used for race events. It writes
// human-readable console output to stderr by default.
var Logger = newConsoleLogger(os.Stderr)

// Logf is the package-level diagnostic logger. It defaults to an info-level
// message on Logger but may be replaced by SetLogger. Tests or production code
// can redirect or mute it.
var Logf func(format string, v ...interface{}) = defaultLogf

func defaultLogf(format string, v ...interface{}) {
	Logger.Info().Msgf(format, v...)
}

func newConsoleLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
}

// SetLogger replaces the printf logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetOutput points both loggers at w. Logf is reset to its default so that
// printf-style messages follow the structured logger.
func SetOutput(w io.Writer) {
	Logger = zerolog.New(w).With().Timestamp().Logger()
	Logf = defaultLogf
}

// SetLevel sets the minimum level for Logger.
func SetLevel(level zerolog.Level) {
	Logger = Logger.Level(level)
}
