// Package logging configures the zerolog loggers used by the host tools.
// The framing core in package protocol never logs.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLogLevel overrides the configured level when set
const EnvLogLevel = "ATCOMM_LOG_LEVEL"

// New builds a console logger for app on stderr and installs it as the
// global zerolog logger.
func New(app, level string) zerolog.Logger {
	logger := NewWithWriter(os.Stderr, app, level)
	log.Logger = logger
	return logger
}

// NewWithWriter builds a console logger writing to w
func NewWithWriter(w io.Writer, app, level string) zerolog.Logger {
	lvl, ok := ParseLevel(level)
	if !ok {
		lvl = zerolog.InfoLevel
	}
	if env, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		lvl = env
	}

	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(lvl).With().Timestamp().Str("app", app).Logger()
}

// ParseLevel maps a config or env string to a zerolog level
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
