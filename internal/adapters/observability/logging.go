package observability

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a zerolog Logger tagged with the service name.
// APP_ENV=dev (or development) uses a human-friendly console writer.
func NewLogger(env, service, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var l zerolog.Logger
	if env == "dev" || env == "development" {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		l = zerolog.New(os.Stdout)
	}
	return l.With().Timestamp().Str("service", service).Logger().Level(ParseLevel(level))
}

func ParseLevel(v string) zerolog.Level {
	s := strings.ToLower(strings.TrimSpace(v))
	if s == "" {
		return zerolog.InfoLevel
	}
	if lvl, err := zerolog.ParseLevel(s); err == nil {
		return lvl
	}
	return zerolog.InfoLevel
}
