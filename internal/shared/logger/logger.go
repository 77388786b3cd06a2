package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger for a service. Output is one JSON line per
// event on stdout; set LOG_PRETTY=true for a human console writer in dev.
func New(service, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout)
	if strings.EqualFold(os.Getenv("LOG_PRETTY"), "true") {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	hostname, _ := os.Hostname()

	return logger.Level(lvl).With().
		Timestamp().
		Str("service", service).
		Str("hostname", hostname).
		Logger()
}
