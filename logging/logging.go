package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// FormatText renders human-readable lines.
	FormatText = "text"
	// FormatJSON renders one JSON object per line.
	FormatJSON = "json"
)

// Options controls logger construction.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// New builds a logrus logger from options, defaulting to info/text on stderr.
func New(options Options) (*logrus.Logger, error) {
	logger := logrus.New()

	out := options.Output
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)

	level := strings.TrimSpace(options.Level)
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	logger.SetLevel(parsed)

	switch strings.ToLower(strings.TrimSpace(options.Format)) {
	case "", FormatText:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.TimeOnly,
		})
	case FormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q", options.Format)
	}

	return logger, nil
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
