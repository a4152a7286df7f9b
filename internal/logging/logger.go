// Package logging builds the structured logrus logger shared by the broker,
// registry and worker binaries, following the same level/format/output
// conventions as the wider codebase's logging helper.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls the logger New builds.
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
	Output io.Writer
}

// New returns a configured *logrus.Logger. An empty Config yields info-level
// text logging to stderr.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true})
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)

	return logger
}

// RingHook is a logrus.Hook that keeps the last N formatted entries in
// memory, backing the supplemented `/log?n=` endpoint.
type RingHook struct {
	capacity int
	lines    []string
	pos      int
	full     bool
}

// NewRingHook returns a RingHook holding up to capacity lines.
func NewRingHook(capacity int) *RingHook {
	return &RingHook{capacity: capacity, lines: make([]string, capacity)}
}

func (h *RingHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *RingHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	h.lines[h.pos] = line
	h.pos = (h.pos + 1) % h.capacity
	if h.pos == 0 {
		h.full = true
	}
	return nil
}

// Last returns up to n of the most recently recorded lines, oldest first.
func (h *RingHook) Last(n int) []string {
	var ordered []string
	if h.full {
		ordered = append(ordered, h.lines[h.pos:]...)
	}
	ordered = append(ordered, h.lines[:h.pos]...)

	if n <= 0 || n > len(ordered) {
		n = len(ordered)
	}
	return ordered[len(ordered)-n:]
}
