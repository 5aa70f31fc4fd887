package logging

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the root logger.
type Options struct {
	Debug  bool
	Pretty bool
	Writer io.Writer
	// Ring, when set, also receives every log line.
	Ring *Ring
}

// New builds the root logger.
func New(opts Options) zerolog.Logger {
	var out io.Writer = os.Stderr
	if opts.Writer != nil {
		out = opts.Writer
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	if opts.Ring != nil {
		out = zerolog.MultiLevelWriter(out, opts.Ring)
	}

	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Ring keeps the most recent log messages for on-screen display.
type Ring struct {
	mu      sync.Mutex
	max     int
	entries []string
}

// NewRing creates a ring holding up to max messages.
func NewRing(max int) *Ring {
	if max < 1 {
		max = 1
	}
	return &Ring{max: max}
}

// Write implements io.Writer. Each call is one zerolog JSON line; only the
// level and message are kept.
func (r *Ring) Write(p []byte) (int, error) {
	msg := summarize(p)
	if msg == "" {
		return len(p), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, msg)
	if len(r.entries) > r.max {
		r.entries = r.entries[len(r.entries)-r.max:]
	}
	return len(p), nil
}

// Lines returns a copy of the retained messages, oldest first.
func (r *Ring) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	copy(out, r.entries)
	return out
}

func summarize(p []byte) string {
	var rec struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(p), &rec); err != nil || rec.Message == "" {
		return strings.TrimSpace(string(p))
	}
	if rec.Level == "" {
		return rec.Message
	}
	return rec.Level + ": " + rec.Message
}
