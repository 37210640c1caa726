package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	logger *slog.Logger
)

// New builds a logger writing level-filtered records to w. Format "text"
// selects logfmt output; anything else is JSON.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// SetupWithWriter installs the process logger and makes it the slog default.
// The CLI calls it once, after the config has been read.
func SetupWithWriter(w io.Writer, level, format string) {
	l := New(w, level, format)
	mu.Lock()
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
}

// ParseLevel maps a config level name onto a slog level. Unknown names are INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the process logger, installing a JSON INFO logger on stderr
// when nothing has been set up yet.
func Get() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = New(os.Stderr, "info", "json")
	}
	return logger
}

func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

func WithBackend(name string) *slog.Logger {
	return Get().With(slog.String("backend", name))
}

// ForJob tags l with the fields every job log line carries.
func ForJob(l *slog.Logger, jobID, backend string) *slog.Logger {
	return l.With(slog.String("job_id", jobID), slog.String("backend", backend))
}
