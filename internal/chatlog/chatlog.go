// Package chatlog records chat traffic as per-user NDJSON files.
// Logging is asynchronous: events go through a bounded queue and are
// dropped, not blocked on, when the writer falls behind.
package chatlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger receives chat events. Implementations must not block the
// request path.
type Logger interface {
	Log(event Event)
	Close() error
}

// Event is one logged chat interaction.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Model     string    `json:"model,omitempty"`
	EventType string    `json:"event_type"`
	Content   string    `json:"content"`
}

// Event types.
const (
	EventUserMessage   = "user_message"
	EventModelResponse = "model_response"
	EventAnswerAttempt = "answer_attempt"
	EventStreamFailure = "stream_failure"
)

// Config controls the file logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// New creates a logger from cfg. When logging is disabled the returned
// logger discards everything.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return noopLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chat log dir: %w", err)
	}

	fl := &fileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go fl.run()
	return fl, nil
}

type fileLogger struct {
	dir    string
	queue  chan Event
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
}

// Log queues an event. Events are dropped when the queue is full.
func (l *fileLogger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("chat log queue full, dropping event",
			"user_id", event.UserID,
			"event_type", event.EventType,
		)
	}
}

// Close drains pending events and stops the writer.
func (l *fileLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.queue)
		<-l.done
	})
	return nil
}

func (l *fileLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		if err := l.write(event); err != nil {
			l.logger.Warn("failed to write chat log event", "error", err)
		}
	}
}

func (l *fileLogger) write(event Event) error {
	path := filepath.Join(l.dir, logFileName(event.UserID))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

// logFileName maps a user ID onto a file name that cannot leave the
// log directory. The ID arrives in request bodies, so path separators
// and dot segments must not survive into the path.
func logFileName(userID string) string {
	var b strings.Builder
	b.Grow(len(userID))
	for _, r := range userID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	name := b.String()
	if name == "" {
		name = "anonymous"
	}
	return name + ".ndjson"
}

type noopLogger struct{}

func (noopLogger) Log(Event) {}

func (noopLogger) Close() error { return nil }
