// Package convlog writes conversation events as newline-delimited JSON,
// one file per device session plus an optional global file.
package convlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Event types.
const (
	EventUserMessage      = "user_message"
	EventAssistantMessage = "assistant_message"
	EventNotice           = "notice"
	EventQuotaDenied      = "quota_denied"
	EventTranscription    = "transcription"
	EventReset            = "reset"
)

// Event is one logged conversation event.
type Event struct {
	Timestamp  string   `json:"ts"`
	DeviceID   string   `json:"device_id"`
	SessionID  string   `json:"session_id"`
	Channel    string   `json:"channel"`
	Direction  string   `json:"direction"`
	EventType  string   `json:"event_type"`
	TurnID     string   `json:"turn_id,omitempty"`
	Content    string   `json:"content"`
	ContentRaw string   `json:"content_raw,omitempty"`
	Corrected  string   `json:"corrected,omitempty"`
	Tips       []string `json:"tips,omitempty"`
	Fallback   bool     `json:"fallback,omitempty"`
}

// Logger accepts conversation events. Log never blocks the caller.
type Logger interface {
	Log(Event)
	Close() error
}

// Config controls NDJSON conversation logging.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Nop discards every event.
type Nop struct{}

// Log implements Logger.
func (Nop) Log(Event) {}

// Close implements Logger.
func (Nop) Close() error { return nil }

// FileLogger is an asynchronous NDJSON writer.
type FileLogger struct {
	cfg    Config
	logger *slog.Logger
	queue  chan Event
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// New returns a Logger for cfg. A disabled config yields Nop.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	l := &FileLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Log enqueues ev. Events are dropped when the queue is full.
func (l *FileLogger) Log(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if ev.Content == "" && ev.ContentRaw != "" {
		ev.Content = cleanForReadability(ev.ContentRaw)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"device_id", ev.DeviceID, "event_type", ev.EventType)
	}
}

// Close drains the queue and stops the writer.
func (l *FileLogger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
		<-l.done
	})
	return nil
}

func (l *FileLogger) run() {
	defer close(l.done)
	for ev := range l.queue {
		line, err := json.Marshal(ev)
		if err != nil {
			l.logger.Warn("Failed to encode conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		if err := appendLine(l.sessionPath(ev), line); err != nil {
			l.logger.Warn("Failed to write conversation event", "device_id", ev.DeviceID, "error", err)
		}
		if l.cfg.GlobalEnabled {
			if err := appendLine(l.cfg.GlobalPath, line); err != nil {
				l.logger.Warn("Failed to write global conversation event", "error", err)
			}
		}
	}
}

func (l *FileLogger) sessionPath(ev Event) string {
	device := sanitizeSegment(ev.DeviceID, "unknown")
	session := sanitizeSegment(ev.SessionID, "default")
	return filepath.Join(l.cfg.Dir, device, session+".ndjson")
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9_\-]`)

func sanitizeSegment(s, fallback string) string {
	s = unsafeSegment.ReplaceAllString(s, "_")
	if s == "" {
		return fallback
	}
	return s
}

var (
	ansiEscape   = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	markdownBold = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	spaceRuns    = regexp.MustCompile(`[ \t]+`)
)

// cleanForReadability strips terminal escapes and markdown emphasis and
// collapses whitespace so log lines read as plain sentences.
func cleanForReadability(raw string) string {
	s := ansiEscape.ReplaceAllString(raw, "")
	s = markdownBold.ReplaceAllString(s, "$1")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(spaceRuns.ReplaceAllString(s, " "))
}
