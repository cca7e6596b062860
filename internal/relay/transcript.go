package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TranscriptEvent is one line of a session transcript.
type TranscriptEvent struct {
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Source    string    `json:"source,omitempty"`
}

// Transcript records exchanges. Log must not block the caller.
type Transcript interface {
	Log(event TranscriptEvent)
}

type noopTranscript struct{}

func (noopTranscript) Log(TranscriptEvent) {}

// FileTranscript appends events as NDJSON to <dir>/<session_id>.ndjson from a
// single background writer. Events are dropped when the queue is full.
type FileTranscript struct {
	dir    string
	logger *slog.Logger
	queue  chan TranscriptEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewFileTranscript creates dir and starts the writer.
func NewFileTranscript(dir string, queueSize int, logger *slog.Logger) (*FileTranscript, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	t := &FileTranscript{
		dir:    dir,
		logger: logger,
		queue:  make(chan TranscriptEvent, queueSize),
		done:   make(chan struct{}),
	}
	go t.run()
	return t, nil
}

// Log enqueues event. Events logged after Close are dropped.
func (t *FileTranscript) Log(event TranscriptEvent) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.logger.Debug("Transcript closed, dropping event", "session_id", event.SessionID)
		return
	}
	select {
	case t.queue <- event:
	default:
		t.logger.Warn("Transcript queue full, dropping event", "session_id", event.SessionID)
	}
}

// Close flushes queued events and stops the writer.
func (t *FileTranscript) Close() error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	<-t.done
	return nil
}

func (t *FileTranscript) run() {
	defer close(t.done)
	for event := range t.queue {
		if err := t.append(event); err != nil {
			t.logger.Warn("Failed to write transcript", "session_id", event.SessionID, "error", err)
		}
	}
}

func (t *FileTranscript) append(event TranscriptEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	name := filepath.Base(event.SessionID)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "unknown"
	}
	f, err := os.OpenFile(filepath.Join(t.dir, name+".ndjson"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
