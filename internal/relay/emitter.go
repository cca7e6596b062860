package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Meta is the first event of a streamed exchange.
type Meta struct {
	Emotion   string `json:"emotion"`
	Complaint string `json:"complaint"`
}

// Emitter is the server-push side of a streamed exchange. Any error is final:
// the relay stops writing and does not commit.
type Emitter interface {
	Meta(m Meta) error
	Delta(text string) error
	Done() error
}

// DoneMarker terminates an SSE stream.
const DoneMarker = "[DONE]"

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// SSEEmitter writes events as text/event-stream. Headers are sent with the
// first event so that validation errors can still be answered as JSON.
type SSEEmitter struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	keepalive time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
	pinging bool
	failed  error

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

var _ Emitter = (*SSEEmitter)(nil)

// NewSSEEmitter wraps w. A zero keepalive disables keepalive comments.
func NewSSEEmitter(w http.ResponseWriter, keepalive time.Duration, logger *slog.Logger) (*SSEEmitter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEEmitter{
		w:         w,
		flusher:   flusher,
		keepalive: keepalive,
		logger:    logger,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// Started reports whether any bytes were written.
func (e *SSEEmitter) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Meta sends the emotion and complaint event.
func (e *SSEEmitter) Meta(m Meta) error {
	return e.sendJSON(struct {
		Meta Meta `json:"meta"`
	}{m})
}

// Delta sends one text fragment.
func (e *SSEEmitter) Delta(text string) error {
	return e.sendJSON(struct {
		Delta string `json:"delta"`
	}{text})
}

// Done sends the completion marker and stops keepalives.
func (e *SSEEmitter) Done() error {
	err := e.write(DoneMarker)
	e.Close()
	return err
}

// Close stops the keepalive goroutine. It does not write anything and is safe
// to call more than once.
func (e *SSEEmitter) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.mu.Lock()
	pinging := e.pinging
	e.mu.Unlock()
	if pinging {
		<-e.stopped
	}
}

func (e *SSEEmitter) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return e.write(string(data))
}

func (e *SSEEmitter) write(data string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failed != nil {
		return e.failed
	}
	if !e.started {
		if err := e.open(); err != nil {
			e.failed = err
			return err
		}
	}
	if err := writeSSEData(e.w, data); err != nil {
		e.failed = err
		return err
	}
	e.flusher.Flush()
	return nil
}

// open must be called with mu held.
func (e *SSEEmitter) open() error {
	h := e.w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	e.w.WriteHeader(http.StatusOK)

	e.started = true
	if err := writeSSEComment(e.w, "ping"); err != nil {
		return err
	}
	e.flusher.Flush()

	if e.keepalive > 0 {
		e.pinging = true
		go e.keepaliveLoop()
	}
	return nil
}

func (e *SSEEmitter) keepaliveLoop() {
	defer close(e.stopped)
	ticker := time.NewTicker(e.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			if e.failed != nil {
				e.mu.Unlock()
				return
			}
			if err := writeSSEComment(e.w, "keepalive"); err != nil {
				e.failed = err
				e.mu.Unlock()
				e.logger.Debug("Failed to write SSE keepalive", "error", err)
				return
			}
			e.flusher.Flush()
			e.mu.Unlock()
		}
	}
}

func writeSSEData(w io.Writer, data string) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeSSEComment(w io.Writer, comment string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", comment)
	return err
}
