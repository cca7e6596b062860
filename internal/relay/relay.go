// Package relay runs one chat exchange: it records the counselor turn, asks
// the provider for the seeker's reply, forwards streamed fragments to the
// client and commits exactly one assistant turn.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/counselsim/internal/domain"
	"github.com/ashureev/counselsim/internal/prompt"
	"github.com/ashureev/counselsim/internal/provider"
	"github.com/ashureev/counselsim/internal/store"
)

// ErrAborted means the client went away mid-exchange. Nothing was committed.
var ErrAborted = errors.New("client disconnected")

// Reply source labels recorded in transcripts.
const (
	SourceProvider       = "provider"
	SourceStream         = "stream"
	SourceCompleteRescue = "complete_fallback"
	SourceStaticFallback = "static_fallback"
)

// Request is one counselor message.
type Request struct {
	SessionID string
	Message   string
	Stream    bool
}

// Reply describes the committed assistant turn.
type Reply struct {
	Response       string    `json:"response"`
	Emotion        string    `json:"emotion"`
	Complaint      string    `json:"complaint"`
	SessionID      string    `json:"session_id"`
	Timestamp      time.Time `json:"timestamp"`
	MessageCount   int       `json:"message_count"`
	ComplaintStage int       `json:"complaint_stage"`
	Source         string    `json:"-"`
}

// Relay coordinates the session store, prompt assembler and provider.
type Relay struct {
	sessions   store.Repository
	assembler  *prompt.Assembler
	client     provider.Client
	transcript Transcript
	logger     *slog.Logger
	now        func() time.Time
}

// Option customizes a Relay.
type Option func(*Relay)

// WithTranscript records every exchange to t.
func WithTranscript(t Transcript) Option {
	return func(r *Relay) {
		if t != nil {
			r.transcript = t
		}
	}
}

// WithLogger sets the relay's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a relay.
func New(sessions store.Repository, assembler *prompt.Assembler, client provider.Client, opts ...Option) *Relay {
	r := &Relay{
		sessions:   sessions,
		assembler:  assembler,
		client:     client,
		transcript: noopTranscript{},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleExchange validates the request, records the user turn and resolves
// the assistant reply. Streaming requests must pass an emitter; they always
// terminate with Done and always commit a reply unless the client aborts.
// Non-streaming requests surface provider failures without committing.
func (r *Relay) HandleExchange(ctx context.Context, req Request, em Emitter) (*Reply, error) {
	s, err := r.sessions.Get(req.SessionID)
	if err != nil {
		return nil, err
	}
	if !s.IsActive() {
		return nil, fmt.Errorf("session %s: %w", req.SessionID, domain.ErrSessionClosed)
	}
	if req.Message == "" {
		return nil, fmt.Errorf("message is required: %w", domain.ErrInvalidRequest)
	}
	if req.Stream && em == nil {
		return nil, fmt.Errorf("streaming exchange without emitter: %w", domain.ErrInvalidRequest)
	}

	snap, err := r.sessions.RecordUserTurn(req.SessionID, req.Message)
	if err != nil {
		return nil, err
	}
	assembled := r.assembler.Assemble(snap, req.Message)

	r.logger.Info("Chat exchange",
		"session_id", req.SessionID,
		"message_length", len(req.Message),
		"stream", req.Stream,
		"emotion", assembled.Emotion,
	)
	r.transcript.Log(TranscriptEvent{
		Timestamp: r.now().UTC(),
		SessionID: req.SessionID,
		Role:      domain.RoleUser,
		Content:   req.Message,
	})

	var (
		text   string
		source string
	)
	if req.Stream {
		text, source, err = r.resolveStream(ctx, req.SessionID, assembled, em)
	} else {
		text, source, err = r.resolveOnce(ctx, assembled)
	}
	if err != nil {
		return nil, err
	}

	commit, err := r.sessions.CommitAssistantTurn(req.SessionID, text)
	if err != nil {
		return nil, fmt.Errorf("commit assistant turn: %w", err)
	}
	r.transcript.Log(TranscriptEvent{
		Timestamp: r.now().UTC(),
		SessionID: req.SessionID,
		Role:      domain.RoleAssistant,
		Content:   text,
		Source:    source,
	})

	if req.Stream {
		if err := em.Done(); err != nil {
			r.logger.Debug("Failed to write stream terminator", "session_id", req.SessionID, "error", err)
		}
	}

	return &Reply{
		Response:       text,
		Emotion:        assembled.Emotion,
		Complaint:      assembled.Complaint,
		SessionID:      req.SessionID,
		Timestamp:      r.now().UTC(),
		MessageCount:   commit.MessageCount,
		ComplaintStage: commit.ChainIndex,
		Source:         source,
	}, nil
}

func (r *Relay) resolveOnce(ctx context.Context, assembled prompt.Result) (string, string, error) {
	res, err := r.client.Complete(ctx, assembled.Messages)
	if err != nil {
		r.logger.Error("Provider completion failed", "error", err)
		return "", "", err
	}
	if res.Text == "" {
		return provider.FallbackReply, SourceStaticFallback, nil
	}
	return res.Text, SourceProvider, nil
}

// resolveStream drives the fallback chain: streamed text, then a single-shot
// completion, then the fixed reply.
func (r *Relay) resolveStream(ctx context.Context, sessionID string, assembled prompt.Result, em Emitter) (string, string, error) {
	if err := em.Meta(Meta{Emotion: assembled.Emotion, Complaint: assembled.Complaint}); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrAborted, err)
	}

	var (
		acc     strings.Builder
		emitErr error
	)
	_, streamErr := r.client.Stream(ctx, assembled.Messages, func(fragment string) error {
		acc.WriteString(fragment)
		if err := em.Delta(fragment); err != nil {
			emitErr = err
			return err
		}
		return nil
	})
	if emitErr != nil {
		return "", "", fmt.Errorf("%w: %w", ErrAborted, emitErr)
	}
	if ctx.Err() != nil {
		return "", "", fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
	}

	if streamErr == nil && acc.Len() > 0 {
		return acc.String(), SourceStream, nil
	}

	text, source := provider.FallbackReply, SourceStaticFallback
	if streamErr != nil {
		r.logger.Warn("Provider stream failed, falling back to completion",
			"session_id", sessionID,
			"partial_length", acc.Len(),
			"error", streamErr,
		)
		res, err := r.client.Complete(ctx, assembled.Messages)
		switch {
		case ctx.Err() != nil:
			return "", "", fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		case err != nil:
			r.logger.Warn("Fallback completion failed, using fixed reply", "session_id", sessionID, "error", err)
		case res.Text != "":
			text, source = res.Text, SourceCompleteRescue
		}
	} else {
		r.logger.Warn("Provider stream was empty, using fixed reply", "session_id", sessionID)
	}

	if err := em.Delta(text); err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrAborted, err)
	}
	return text, source, nil
}
