package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/counselsim/internal/domain"
	"github.com/google/uuid"
)

// entry guards one session. The map lock is never held while an entry lock is
// taken for longer than a lookup.
type entry struct {
	mu      sync.Mutex
	session *domain.Session
}

// Memory implements Repository with a process-lifetime map.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	now      func() time.Time
}

// NewMemory creates an empty session store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

var _ Repository = (*Memory)(nil)

// Create allocates a new active session.
func (m *Memory) Create(seed domain.SessionSeed) *domain.Session {
	report := seed.Report
	if report == nil {
		report = map[string]any{}
	}
	s := &domain.Session{
		ID:                    uuid.NewString(),
		CreatedAt:             m.now(),
		Status:                domain.StatusActive,
		Portrait:              seed.Portrait,
		Report:                report,
		PreviousConversations: append([]any{}, seed.PreviousConversations...),
		SeekerPrompt:          seed.SeekerPrompt,
		Chain:                 append(domain.Chain{}, seed.Chain...),
		Conversation:          []domain.Utterance{},
		Messages:              []domain.Message{},
	}

	m.mu.Lock()
	m.sessions[s.ID] = &entry{session: s}
	m.mu.Unlock()

	return s.Clone()
}

func (m *Memory) lookup(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

// Get returns a snapshot of the session.
func (m *Memory) Get(id string) (*domain.Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone(), nil
}

// List returns a projection of every session.
func (m *Memory) List() []domain.SessionSummary {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]domain.SessionSummary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, domain.SessionSummary{
			ID:           e.session.ID,
			CreatedAt:    e.session.CreatedAt,
			MessageCount: e.session.MessageCount,
			Status:       e.session.Status,
			Portrait:     e.session.Portrait,
		})
		e.mu.Unlock()
	}
	return out
}

// End marks the session ended and keeps the first end time.
func (m *Memory) End(id string) (bool, error) {
	e, err := m.lookup(id)
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status == domain.StatusEnded {
		return false, nil
	}
	now := m.now()
	e.session.Status = domain.StatusEnded
	e.session.EndedAt = &now
	return true, nil
}

// RecordUserTurn snapshots the session, appends the counselor message and then
// advances the chain cursor by at most one stage.
func (m *Memory) RecordUserTurn(id, text string) (*domain.Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	if !s.IsActive() {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrSessionClosed)
	}

	// The snapshot excludes the new turn: the assembler places it after the
	// status line, so history must not contain it twice.
	snapshot := s.Clone()
	s.Conversation = append(s.Conversation, domain.Utterance{Role: domain.SpeakerCounselor, Content: text})
	s.Messages = append(s.Messages, domain.Message{Role: domain.RoleUser, Content: text})
	s.ChainIndex = s.Chain.Next(s.ChainIndex)

	return snapshot, nil
}

// CommitAssistantTurn stores the resolved seeker reply. It does not check the
// session status: an exchange that passed its preconditions always commits.
func (m *Memory) CommitAssistantTurn(id, text string) (Commit, error) {
	e, err := m.lookup(id)
	if err != nil {
		return Commit{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.session
	s.Conversation = append(s.Conversation, domain.Utterance{Role: domain.SpeakerSeeker, Content: text})
	s.Messages = append(s.Messages, domain.Message{Role: domain.RoleAssistant, Content: text})
	s.MessageCount++

	return Commit{MessageCount: s.MessageCount, ChainIndex: s.ChainIndex}, nil
}
