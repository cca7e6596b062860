// Package store holds the in-memory registry of conversation sessions.
package store

import (
	"github.com/ashureev/counselsim/internal/domain"
)

// Repository defines the operations on session state.
type Repository interface {
	// Create allocates a new active session from the seed. Absent seed fields
	// become empty values; it never fails on a malformed seed.
	Create(seed domain.SessionSeed) *domain.Session

	// Get returns a snapshot of the session or domain.ErrNotFound.
	Get(id string) (*domain.Session, error)

	// List returns a projection of every session in no particular order.
	List() []domain.SessionSummary

	// End marks the session ended. It returns false without error when the
	// session had already ended, and ErrNotFound for unknown ids.
	End(id string) (bool, error)

	// RecordUserTurn appends the counselor message and advances the chain cursor.
	// The returned snapshot is taken before either change.
	RecordUserTurn(id, text string) (*domain.Session, error)

	// CommitAssistantTurn appends the seeker reply and bumps the message count.
	CommitAssistantTurn(id, text string) (Commit, error)
}

// Commit reports session counters after an assistant turn is stored.
type Commit struct {
	MessageCount int
	ChainIndex   int
}
