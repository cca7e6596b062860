package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a session. It only moves active -> ended.
type SessionStatus string

const (
	StatusActive SessionStatus = "active"
	StatusEnded  SessionStatus = "ended"
)

// Speaker labels a transcript entry.
type Speaker string

const (
	SpeakerCounselor Speaker = "Counselor"
	SpeakerSeeker    Speaker = "Seeker"
)

// Provider-facing roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Portrait is the normalized patient profile. The misspelled marital status key
// matches the dataset format.
type Portrait struct {
	Age           string `json:"age"`
	Gender        string `json:"gender"`
	Occupation    string `json:"occupation"`
	MaritalStatus string `json:"martial_status"`
	Symptoms      string `json:"symptoms"`
}

// Utterance is one line of the human-readable transcript.
type Utterance struct {
	Role    Speaker `json:"role"`
	Content string  `json:"content"`
}

// Message is one provider-facing turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionSeed carries everything a new session is initialized from.
type SessionSeed struct {
	Portrait              Portrait
	Report                map[string]any
	PreviousConversations []any
	SeekerPrompt          string
	Chain                 Chain
}

// Session is one simulated counseling conversation.
type Session struct {
	ID                    string
	CreatedAt             time.Time
	EndedAt               *time.Time
	Status                SessionStatus
	Portrait              Portrait
	Report                map[string]any
	PreviousConversations []any
	SeekerPrompt          string
	Chain                 Chain
	ChainIndex            int
	Conversation          []Utterance
	Messages              []Message
	MessageCount          int
}

// IsActive reports whether the session still accepts exchanges.
func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}

// CurrentComplaint returns the complaint text at the chain cursor.
func (s *Session) CurrentComplaint() string {
	return s.Chain.At(s.ChainIndex)
}

// Clone returns a deep copy of the session's slices so callers can read it
// without holding the store's lock.
func (s *Session) Clone() *Session {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	c.Chain = append(Chain(nil), s.Chain...)
	c.Conversation = append([]Utterance(nil), s.Conversation...)
	c.Messages = append([]Message(nil), s.Messages...)
	c.PreviousConversations = append([]any(nil), s.PreviousConversations...)
	if s.Report != nil {
		c.Report = make(map[string]any, len(s.Report))
		for k, v := range s.Report {
			c.Report[k] = v
		}
	}
	return &c
}

// SessionSummary is the list projection of a session.
type SessionSummary struct {
	ID           string        `json:"session_id"`
	CreatedAt    time.Time     `json:"created_at"`
	MessageCount int           `json:"message_count"`
	Status       SessionStatus `json:"status"`
	Portrait     Portrait      `json:"profile"`
}
