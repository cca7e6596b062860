// Package prompt turns session state into the provider request.
package prompt

import (
	"fmt"

	"github.com/ashureev/counselsim/internal/domain"
)

// Result is the outbound message list plus the metadata shown to the trainee.
type Result struct {
	Messages  []domain.Message
	Emotion   string
	Complaint string
}

// Assembler builds provider messages. It never mutates the session.
type Assembler struct {
	classifier Classifier
}

// NewAssembler creates an assembler. A nil classifier reports NeutralEmotion.
func NewAssembler(classifier Classifier) *Assembler {
	if classifier == nil {
		classifier = Static(NeutralEmotion)
	}
	return &Assembler{classifier: classifier}
}

// Assemble returns [seeker prompt] + history + [status line] + [user text].
// The status line exists only in the outbound request.
func (a *Assembler) Assemble(s *domain.Session, userText string) Result {
	emotion := a.classifier.Classify(userText)
	complaint := s.CurrentComplaint()

	msgs := make([]domain.Message, 0, len(s.Messages)+3)
	if s.SeekerPrompt != "" {
		msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: s.SeekerPrompt})
	}
	msgs = append(msgs, s.Messages...)
	msgs = append(msgs,
		domain.Message{Role: domain.RoleSystem, Content: StatusLine(emotion, complaint)},
		domain.Message{Role: domain.RoleUser, Content: userText},
	)

	return Result{Messages: msgs, Emotion: emotion, Complaint: complaint}
}

// StatusLine renders the per-request system hint.
func StatusLine(emotion, complaint string) string {
	return fmt.Sprintf("当前的情绪状态是：%s，当前的主诉是：%s", emotion, complaint)
}
