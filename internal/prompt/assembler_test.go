package prompt

import (
	"testing"

	"github.com/ashureev/counselsim/internal/domain"
)

func TestAssembleOrder(t *testing.T) {
	s := &domain.Session{
		SeekerPrompt: "persona",
		Chain:        domain.Chain{{Stage: 1, Content: "stage one"}, {Stage: 2, Content: "stage two"}},
		ChainIndex:   1,
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "q1"},
			{Role: domain.RoleAssistant, Content: "a1"},
		},
	}

	res := NewAssembler(nil).Assemble(s, "q2")

	want := []domain.Message{
		{Role: domain.RoleSystem, Content: "persona"},
		{Role: domain.RoleUser, Content: "q1"},
		{Role: domain.RoleAssistant, Content: "a1"},
		{Role: domain.RoleSystem, Content: StatusLine(NeutralEmotion, "stage two")},
		{Role: domain.RoleUser, Content: "q2"},
	}
	if len(res.Messages) != len(want) {
		t.Fatalf("expected %d messages, got %d: %v", len(want), len(res.Messages), res.Messages)
	}
	for i := range want {
		if res.Messages[i] != want[i] {
			t.Errorf("message %d: expected %+v, got %+v", i, want[i], res.Messages[i])
		}
	}
	if res.Emotion != NeutralEmotion || res.Complaint != "stage two" {
		t.Errorf("unexpected metadata %q / %q", res.Emotion, res.Complaint)
	}
	if len(s.Messages) != 2 {
		t.Errorf("session history mutated: %v", s.Messages)
	}
}

func TestAssembleWithoutPromptOrChain(t *testing.T) {
	res := NewAssembler(nil).Assemble(&domain.Session{}, "hi")
	if len(res.Messages) != 2 {
		t.Fatalf("expected status line and user turn only, got %v", res.Messages)
	}
	if res.Messages[0].Role != domain.RoleSystem {
		t.Errorf("expected status system turn first, got %+v", res.Messages[0])
	}
	if res.Complaint != domain.UnknownComplaint {
		t.Errorf("expected unknown complaint, got %q", res.Complaint)
	}
}

func TestKeywordClassifier(t *testing.T) {
	k := NewKeyword()
	cases := map[string]string{
		"你最近压力大吗？":   AnxiousEmotion,
		"听起来你很难过":    SadEmotion,
		"你为什么这么生气": AngryEmotion,
		"今天天气不错":     NeutralEmotion,
	}
	for text, want := range cases {
		if got := k.Classify(text); got != want {
			t.Errorf("Classify(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestClassifierByName(t *testing.T) {
	if _, ok := ClassifierByName("keyword").(*Keyword); !ok {
		t.Error("expected keyword classifier")
	}
	if got := ClassifierByName("").Classify("生气"); got != NeutralEmotion {
		t.Errorf("expected static neutral, got %q", got)
	}
}
