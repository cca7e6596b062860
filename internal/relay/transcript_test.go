package relay

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/counselsim/internal/domain"
	"github.com/ashureev/counselsim/internal/prompt"
	"github.com/ashureev/counselsim/internal/provider"
	"github.com/ashureev/counselsim/internal/store"
)

func TestFileTranscriptRecordsExchange(t *testing.T) {
	dir := t.TempDir()
	tr, err := NewFileTranscript(dir, 8, nil)
	if err != nil {
		t.Fatalf("NewFileTranscript failed: %v", err)
	}

	sessions := store.NewMemory()
	s := sessions.Create(domain.SessionSeed{})
	r := New(sessions, prompt.NewAssembler(nil), provider.NewFake(), WithTranscript(tr))

	if _, err := r.HandleExchange(context.Background(), Request{SessionID: s.ID, Message: "你好"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, s.ID+".ndjson"))
	if err != nil {
		t.Fatalf("transcript not written: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}

	var user, assistant TranscriptEvent
	_ = json.Unmarshal([]byte(lines[0]), &user)
	_ = json.Unmarshal([]byte(lines[1]), &assistant)
	if user.Role != domain.RoleUser || user.Content != "你好" {
		t.Errorf("unexpected user event %+v", user)
	}
	if assistant.Role != domain.RoleAssistant || assistant.Source != SourceProvider {
		t.Errorf("unexpected assistant event %+v", assistant)
	}
}

func TestFileTranscriptDropsEventsAfterClose(t *testing.T) {
	dir := t.TempDir()
	tr, err := NewFileTranscript(dir, 8, nil)
	if err != nil {
		t.Fatalf("NewFileTranscript failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	tr.Log(TranscriptEvent{SessionID: "late", Role: domain.RoleUser, Content: "still here?"})
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "late.ndjson")); !os.IsNotExist(err) {
		t.Errorf("expected no transcript for late event, got %v", err)
	}
}
