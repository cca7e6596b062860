package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/counselsim/internal/config"
	"github.com/ashureev/counselsim/internal/domain"
)

func testConfig(baseURL string) config.ProviderConfig {
	return config.ProviderConfig{
		BaseURL:         baseURL,
		APIKey:          "test-key",
		Model:           "deepseek-chat",
		Timeout:         2 * time.Second,
		Temperature:     0.7,
		MaxTokens:       512,
		RetryAttempts:   3,
		RetryBaseDelay:  time.Millisecond,
		RetryMultiplier: 2,
	}
}

func completionBody(text string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion","model":"deepseek-chat","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, text)
}

func streamChunk(text string) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","model":"deepseek-chat","choices":[{"index":0,"delta":{"content":%q}}]}`, text)
}

var history = []domain.Message{
	{Role: domain.RoleSystem, Content: "you are a patient"},
	{Role: domain.RoleUser, Content: "你好"},
}

func TestCompleteSendsRequest(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected authorization %q", auth)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody("我最近很累"))
	}))
	defer srv.Close()

	c := NewOpenAIClient(testConfig(srv.URL), nil)
	res, err := c.Complete(context.Background(), history, WithMaxTokens(64))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if res.Text != "我最近很累" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if got["model"] != "deepseek-chat" {
		t.Errorf("unexpected model %v", got["model"])
	}
	if got["max_tokens"] != float64(64) {
		t.Errorf("expected max_tokens override, got %v", got["max_tokens"])
	}
	if msgs, ok := got["messages"].([]any); !ok || len(msgs) != 2 {
		t.Errorf("unexpected messages %v", got["messages"])
	}
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, `{"error":{"message":"upstream","type":"server_error"}}`)
			return
		}
		_, _ = io.WriteString(w, completionBody("ok"))
	}))
	defer srv.Close()

	c := NewOpenAIClient(testConfig(srv.URL), nil)
	res, err := c.Complete(context.Background(), history)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if res.Text != "ok" || calls.Load() != 3 {
		t.Fatalf("expected success on third attempt, got %q after %d calls", res.Text, calls.Load())
	}
}

func TestCompleteGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"down","type":"server_error"}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(testConfig(srv.URL), nil)
	_, err := c.Complete(context.Background(), history)
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"auth_error"}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(testConfig(srv.URL), nil)
	if _, err := c.Complete(context.Background(), history); !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestStreamDeliversFragmentsInOrder(t *testing.T) {
	pieces := []string{"最近", "工作", "很忙"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["stream"] != true {
			t.Errorf("expected stream flag, got %v", req["stream"])
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range pieces {
			fmt.Fprintf(w, "data: %s\n\n", streamChunk(p))
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewOpenAIClient(testConfig(srv.URL), nil)
	var got []string
	full, err := c.Stream(context.Background(), history, func(f string) error {
		got = append(got, f)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if strings.Join(got, "|") != strings.Join(pieces, "|") {
		t.Errorf("unexpected fragments %v", got)
	}
	if full != "最近工作很忙" {
		t.Errorf("unexpected full text %q", full)
	}
}

func TestStreamCallbackErrorAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", streamChunk("a"))
		fmt.Fprintf(w, "data: %s\n\n", streamChunk("b"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	stop := errors.New("client gone")
	calls := 0
	c := NewOpenAIClient(testConfig(srv.URL), nil)
	_, err := c.Stream(context.Background(), history, func(string) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected stream to stop after first fragment, got %d calls", calls)
	}
}

func TestStreamIdleTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", streamChunk("a"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	c := NewOpenAIClient(cfg, nil)

	partial, err := c.Stream(context.Background(), history, nil)
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider on stalled stream, got %v", err)
	}
	if partial != "a" {
		t.Errorf("expected partial text to be returned, got %q", partial)
	}
}

func TestFakeStreamMatchesComplete(t *testing.T) {
	f := NewFake()
	var b strings.Builder
	full, err := f.Stream(context.Background(), nil, func(s string) error {
		b.WriteString(s)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	res, _ := f.Complete(context.Background(), nil)
	if full != FallbackReply || b.String() != FallbackReply || res.Text != FallbackReply {
		t.Fatalf("fake output mismatch: stream=%q fragments=%q complete=%q", full, b.String(), res.Text)
	}
}

func TestNewSelectsFake(t *testing.T) {
	if _, ok := New(config.ProviderConfig{}, nil).(*Fake); !ok {
		t.Error("expected fake client without api key")
	}
	if _, ok := New(config.ProviderConfig{APIKey: "k", Fake: true}, nil).(*Fake); !ok {
		t.Error("expected fake client when forced")
	}
	if _, ok := New(testConfig("http://127.0.0.1:1"), nil).(*OpenAIClient); !ok {
		t.Error("expected real client with api key")
	}
}
