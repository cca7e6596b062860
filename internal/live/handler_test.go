package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/counselsim/internal/config"
	"github.com/ashureev/counselsim/internal/domain"
	"github.com/ashureev/counselsim/internal/middleware"
	"github.com/ashureev/counselsim/internal/prompt"
	"github.com/ashureev/counselsim/internal/provider"
	"github.com/ashureev/counselsim/internal/relay"
	"github.com/ashureev/counselsim/internal/store"
)

type liveEnv struct {
	srv      *httptest.Server
	sessions *store.Memory
	hub      *Hub
}

func newLiveEnv(t *testing.T) *liveEnv {
	return newLimitedLiveEnv(t, nil)
}

func newLimitedLiveEnv(t *testing.T, limiter *middleware.RateLimiter) *liveEnv {
	t.Helper()
	sessions := store.NewMemory()
	rl := relay.New(sessions, prompt.NewAssembler(nil), provider.NewFake())
	hub := NewHub(nil)
	cfg := &config.Config{SSE: config.SSEConfig{MaxRequestBodySize: 4096}}

	r := chi.NewRouter()
	h := NewHandler(sessions, rl, hub, cfg, nil)
	if limiter != nil {
		h.SetRateLimiter(limiter)
	}
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &liveEnv{srv: srv, sessions: sessions, hub: hub}
}

func (e *liveEnv) dial(t *testing.T, ctx context.Context, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/sessions/" + sessionID + "/chat"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

type frame struct {
	Meta   *relay.Meta `json:"meta"`
	Delta  *string     `json:"delta"`
	Done   bool        `json:"done"`
	Error  string      `json:"error"`
	Status int         `json:"status"`
	Type   string      `json:"type"`
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func recv(t *testing.T, ctx context.Context, conn *websocket.Conn) frame {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("bad frame %s: %v", data, err)
	}
	return f
}

func TestLiveChat_StreamsOneExchange(t *testing.T) {
	env := newLiveEnv(t)
	s := env.sessions.Create(domain.SessionSeed{Chain: domain.Chain{{Stage: 1, Content: "工作压力"}}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := env.dial(t, ctx, s.ID)

	send(t, ctx, conn, map[string]string{"message": "最近怎么样？"})

	first := recv(t, ctx, conn)
	if first.Meta == nil || first.Meta.Complaint != "工作压力" {
		t.Fatalf("Expected meta frame first, got %+v", first)
	}
	var text strings.Builder
	for {
		f := recv(t, ctx, conn)
		if f.Done {
			break
		}
		if f.Delta == nil {
			t.Fatalf("Unexpected frame %+v", f)
		}
		text.WriteString(*f.Delta)
	}
	if text.String() != provider.FallbackReply {
		t.Errorf("Expected fake reply, got %q", text.String())
	}

	got, _ := env.sessions.Get(s.ID)
	if got.MessageCount != 1 || len(got.Messages) != 2 {
		t.Errorf("Expected one committed exchange, got count=%d messages=%d", got.MessageCount, len(got.Messages))
	}
}

func TestLiveChat_PingAndErrors(t *testing.T) {
	env := newLiveEnv(t)
	s := env.sessions.Create(domain.SessionSeed{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := env.dial(t, ctx, s.ID)

	send(t, ctx, conn, map[string]string{"type": "ping"})
	if f := recv(t, ctx, conn); f.Type != "pong" {
		t.Fatalf("Expected pong, got %+v", f)
	}

	send(t, ctx, conn, map[string]string{"message": ""})
	if f := recv(t, ctx, conn); f.Status != http.StatusBadRequest || f.Error == "" {
		t.Errorf("Expected 400 error frame, got %+v", f)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte("{oops")); err != nil {
		t.Fatal(err)
	}
	if f := recv(t, ctx, conn); f.Status != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed frame, got %+v", f)
	}

	env.sessions.End(s.ID)
	send(t, ctx, conn, map[string]string{"message": "还在吗"})
	if f := recv(t, ctx, conn); f.Status != http.StatusBadRequest {
		t.Errorf("Expected 400 for ended session, got %+v", f)
	}

	got, _ := env.sessions.Get(s.ID)
	if len(got.Messages) != 0 {
		t.Errorf("Rejected frames mutated the session: %v", got.Messages)
	}
}

func TestLiveChat_RejectsUnknownSession(t *testing.T) {
	env := newLiveEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/sessions/missing/chat"
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("Expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404 response, got %v", resp)
	}
}

func TestLiveChat_ClosedWhenSessionEnds(t *testing.T) {
	env := newLiveEnv(t)
	s := env.sessions.Create(domain.SessionSeed{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := env.dial(t, ctx, s.ID)

	// A round trip guarantees the server has registered the socket.
	send(t, ctx, conn, map[string]string{"type": "ping"})
	recv(t, ctx, conn)
	if env.hub.Count(s.ID) != 1 {
		t.Fatalf("Expected 1 registered socket, got %d", env.hub.Count(s.ID))
	}

	env.sessions.End(s.ID)
	go env.hub.CloseSession(s.ID)

	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Fatalf("Expected going-away close, got %v", err)
	}
}

func TestLiveChat_RateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(1, time.Minute)
	defer limiter.Stop()
	env := newLimitedLiveEnv(t, limiter)
	s := env.sessions.Create(domain.SessionSeed{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := env.dial(t, ctx, s.ID)

	send(t, ctx, conn, map[string]string{"message": "第一句"})
	for f := recv(t, ctx, conn); !f.Done; f = recv(t, ctx, conn) {
		if f.Error != "" {
			t.Fatalf("First message rejected: %+v", f)
		}
	}

	send(t, ctx, conn, map[string]string{"message": "第二句"})
	if f := recv(t, ctx, conn); f.Status != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 error frame, got %+v", f)
	}

	// Pings are not chat exchanges and stay unlimited.
	send(t, ctx, conn, map[string]string{"type": "ping"})
	if f := recv(t, ctx, conn); f.Type != "pong" {
		t.Errorf("Expected pong, got %+v", f)
	}

	got, _ := env.sessions.Get(s.ID)
	if got.MessageCount != 1 || len(got.Messages) != 2 {
		t.Errorf("Expected only the first exchange recorded, got count=%d messages=%d", got.MessageCount, len(got.Messages))
	}
}
