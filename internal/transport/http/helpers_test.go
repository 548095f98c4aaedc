package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/studyroom-server/internal/auth"
	"github.com/vovakirdan/studyroom-server/internal/config"
	"github.com/vovakirdan/studyroom-server/internal/core"
	"github.com/vovakirdan/studyroom-server/internal/metrics"
	"github.com/vovakirdan/studyroom-server/internal/presence"
	"github.com/vovakirdan/studyroom-server/internal/proto"
	"github.com/vovakirdan/studyroom-server/internal/store/sqlite"
)

const barrierRoom = "barrier-room"

// testEnv is a running server backed by an in-memory SQLite store.
type testEnv struct {
	ts      *httptest.Server
	store   *sqlite.SQLiteStore
	gateway *core.Gateway
	jwt     *auth.JWTConfig
	cfg     config.Config
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	cfg.JWTIssuer = "test"
	cfg.HandshakeTimeout = 300 * time.Millisecond
	cfg.RateLimitPerMinute = 0
	if mutate != nil {
		mutate(&cfg)
	}

	jwtCfg := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	}
	authService := auth.NewService(st, jwtCfg)

	logger := zerolog.Nop()
	m := metrics.New()
	tracker := presence.NewTracker()
	m.RegisterPresence(func() (int, int) {
		s := tracker.Stats()
		return s.Rooms, s.Pairs
	})
	gw := core.NewGateway(st, st, tracker, &logger, m, core.Options{CleanupTimeout: time.Second})

	server := NewServer(gw, authService, st, m, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: st, gateway: gw, jwt: jwtCfg, cfg: cfg}
}

// user creates a user and returns its id and an access token.
func (e *testEnv) user(t *testing.T, nickname string) (string, string) {
	t.Helper()
	u, err := e.store.CreateUser(context.Background(), nickname, "")
	if err != nil {
		t.Fatalf("create user %s: %v", nickname, err)
	}
	token, err := auth.GenerateToken(e.jwt, u.ID, nickname)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return u.ID, token
}

func (e *testEnv) room(t *testing.T, name string) string {
	t.Helper()
	r, err := e.store.CreateRoom(context.Background(), name)
	if err != nil {
		t.Fatalf("create room %s: %v", name, err)
	}
	return r.ID
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
}

// dial connects with the token in the query string.
func (e *testEnv) dial(ctx context.Context, t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, e.wsURL()+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

// waitCount polls the tracker until (room, user) has want connections.
func (e *testEnv) waitCount(t *testing.T, room, user string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.gateway.Presence().Count(room, user) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("presence count for %s/%s never reached %d (now %d)", room, user, want, e.gateway.Presence().Count(room, user))
}

// frame is an outbound message with its payload left raw.
type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func send(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

func join(ctx context.Context, t *testing.T, conn *websocket.Conn, room string) {
	t.Helper()
	send(ctx, t, conn, proto.InboundTypeJoin, proto.RoomData{RoomID: room})
}

func read(ctx context.Context, t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	var f frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

// expectEvent reads the next frame and requires it to be the named event.
func expectEvent(ctx context.Context, t *testing.T, conn *websocket.Conn, event string, into any) {
	t.Helper()
	f := read(ctx, t, conn)
	if f.Type != proto.OutboundTypeEvent || f.Event != event {
		t.Fatalf("expected event %s, got %+v (data %s)", event, f, f.Data)
	}
	if into != nil {
		if err := json.Unmarshal(f.Data, into); err != nil {
			t.Fatalf("decode %s: %v", event, err)
		}
	}
}

func expectError(ctx context.Context, t *testing.T, conn *websocket.Conn, code string) {
	t.Helper()
	f := read(ctx, t, conn)
	if f.Type != proto.OutboundTypeError || f.Error == nil || f.Error.Code != code {
		t.Fatalf("expected error %s, got %+v (data %s)", code, f, f.Data)
	}
}

// barrier proves that nothing is queued for conn: a leave of a room it never
// joined is answered in order, so any earlier event would be read first.
func barrier(ctx context.Context, t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(ctx, t, conn, proto.InboundTypeLeave, proto.RoomData{RoomID: barrierRoom})
	expectError(ctx, t, conn, core.ErrCodeNotInRoom)
}

func expectDecode(t *testing.T, f frame, into any) {
	t.Helper()
	if err := json.Unmarshal(f.Data, into); err != nil {
		t.Fatalf("decode %s: %v", f.Event, err)
	}
}
