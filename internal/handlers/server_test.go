package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/jason-s-yu/checkers/internal/auth"
	"github.com/jason-s-yu/checkers/internal/config"
	"github.com/jason-s-yu/checkers/internal/database"
	"github.com/jason-s-yu/checkers/internal/game"
	"github.com/jason-s-yu/checkers/internal/protocol"
	"github.com/jason-s-yu/checkers/internal/ratelimit"
	"github.com/jason-s-yu/checkers/internal/room"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv   *GameServer
	http  *httptest.Server
	repo  *database.Memory
	clock *clockwork.FakeClock
}

func newTestEnv(t *testing.T, tweak ...func(*config.Gateway)) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	issuer, err := auth.NewIssuer(0, clock)
	require.NoError(t, err)

	gw := config.Gateway{
		MessageSizeLimit:     8192,
		MaxMessagesPerMinute: 100,
		WriteTimeout:         5 * time.Second,
		PingInterval:         30 * time.Second,
		SendBuffer:           32,
		AllowedOrigins:       []string{"*"},
	}
	for _, f := range tweak {
		f(&gw)
	}

	repo := database.NewMemory()
	rooms := room.NewRegistry(room.WithLogger(logger))
	srv := &GameServer{
		Store:   game.NewStore(repo, game.WithClock(clock), game.WithLogger(logger), game.WithCommitListener(rooms.PublishState)),
		Rooms:   rooms,
		Limiter: ratelimit.PerMinute(clock, gw.MaxMessagesPerMinute),
		Issuer:  issuer,
		Users:   repo,
		Chat:    repo,

		Gateway:        gw,
		ChatMaxLength:  20,
		PasswordParams: auth.PasswordParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},

		Clock:  clock,
		Logger: logger,
	}
	hs := httptest.NewServer(srv.Routes())
	t.Cleanup(hs.Close)
	return &testEnv{srv: srv, http: hs, repo: repo, clock: clock}
}

func (e *testEnv) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := e.srv.Issuer.Issue(userID)
	require.NoError(t, err)
	return token
}

// do sends a JSON request as userID (uuid.Nil sends no credentials) and decodes
// the response into out when out is non-nil.
func (e *testEnv) do(t *testing.T, method, path string, userID uuid.UUID, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.http.URL+path, &buf)
	require.NoError(t, err)
	if userID != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type wireEvent struct {
	Type protocol.MessageType `json:"type"`
	Data json.RawMessage      `json:"data"`
}

type wsClient struct {
	t *testing.T
	c *websocket.Conn
}

func (e *testEnv) dial(t *testing.T) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: []string{"checkers"}})
	require.NoError(t, err)
	c.SetReadLimit(1 << 20)
	t.Cleanup(func() { c.CloseNow() })
	return &wsClient{t: t, c: c}
}

func (w *wsClient) send(v any) {
	w.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(w.t, err)
	w.sendRaw(data)
}

func (w *wsClient) sendRaw(data []byte) {
	w.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(w.t, w.c.Write(ctx, websocket.MessageText, data))
}

func (w *wsClient) read() wireEvent {
	w.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := w.c.Read(ctx)
	require.NoError(w.t, err)
	var ev wireEvent
	require.NoError(w.t, json.Unmarshal(data, &ev))
	return ev
}

// expect reads until an event of type typ arrives, skipping presence chatter,
// and decodes its data into out.
func (w *wsClient) expect(typ protocol.MessageType, out any) {
	w.t.Helper()
	for range 20 {
		ev := w.read()
		if ev.Type == protocol.TypeUserStatus && typ != protocol.TypeUserStatus {
			continue
		}
		require.Equal(w.t, typ, ev.Type, "unexpected event %s: %s", ev.Type, ev.Data)
		if out != nil {
			require.NoError(w.t, json.Unmarshal(ev.Data, out))
		}
		return
	}
	w.t.Fatalf("no %s received", typ)
}

// login authenticates the socket as userID and consumes the handshake events.
func (w *wsClient) login(token string) []protocol.OnlineUser {
	w.t.Helper()
	w.send(map[string]any{"type": "AUTH", "data": map[string]string{"token": token}})
	w.expect(protocol.TypeAuthSuccess, nil)
	var lobby struct {
		Users []protocol.OnlineUser `json:"users"`
	}
	w.expect(protocol.TypeLobbyUpdate, &lobby)
	return lobby.Users
}

type errorData struct {
	Reason string `json:"reason"`
	Kind   string `json:"kind"`
}
