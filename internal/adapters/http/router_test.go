package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaincast/session/internal/adapters/signal"
	"github.com/chaincast/session/internal/adapters/ws"
	"github.com/chaincast/session/internal/app/orch"
	"github.com/chaincast/session/internal/auth"
	"github.com/chaincast/session/internal/config"
	"github.com/chaincast/session/internal/core/coretest"
	"github.com/chaincast/session/internal/domain"
	"github.com/chaincast/session/internal/hub"
)

const (
	wait = 3 * time.Second
	tick = 10 * time.Millisecond
)

type testServer struct {
	srv *httptest.Server
	hub *hub.Hub
	iss *auth.Issuer
	cfg *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Mode = "test"
	cfg.Server.DevTokens = true

	iss, err := auth.NewIssuer(cfg.Server.JWTSecret, time.Hour)
	require.NoError(t, err)
	h := hub.New(hub.NewMemoryPresence(), cfg.Server.MaxParticipants)
	ctl := signal.NewController(h, cfg.Server)

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(SetupRouter(ctx, cfg, h, ctl, iss))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return &testServer{srv: srv, hub: h, iss: iss, cfg: cfg}
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/ws"
}

func (s *testServer) token(t *testing.T, id, name string) string {
	t.Helper()
	tok, _, err := s.iss.Issue(domain.User{ID: domain.UserID(id), Username: name})
	require.NoError(t, err)
	return tok
}

func TestIssueTokenKeepsUserAcrossCalls(t *testing.T) {
	s := newTestServer(t)
	body := `{"name":"alice"}`

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.srv.Config.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var first TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, "alice", first.User.Username)
	u, err := s.iss.Verify(first.Token)
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, u.ID)

	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/api/token", strings.NewReader(body))
	req2.Header.Set("Content-Type", "application/json")
	for _, c := range w.Result().Cookies() {
		req2.AddCookie(c)
	}
	s.srv.Config.Handler.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)
	var second TokenResponse
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &second))
	assert.Equal(t, first.User.ID, second.User.ID)
}

func TestIssueTokenRejectsEmptyName(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/token", bytes.NewBufferString(`{"name":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	s.srv.Config.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebsocketRequiresToken(t *testing.T) {
	s := newTestServer(t)
	for _, target := range []string{"/api/ws", "/api/ws?token=garbage"} {
		w := httptest.NewRecorder()
		s.srv.Config.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code, target)
	}
}

func TestDialWithBadTokenIsRejected(t *testing.T) {
	s := newTestServer(t)
	_, err := ws.NewDialer(s.wsURL(), 0).Dial(context.Background(), "garbage")
	assert.ErrorIs(t, err, domain.ErrConnectionRejected)
}

func TestEndUnknownRoom(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rooms/nope/end", nil)
	req.Header.Set("Authorization", "Bearer "+s.token(t, "u1", "one"))
	s.srv.Config.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type client struct {
	o     *orch.Orchestrator
	rec   *coretest.Recorder
	peers *coretest.PeerFactory
}

func (s *testServer) client(t *testing.T, id string) *client {
	t.Helper()
	c := &client{rec: &coretest.Recorder{}, peers: &coretest.PeerFactory{}}
	cfg := s.cfg.Client
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.AckTimeout = 2 * time.Second
	cfg.PingPeriod = 0
	c.o = orch.New(cfg, orch.Deps{
		Dialer:   ws.NewDialer(s.wsURL(), 0),
		Peers:    c.peers,
		Capturer: &coretest.Capturer{},
		Notifier: c.rec,
	})
	t.Cleanup(c.o.Dispose)
	require.NoError(t, c.o.Connect(context.Background(), s.token(t, id, id)))
	return c
}

func TestTwoClientsMeetInRoom(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	alice := s.client(t, "alice")
	require.NoError(t, alice.o.JoinRoom(ctx, "demo", domain.RoleMember))
	require.Eventually(t, func() bool { return len(alice.rec.Lifecycle()) == 1 }, wait, tick)
	assert.Equal(t, domain.RoomStarted, alice.rec.Lifecycle()[0].Kind)

	bob := s.client(t, "bob")
	require.NoError(t, bob.o.JoinRoom(ctx, "demo", domain.RoleMember))

	snap, ok := bob.o.Rooms.Snapshot()
	require.True(t, ok)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, domain.UserID("alice"), snap.Participants[0].ID)
	assert.Equal(t, 2, snap.Count)

	require.Eventually(t, func() bool { return len(alice.rec.Added()) == 1 }, wait, tick)
	assert.Equal(t, domain.UserID("bob"), alice.rec.Added()[0].ID)

	// bob offers to alice through the server, alice answers back
	require.Eventually(t, func() bool {
		p := alice.peers.Last("bob")
		return p != nil && len(p.Remote()) == 1
	}, wait, tick)
	require.Eventually(t, func() bool {
		p := bob.peers.Last("alice")
		return p != nil && len(p.Remote()) == 1
	}, wait, tick)

	require.NoError(t, bob.o.SendMessage(ctx, "hello"))
	require.Eventually(t, func() bool { return len(alice.rec.Messages()) == 1 }, wait, tick)
	m := alice.rec.Messages()[0]
	assert.Equal(t, "hello", m.Content)
	assert.Equal(t, domain.UserID("bob"), m.From)
	require.Eventually(t, func() bool { return len(bob.rec.Messages()) == 1 }, wait, tick)

	require.NoError(t, alice.o.LeaveRoom(ctx, "demo"))
	require.Eventually(t, func() bool { return len(bob.rec.Removed()) == 1 }, wait, tick)
	assert.True(t, bob.peers.Last("alice").Closed())
}

func TestEndRoomReachesClients(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	alice := s.client(t, "alice")
	bob := s.client(t, "bob")
	require.NoError(t, alice.o.JoinRoom(ctx, "demo", domain.RoleMember))
	require.NoError(t, bob.o.JoinRoom(ctx, "demo", domain.RoleMember))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/rooms/demo/end", strings.NewReader(`{"reason":"wrap up"}`))
	req.Header.Set("Authorization", "Bearer "+s.token(t, "admin", "admin"))
	req.Header.Set("Content-Type", "application/json")
	s.srv.Config.Handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	for _, c := range []*client{alice, bob} {
		require.Eventually(t, func() bool {
			id, _ := c.o.Rooms.Current()
			return id == ""
		}, wait, tick)
		assert.Equal(t, []domain.RoomID{"demo"}, c.rec.Left())
	}
	assert.Empty(t, s.hub.List())
}
