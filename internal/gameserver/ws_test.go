package gameserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/akeka/terraweb/internal/auth"
	"github.com/akeka/terraweb/internal/config"
	"github.com/akeka/terraweb/internal/game/session"
	"github.com/akeka/terraweb/internal/protocol"
	"github.com/akeka/terraweb/internal/storage/postgres"
)

const readWait = 2 * time.Second

// mockPlayerStore implements PlayerStore in memory.
type mockPlayerStore struct {
	mu      sync.Mutex
	players map[int64]postgres.Player
	saved   map[int64][2]int32
}

func newMockPlayerStore() *mockPlayerStore {
	return &mockPlayerStore{
		players: make(map[int64]postgres.Player),
		saved:   make(map[int64][2]int32),
	}
}

func (m *mockPlayerStore) seed(id int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[id] = postgres.Player{ID: id, Name: name}
}

func (m *mockPlayerStore) seedAt(id int64, name string, x, y int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[id] = postgres.Player{ID: id, Name: name, X: &x, Y: &y}
}

func (m *mockPlayerStore) savedPosition(id int64) ([2]int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.saved[id]
	return pos, ok
}

func (m *mockPlayerStore) Create(_ context.Context, name, password string) (postgres.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.players {
		if p.Name == name {
			return postgres.Player{}, postgres.ErrPlayerExists
		}
	}
	hash, err := postgres.HashPassword(password)
	if err != nil {
		return postgres.Player{}, err
	}
	p := postgres.Player{ID: int64(len(m.players) + 1), Name: name, PasswordHash: hash, CreatedAt: time.Now()}
	m.players[p.ID] = p
	return p, nil
}

func (m *mockPlayerStore) Authenticate(_ context.Context, name, password string) (postgres.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.players {
		if p.Name == name {
			if !postgres.CheckPassword(password, p.PasswordHash) {
				return postgres.Player{}, postgres.ErrInvalidCredentials
			}
			return p, nil
		}
	}
	return postgres.Player{}, postgres.ErrPlayerNotFound
}

func (m *mockPlayerStore) GetByID(_ context.Context, id int64) (postgres.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return postgres.Player{}, postgres.ErrPlayerNotFound
	}
	return p, nil
}

func (m *mockPlayerStore) SavePosition(_ context.Context, id int64, x, y int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.players[id]; !ok {
		return postgres.ErrPlayerNotFound
	}
	m.saved[id] = [2]int32{x, y}
	return nil
}

type wsFixture struct {
	srv      *httptest.Server
	store    *mockPlayerStore
	tokens   *auth.Service
	registry *session.Registry
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := newMockPlayerStore()
	tokens := auth.NewService(config.AuthConfig{Secret: "test-secret", TokenTTL: time.Hour})
	registry := session.NewRegistry(logger)

	handler := NewWSHandler(tokens, store, registry, logger,
		config.ServerConfig{WriteTimeout: time.Second, MaxFrameSize: 1 << 16},
		config.GameConfig{SpawnX: 0, SpawnY: 0, OutboundBuffer: 64},
	)

	mux := http.NewServeMux()
	mux.Handle("/game/ws", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &wsFixture{srv: srv, store: store, tokens: tokens, registry: registry}
}

func (f *wsFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/game/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect seeds a player, issues a token, dials, and consumes the
// PlayerInit frame.
func (f *wsFixture) connect(t *testing.T, id uint32, name string) *websocket.Conn {
	t.Helper()
	f.store.seed(int64(id), name)
	token, err := f.tokens.IssueToken(id)
	require.NoError(t, err)

	conn := f.dial(t, token)
	init := readMessage(t, conn)
	require.IsType(t, protocol.PlayerInit{}, init)
	require.Equal(t, id, init.(protocol.PlayerInit).PlayerID)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, msgType)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	return msg
}

func readRaw(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return data
}

// position reads a player's authoritative position through Snapshot,
// the registry's lock-safe read path.
func position(r *session.Registry, id uint32) (int32, int32, bool) {
	for _, info := range r.Snapshot() {
		if info.PlayerID == id {
			return info.X, info.Y, true
		}
	}
	return 0, 0, false
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, code), "expected close code %d, got %v", code, err)
}

func TestWS_InvalidTokenRejected(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "garbage")
	expectClose(t, conn, websocket.ClosePolicyViolation)
	assert.Equal(t, 0, f.registry.Count())
}

func TestWS_MissingTokenRejected(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "")
	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func TestWS_UnknownPlayerRejected(t *testing.T) {
	f := newWSFixture(t)
	token, err := f.tokens.IssueToken(77)
	require.NoError(t, err)

	conn := f.dial(t, token)
	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func TestWS_FirstPlayerGetsInitAtSpawn(t *testing.T) {
	f := newWSFixture(t)
	f.store.seed(1, "alice")
	token, err := f.tokens.IssueToken(1)
	require.NoError(t, err)

	conn := f.dial(t, token)
	msg := readMessage(t, conn)

	init, ok := msg.(protocol.PlayerInit)
	require.True(t, ok, "first frame should be PlayerInit, got %T", msg)
	assert.Equal(t, uint32(1), init.PlayerID)
	assert.Equal(t, "alice", init.Name)
	assert.Equal(t, int32(0), init.X)
	assert.Equal(t, int32(0), init.Y)
}

func TestWS_SavedPositionRestored(t *testing.T) {
	f := newWSFixture(t)
	f.store.seedAt(1, "alice", 512, -384)
	token, err := f.tokens.IssueToken(1)
	require.NoError(t, err)

	conn := f.dial(t, token)
	init := readMessage(t, conn).(protocol.PlayerInit)
	assert.Equal(t, int32(512), init.X)
	assert.Equal(t, int32(-384), init.Y)
}

func TestWS_JoinSequence(t *testing.T) {
	f := newWSFixture(t)

	connA := f.connect(t, 1, "alice")
	connB := f.connect(t, 2, "bob")

	// The newcomer receives a catalogue entry for the existing player.
	catalogue := readMessage(t, connB)
	join, ok := catalogue.(protocol.PlayerJoin)
	require.True(t, ok, "expected PlayerJoin, got %T", catalogue)
	assert.Equal(t, uint32(1), join.PlayerID)
	assert.Equal(t, "alice", join.Name)

	// The existing player is told about the newcomer.
	announce := readMessage(t, connA)
	join, ok = announce.(protocol.PlayerJoin)
	require.True(t, ok, "expected PlayerJoin, got %T", announce)
	assert.Equal(t, uint32(2), join.PlayerID)
	assert.Equal(t, "bob", join.Name)

	assert.Equal(t, 2, f.registry.Count())
}

func TestWS_UpdateRelayedVerbatim(t *testing.T) {
	f := newWSFixture(t)

	connA := f.connect(t, 1, "alice")
	connB := f.connect(t, 2, "bob")
	readMessage(t, connB) // catalogue: alice
	readMessage(t, connA) // announcement: bob

	frame, err := protocol.Encode(protocol.PlayerUpdate{PlayerID: 1, Name: "alice", X: 100, Y: -200})
	require.NoError(t, err)
	require.NoError(t, connA.WriteMessage(websocket.BinaryMessage, frame))

	relayed := readRaw(t, connB)
	assert.Equal(t, frame, relayed, "relayed frame must be byte-identical")

	// The registry's authoritative position tracks the update.
	require.Eventually(t, func() bool {
		x, y, ok := position(f.registry, 1)
		return ok && x == 100 && y == -200
	}, readWait, 10*time.Millisecond)
}

func TestWS_ForeignIdentityUpdateIgnored(t *testing.T) {
	f := newWSFixture(t)

	connA := f.connect(t, 1, "alice")
	connB := f.connect(t, 2, "bob")
	readMessage(t, connB)
	readMessage(t, connA)

	// alice claims bob's identity; the frame must be dropped.
	forged, err := protocol.Encode(protocol.PlayerUpdate{PlayerID: 2, Name: "bob", X: 9, Y: 9})
	require.NoError(t, err)
	require.NoError(t, connA.WriteMessage(websocket.BinaryMessage, forged))

	// A legitimate update afterwards still flows.
	legit, err := protocol.Encode(protocol.PlayerUpdate{PlayerID: 1, Name: "alice", X: 1, Y: 2})
	require.NoError(t, err)
	require.NoError(t, connA.WriteMessage(websocket.BinaryMessage, legit))

	assert.Equal(t, legit, readRaw(t, connB))
	x, y, ok := position(f.registry, 2)
	require.True(t, ok)
	assert.Equal(t, int32(0), x)
	assert.Equal(t, int32(0), y)
}

func TestWS_MalformedAndForeignFramesTolerated(t *testing.T) {
	f := newWSFixture(t)

	connA := f.connect(t, 1, "alice")
	connB := f.connect(t, 2, "bob")
	readMessage(t, connB)
	readMessage(t, connA)

	// Unknown tag, truncated frame, and a kind clients must not send.
	require.NoError(t, connA.WriteMessage(websocket.BinaryMessage, []byte{0xFF, 1, 2, 3}))
	require.NoError(t, connA.WriteMessage(websocket.BinaryMessage, []byte{byte(protocol.KindPlayerUpdate), 0, 0}))
	leave, err := protocol.Encode(protocol.PlayerLeave{PlayerID: 2})
	require.NoError(t, err)
	require.NoError(t, connA.WriteMessage(websocket.BinaryMessage, leave))

	// The connection survives and a valid update still relays.
	update, err := protocol.Encode(protocol.PlayerUpdate{PlayerID: 1, Name: "alice", X: 3, Y: 4})
	require.NoError(t, err)
	require.NoError(t, connA.WriteMessage(websocket.BinaryMessage, update))
	assert.Equal(t, update, readRaw(t, connB))

	assert.Equal(t, 2, f.registry.Count())
}

func TestWS_LeaveBroadcastAndPositionSaved(t *testing.T) {
	f := newWSFixture(t)

	connA := f.connect(t, 1, "alice")
	connB := f.connect(t, 2, "bob")
	readMessage(t, connB)
	readMessage(t, connA)

	frame, err := protocol.Encode(protocol.PlayerUpdate{PlayerID: 1, Name: "alice", X: 42, Y: -7})
	require.NoError(t, err)
	require.NoError(t, connA.WriteMessage(websocket.BinaryMessage, frame))
	readRaw(t, connB) // relay

	require.NoError(t, connA.Close())

	msg := readMessage(t, connB)
	leave, ok := msg.(protocol.PlayerLeave)
	require.True(t, ok, "expected PlayerLeave, got %T", msg)
	assert.Equal(t, uint32(1), leave.PlayerID)

	require.Eventually(t, func() bool {
		pos, ok := f.store.savedPosition(1)
		return ok && pos == [2]int32{42, -7}
	}, readWait, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.registry.Count() == 1
	}, readWait, 10*time.Millisecond)
}

func TestWS_DuplicateConnectionRejected(t *testing.T) {
	f := newWSFixture(t)

	connA := f.connect(t, 1, "alice")
	token, err := f.tokens.IssueToken(1)
	require.NoError(t, err)

	dup := f.dial(t, token)
	expectClose(t, dup, websocket.ClosePolicyViolation)

	// The original session is untouched.
	assert.Equal(t, 1, f.registry.Count())
	connB := f.connect(t, 2, "bob")
	readMessage(t, connB) // catalogue: alice
	msg := readMessage(t, connA)
	require.IsType(t, protocol.PlayerJoin{}, msg)
}
