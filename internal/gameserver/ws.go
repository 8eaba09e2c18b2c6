// Package gameserver exposes the game over HTTP: a WebSocket endpoint
// carrying the binary frame protocol, plus JSON endpoints for account
// registration, login, and server status.
package gameserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/akeka/terraweb/internal/auth"
	"github.com/akeka/terraweb/internal/config"
	"github.com/akeka/terraweb/internal/game/session"
	"github.com/akeka/terraweb/internal/protocol"
	"github.com/akeka/terraweb/internal/storage/postgres"
)

// PlayerStore defines the player persistence operations required by the
// connection and auth handlers.
type PlayerStore interface {
	Create(ctx context.Context, name, password string) (postgres.Player, error)
	Authenticate(ctx context.Context, name, password string) (postgres.Player, error)
	GetByID(ctx context.Context, id int64) (postgres.Player, error)
	SavePosition(ctx context.Context, id int64, x, y int32) error
}

// TokenVerifier validates access tokens presented at connect time.
// *auth.Service is the production implementation.
type TokenVerifier interface {
	VerifyToken(tokenString string) (uint32, error)
}

// savePositionTimeout bounds the storage write performed during
// connection teardown, which runs outside any request context.
const savePositionTimeout = 5 * time.Second

// WSHandler upgrades game connections and drives each one through its
// lifecycle: authenticate, load the player, join the registry, relay
// movement frames, and tear down exactly once on any exit path.
type WSHandler struct {
	verifier TokenVerifier
	players  PlayerStore
	registry *session.Registry
	logger   *zap.Logger

	spawnX, spawnY int32
	outboundBuffer int
	writeTimeout   time.Duration
	maxFrameSize   int64

	upgrader websocket.Upgrader
}

// NewWSHandler creates a WSHandler.
//
// Precondition: verifier, players, registry, and logger must be non-nil.
func NewWSHandler(
	verifier TokenVerifier,
	players PlayerStore,
	registry *session.Registry,
	logger *zap.Logger,
	srvCfg config.ServerConfig,
	gameCfg config.GameConfig,
) *WSHandler {
	return &WSHandler{
		verifier:       verifier,
		players:        players,
		registry:       registry,
		logger:         logger,
		spawnX:         gameCfg.SpawnX,
		spawnY:         gameCfg.SpawnY,
		outboundBuffer: gameCfg.OutboundBuffer,
		writeTimeout:   srvCfg.WriteTimeout,
		maxFrameSize:   srvCfg.MaxFrameSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The game client is served from arbitrary origins during
			// development; token auth gates the connection instead.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles one game connection from upgrade to teardown.
//
// Postcondition: By the time this returns, the connection is closed and,
// if the player ever joined, the registry no longer holds its session
// and its departure has been announced exactly once.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connID := uuid.NewString()
	logger := h.logger.With(zap.String("conn_id", connID))

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	// Identify. The token travels as a query parameter because browser
	// WebSocket clients cannot set request headers.
	playerID, err := h.verifier.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		logger.Warn("rejecting connection", zap.Error(err))
		h.closeWith(ws, websocket.ClosePolicyViolation, "invalid token")
		return
	}
	logger = logger.With(zap.Uint32("player_id", playerID))

	player, err := h.players.GetByID(r.Context(), int64(playerID))
	if err != nil {
		logger.Warn("rejecting connection: loading player", zap.Error(err))
		h.closeWith(ws, websocket.ClosePolicyViolation, "unknown player")
		return
	}
	x, y := player.Position(h.spawnX, h.spawnY)

	// Join. The write goroutine must be draining before Join so the
	// init and catalogue frames cannot fill the queue.
	out := session.NewOutbound(playerID, h.outboundBuffer)
	writeDone := make(chan struct{})
	go h.writePump(ws, out, logger, writeDone)

	if _, err := h.registry.Join(playerID, player.Name, x, y, out); err != nil {
		logger.Warn("rejecting connection: joining", zap.Error(err))
		_ = out.Close()
		<-writeDone
		h.closeWith(ws, websocket.ClosePolicyViolation, "already connected")
		return
	}
	logger.Info("player joined",
		zap.String("name", player.Name),
		zap.Int32("x", x),
		zap.Int32("y", y),
		zap.Int("online", h.registry.Count()),
	)

	// Teardown must run exactly once whatever path exits first: read
	// error, write error, or server shutdown closing the queue.
	var cleanup sync.Once
	leave := func() {
		cleanup.Do(func() {
			lastX, lastY := x, y
			if sess, ok := h.registry.Get(playerID); ok {
				lastX, lastY = sess.X, sess.Y
			}
			h.registry.Leave(playerID)
			_ = out.Close()
			_ = ws.Close()

			ctx, cancel := context.WithTimeout(context.Background(), savePositionTimeout)
			defer cancel()
			if err := h.players.SavePosition(ctx, int64(playerID), lastX, lastY); err != nil {
				logger.Error("saving position on disconnect", zap.Error(err))
			}
			logger.Info("player left",
				zap.Int32("x", lastX),
				zap.Int32("y", lastY),
				zap.Int("online", h.registry.Count()),
			)
		})
	}
	defer leave()

	h.readLoop(ws, playerID, logger)
}

// readLoop consumes inbound frames until the connection errors. Only
// the player's own PlayerUpdate frames are acted on; anything else,
// including malformed frames, is logged and dropped so one misbehaving
// client cannot disturb the session.
func (h *WSHandler) readLoop(ws *websocket.Conn, playerID uint32, logger *zap.Logger) {
	ws.SetReadLimit(h.maxFrameSize)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("connection closed abnormally", zap.Error(err))
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			logger.Debug("ignoring non-binary message", zap.Int("type", msgType))
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			logger.Warn("ignoring malformed frame", zap.Error(err))
			continue
		}
		if msg == nil {
			continue
		}

		update, ok := msg.(protocol.PlayerUpdate)
		if !ok {
			logger.Debug("ignoring unexpected inbound frame",
				zap.String("kind", msg.Kind().String()),
			)
			continue
		}
		if update.PlayerID != playerID {
			logger.Warn("ignoring update for foreign identity",
				zap.Uint32("claimed_id", update.PlayerID),
			)
			continue
		}

		if err := h.registry.UpdatePosition(playerID, update.X, update.Y); err != nil {
			// The session is gone; teardown is already in progress.
			return
		}
		// Relay the frame exactly as received. Re-encoding could only
		// differ on a codec bug, and byte-identical relay makes the
		// client's view independent of server internals.
		h.registry.Broadcast(data, playerID)
	}
}

// writePump drains the outbound queue onto the socket. It owns all
// writes to ws after the handshake; gorilla/websocket permits only one
// concurrent writer.
func (h *WSHandler) writePump(ws *websocket.Conn, out *session.Outbound, logger *zap.Logger, done chan<- struct{}) {
	defer close(done)
	for frame := range out.Frames() {
		if h.writeTimeout > 0 {
			_ = ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		}
		if err := ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			logger.Debug("write failed, closing connection", zap.Error(err))
			_ = ws.Close()
			return
		}
	}
}

// closeWith sends a close frame with the given code and closes the
// socket. Errors are ignored: the peer may already be gone.
func (h *WSHandler) closeWith(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = ws.Close()
}

var _ TokenVerifier = (*auth.Service)(nil)
