package gameserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/akeka/terraweb/internal/config"
)

// shutdownTimeout bounds graceful HTTP shutdown during Stop.
const shutdownTimeout = 10 * time.Second

// Server is the HTTP server hosting the game WebSocket endpoint and the
// JSON API. It implements the lifecycle Service interface.
type Server struct {
	httpSrv *http.Server
	logger  *zap.Logger
}

// NewServer wires the handlers into a Server listening on the
// configured address.
//
// Routes: GET /game/ws (WebSocket), POST /auth/register,
// POST /auth/login, GET /status.
//
// Precondition: ws, authH, and statusH must be non-nil.
func NewServer(cfg config.ServerConfig, ws *WSHandler, authH *AuthHandler, statusH *StatusHandler, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/game/ws", ws)
	mux.HandleFunc("/auth/register", authH.Register)
	mux.HandleFunc("/auth/login", authH.Login)
	mux.Handle("/status", statusH)

	return &Server{
		httpSrv: &http.Server{
			Addr:    cfg.Addr(),
			Handler: mux,
		},
		logger: logger,
	}
}

// Handler returns the root handler, for tests that want to mount it on
// an httptest server.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins serving and blocks until the server stops.
//
// Postcondition: Returns nil on graceful shutdown, or the listen error.
func (s *Server) Start() error {
	s.logger.Info("game server listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down, waiting for in-flight requests
// up to shutdownTimeout.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown incomplete", zap.Error(err))
		_ = s.httpSrv.Close()
	}
}
