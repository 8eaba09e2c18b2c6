package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/akeka/terraweb/internal/game/session"
	"github.com/akeka/terraweb/internal/storage/postgres"
)

// TokenIssuer creates access tokens after a successful login.
// *auth.Service is the production implementation.
type TokenIssuer interface {
	IssueToken(playerID uint32) (string, error)
}

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context, timeout time.Duration) error
}

// AuthHandler serves the JSON registration and login endpoints.
type AuthHandler struct {
	players PlayerStore
	issuer  TokenIssuer
	logger  *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
//
// Precondition: players, issuer, and logger must be non-nil.
func NewAuthHandler(players PlayerStore, issuer TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{players: players, issuer: issuer, logger: logger}
}

type credentialsRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type registerResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Register handles POST /auth/register.
//
// Postcondition: On success, responds 201 with the created player's id
// and name. Responds 400 on invalid input, 409 on a taken name.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decodeCredentials(w, r, &req) {
		return
	}

	player, err := h.players.Create(r.Context(), req.Name, req.Password)
	switch {
	case errors.Is(err, postgres.ErrNameInvalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, postgres.ErrPlayerExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "name already taken"})
		return
	case err != nil:
		h.logger.Error("registering player", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	h.logger.Info("player registered",
		zap.Int64("player_id", player.ID),
		zap.String("name", player.Name),
	)
	writeJSON(w, http.StatusCreated, registerResponse{ID: player.ID, Name: player.Name})
}

// Login handles POST /auth/login.
//
// Postcondition: On success, responds 200 with an access token for the
// game connection. Responds 401 on unknown name or wrong password,
// without distinguishing the two.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !h.decodeCredentials(w, r, &req) {
		return
	}

	player, err := h.players.Authenticate(r.Context(), req.Name, req.Password)
	switch {
	case errors.Is(err, postgres.ErrPlayerNotFound), errors.Is(err, postgres.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
		return
	case err != nil:
		h.logger.Error("authenticating player", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	token, err := h.issuer.IssueToken(uint32(player.ID))
	if err != nil {
		h.logger.Error("issuing token", zap.Int64("player_id", player.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	h.logger.Info("player logged in", zap.Int64("player_id", player.ID))
	writeJSON(w, http.StatusOK, loginResponse{AccessToken: token})
}

func (h *AuthHandler) decodeCredentials(w http.ResponseWriter, r *http.Request, req *credentialsRequest) bool {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return false
	}
	if req.Name == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name and password are required"})
		return false
	}
	return true
}

// StatusHandler serves GET /status with a database health check and the
// current online player count.
type StatusHandler struct {
	db       HealthChecker
	registry *session.Registry
}

// NewStatusHandler creates a StatusHandler.
//
// Precondition: db and registry must be non-nil.
func NewStatusHandler(db HealthChecker, registry *session.Registry) *StatusHandler {
	return &StatusHandler{db: db, registry: registry}
}

type statusResponse struct {
	Status string `json:"status"`
	Online int    `json:"online"`
}

// ServeHTTP handles GET /status.
//
// Postcondition: Responds 200 with {"status":"ok"} while the database
// is reachable, 503 otherwise.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	online := h.registry.Count()
	if err := h.db.Health(r.Context(), 2*time.Second); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "degraded", Online: online})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Online: online})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
