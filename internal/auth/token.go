// Package auth issues and verifies the access tokens that gate game
// connections. Tokens are HS256 JWTs carrying the player's numeric
// identity; clients obtain one from the login endpoint and present it
// as a query parameter when opening the game connection.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akeka/terraweb/internal/config"
)

// ErrInvalidToken is returned when a token fails verification for any
// reason: bad signature, malformed, expired, or missing claims. The
// caller treats all of these the same way (reject the connection), so
// the distinction is only logged.
var ErrInvalidToken = errors.New("invalid access token")

// Service issues and verifies access tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
}

// NewService creates a token Service from the given configuration.
//
// Precondition: cfg.Secret must be non-empty; cfg.TokenTTL must be positive.
func NewService(cfg config.AuthConfig) *Service {
	return &Service{
		secret: []byte(cfg.Secret),
		ttl:    cfg.TokenTTL,
	}
}

// IssueToken creates a signed access token for the given player identity.
//
// Postcondition: Returns a compact JWT string valid for the configured TTL.
func (s *Service) IssueToken(playerID uint32) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": playerID,
		"iat":     now.Unix(),
		"exp":     now.Add(s.ttl).Unix(),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a token string and extracts the player identity.
//
// Postcondition: Returns the player id the token was issued for, or an
// error wrapping ErrInvalidToken.
func (s *Service) VerifyToken(tokenString string) (uint32, error) {
	token, err := jwt.Parse(tokenString,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}

	// Numeric JSON claims decode as float64.
	raw, ok := claims["user_id"].(float64)
	if !ok || raw < 0 || raw != float64(uint32(raw)) {
		return 0, fmt.Errorf("%w: missing or malformed user_id claim", ErrInvalidToken)
	}
	return uint32(raw), nil
}
