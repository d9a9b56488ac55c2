package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrSessionExpired means the stored session token's exp claim has passed.
// Submissions fail fast on this instead of starting uploads that the backend
// would reject at commit time.
var ErrSessionExpired = errors.New("session token expired")

// TokenSource holds the session JWT and yields the Authorization header for
// backend calls. The token is issued and signed by the backend; the client
// only inspects the expiry claim, it cannot verify the signature.
type TokenSource struct {
	token string
}

// NewTokenSource wraps a session token.
func NewTokenSource(token string) *TokenSource {
	return &TokenSource{token: token}
}

// Authorization returns the Bearer header value after checking that the
// session has not expired.
func (s *TokenSource) Authorization() (string, error) {
	if s.token == "" {
		return "", errors.New("no session token configured")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(s.token, claims); err != nil {
		return "", fmt.Errorf("failed to parse session token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err == nil && exp != nil && time.Now().After(exp.Time) {
		return "", ErrSessionExpired
	}

	return "Bearer " + s.token, nil
}
