package stream

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// TokenSource supplies the bearer token sent on every dial.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a pre-issued bearer token.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	return string(t), nil
}

// Claims are the stream token claims. The backend reads the subscriber from user_id.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTSource mints short-lived HS256 tokens for a user, one per dial.
type JWTSource struct {
	Secret []byte
	UserID string
	TTL    time.Duration
	Now    func() time.Time
}

func NewJWTSource(secret, userID string, ttl time.Duration) (*JWTSource, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if userID == "" {
		return nil, errors.New("user id is required to mint stream tokens")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &JWTSource{Secret: []byte(secret), UserID: userID, TTL: ttl, Now: time.Now}, nil
}

func (s *JWTSource) Token() (string, error) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}

	// backdate issued-at to tolerate clock drift with the backend
	claims := Claims{
		UserID: s.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign stream token: %w", err)
	}
	return signed, nil
}
