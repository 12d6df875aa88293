package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/Stage/internal/domain"
)

// SessionCookieName is the cookie that carries the signed token a
// client presents to propose its previous identity on reconnect.
const SessionCookieName = "stage_session"

var ErrSessionMismatch = errors.New("token session does not match channel session")

type sessionClaims struct {
	Session  string `json:"session"`
	ClientID string `json:"clientId"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies session cookie tokens against a
// per-channel secret. An invalid token is treated as absent by the
// caller, never as a fatal handshake error.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenCodec(secret string, ttl time.Duration) *TokenCodec {
	return &TokenCodec{secret: []byte(secret), ttl: ttl}
}

func (c *TokenCodec) Sign(session string, clientID domain.ClientID) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Session:  session,
		ClientID: string(clientID),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Verify checks the signature and that the token belongs to the
// channel's current session. It returns the proposed client id.
func (c *TokenCodec) Verify(tokenString, wantSession string) (domain.ClientID, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	if claims.Session != wantSession {
		return "", ErrSessionMismatch
	}
	return domain.ClientID(claims.ClientID), nil
}
