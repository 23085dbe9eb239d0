package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap/zapcore"
)

// Session is the identity context every backend call is made under.
type Session struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	Namespace string `json:"namespace"`
}

// Identity selects which user the backend issues a token for.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// DefaultIdentity is the backend's built-in demo user.
var DefaultIdentity = Identity{
	UserID:   "demo-user",
	Username: "Demo User",
	Email:    "demo@eventflow.io",
}

// ExpiresAt reads the exp claim when the token is a JWT. Opaque tokens never expire locally.
// The signature is not checked; the backend remains the authority on validity.
func (s *Session) ExpiresAt() (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.Token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// MarshalLogObject is a part of zapcore.ObjectMarshaler interface. The token is never logged.
func (s Session) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("userId", s.UserID)
	enc.AddString("username", s.Username)
	enc.AddString("namespace", s.Namespace)
	return nil
}
