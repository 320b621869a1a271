package auth

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrRefreshNotFound = errors.New("refresh token not found")
	ErrRefreshRevoked  = errors.New("refresh token revoked")
	ErrRefreshExpired  = errors.New("refresh token expired")

	ErrTokenExpired     = errors.New("access token expired")
	ErrSignatureInvalid = errors.New("access token signature invalid")
	ErrTokenMalformed   = errors.New("access token malformed")

	ErrHashingUnavailable = errors.New("hashing unavailable")

	ErrLoginThrottled = errors.New("too many login attempts")
)

type AccessClaims struct {
	Subject   string // username
	UserID    int64
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RefreshToken is a stored refresh token. Only the fingerprint of the raw
// secret is kept; the secret itself is handed out once.
type RefreshToken struct {
	ID          int64
	Fingerprint string
	Session     uuid.UUID
	UserID      int64
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Revoked     bool
	ReplacedBy  *int64
}

func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}

// TokenError reports a refresh token that exists but can no longer be used.
// It unwraps to ErrRefreshRevoked or ErrRefreshExpired.
type TokenError struct {
	Err   error
	Token *RefreshToken
}

func (e *TokenError) Error() string { return e.Err.Error() }
func (e *TokenError) Unwrap() error { return e.Err }

// Reused reports whether the token was already rotated away. Presenting such
// a token again means someone else holds a copy of it.
func (e *TokenError) Reused() bool {
	return errors.Is(e.Err, ErrRefreshRevoked) && e.Token != nil && e.Token.ReplacedBy != nil
}

type EventKind string

const (
	EventSessionRevoked EventKind = "session_revoked"
	EventUserRevoked    EventKind = "user_revoked"
	EventTokenReuse     EventKind = "token_reuse_detected"
)

type Event struct {
	Kind    EventKind `json:"kind"`
	UserID  int64     `json:"user_id"`
	Session string    `json:"session_id,omitempty"`
	TokenID int64     `json:"token_id,omitempty"`
	Revoked int64     `json:"revoked"`
	At      time.Time `json:"at"`
}
