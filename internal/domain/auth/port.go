package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RefreshTokenRepo is the durable record of issued refresh tokens. Methods
// join the transaction carried by ctx, if any.
type RefreshTokenRepo interface {
	Create(ctx context.Context, t *RefreshToken) error
	// GetByFingerprint returns ErrRefreshNotFound when nothing matches exactly.
	GetByFingerprint(ctx context.Context, fingerprint string) (*RefreshToken, error)
	// RevokeIfActive flips revoked for a single row only if it is still false
	// and reports whether it did.
	RevokeIfActive(ctx context.Context, id int64) (bool, error)
	SetReplacedBy(ctx context.Context, id, successorID int64) error
	RevokeSession(ctx context.Context, userID int64, session uuid.UUID) (int64, error)
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error)
}

type Transactor interface {
	WithTx(ctx context.Context, function func(ctx context.Context) error) error
}

// EventRecorder stores security events. Implementations join the transaction
// carried by ctx so an event is kept only if the state change is.
type EventRecorder interface {
	Record(ctx context.Context, e Event) error
}
