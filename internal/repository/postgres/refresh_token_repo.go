package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/sessiongate/internal/domain/auth"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ auth.RefreshTokenRepo = (*RefreshTokenRepo)(nil)

type RefreshTokenRepo struct{ db *DB }

func NewRefreshTokenRepo(db *DB) *RefreshTokenRepo { return &RefreshTokenRepo{db: db} }

const (
	qRTCreate = `
INSERT INTO refresh_tokens (fingerprint, session_id, user_id, issued_at, expires_at, revoked)
VALUES ($1, $2, $3, $4, $5, FALSE)
RETURNING id;`

	qRTByFingerprint = `
SELECT id, fingerprint, session_id, user_id, issued_at, expires_at, revoked, replaced_by
FROM refresh_tokens
WHERE fingerprint = $1;`

	qRTRevokeIfActive = `
UPDATE refresh_tokens SET revoked = TRUE
WHERE id = $1 AND revoked = FALSE;`

	qRTSetReplacedBy = `
UPDATE refresh_tokens SET replaced_by = $2
WHERE id = $1;`

	qRTRevokeSession = `
UPDATE refresh_tokens SET revoked = TRUE
WHERE user_id = $1 AND session_id = $2 AND revoked = FALSE;`

	qRTRevokeUser = `
UPDATE refresh_tokens SET revoked = TRUE
WHERE user_id = $1 AND revoked = FALSE;`

	qRTDeleteExpired = `
DELETE FROM refresh_tokens
WHERE id IN (
    SELECT id FROM refresh_tokens
    WHERE expires_at < $1
    ORDER BY id
    LIMIT $2
);`
)

func (r *RefreshTokenRepo) Create(ctx context.Context, t *auth.RefreshToken) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	err := r.db.execQueryer(ctx).
		QueryRow(ctx, qRTCreate, t.Fingerprint, t.Session, t.UserID, t.IssuedAt, t.ExpiresAt).
		Scan(&t.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create refresh: %w", ErrConflict)
		}
		return fmt.Errorf("create refresh: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*auth.RefreshToken, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var (
		t       auth.RefreshToken
		session uuid.UUID
	)
	err := r.db.execQueryer(ctx).QueryRow(ctx, qRTByFingerprint, fingerprint).
		Scan(&t.ID, &t.Fingerprint, &session, &t.UserID, &t.IssuedAt, &t.ExpiresAt, &t.Revoked, &t.ReplacedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrRefreshNotFound
		}
		return nil, fmt.Errorf("find refresh: %w", err)
	}
	t.Session = session
	return &t, nil
}

func (r *RefreshTokenRepo) RevokeIfActive(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qRTRevokeIfActive, id)
	if err != nil {
		return false, fmt.Errorf("revoke refresh: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RefreshTokenRepo) SetReplacedBy(ctx context.Context, id, successorID int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qRTSetReplacedBy, id, successorID)
	if err != nil {
		return fmt.Errorf("set replaced_by: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrRefreshNotFound
	}
	return nil
}

func (r *RefreshTokenRepo) RevokeSession(ctx context.Context, userID int64, session uuid.UUID) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qRTRevokeSession, userID, session)
	if err != nil {
		return 0, fmt.Errorf("revoke session: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qRTRevokeUser, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, errors.New("limit must be > 0")
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qRTDeleteExpired, before, limit)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh: %w", err)
	}
	return tag.RowsAffected(), nil
}
