package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/NordCoder/sessiongate/internal/domain/auth"
	"github.com/google/uuid"
)

var _ auth.RefreshTokenRepo = (*RefreshTokenRepo)(nil)

var ErrConflict = errors.New("conflict")

type RefreshTokenRepo struct{ db *DB }

func NewRefreshTokenRepo(db *DB) *RefreshTokenRepo { return &RefreshTokenRepo{db: db} }

func (r *RefreshTokenRepo) Create(ctx context.Context, t *auth.RefreshToken) error {
	return r.db.write(ctx, func(st *state) error {
		if _, ok := st.fingerprints[t.Fingerprint]; ok {
			return fmt.Errorf("create refresh: %w", ErrConflict)
		}
		st.tokenSeq++
		t.ID = st.tokenSeq
		t.Revoked = false
		t.ReplacedBy = nil
		st.tokens[t.ID] = copyToken(*t)
		st.fingerprints[t.Fingerprint] = t.ID
		return nil
	})
}

func (r *RefreshTokenRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*auth.RefreshToken, error) {
	var out *auth.RefreshToken
	err := r.db.read(ctx, func(st *state) error {
		id, ok := st.fingerprints[fingerprint]
		if !ok {
			return auth.ErrRefreshNotFound
		}
		t := copyToken(st.tokens[id])
		out = &t
		return nil
	})
	return out, err
}

func (r *RefreshTokenRepo) RevokeIfActive(ctx context.Context, id int64) (bool, error) {
	var done bool
	err := r.db.write(ctx, func(st *state) error {
		t, ok := st.tokens[id]
		if !ok || t.Revoked {
			return nil
		}
		t.Revoked = true
		st.tokens[id] = t
		done = true
		return nil
	})
	return done, err
}

func (r *RefreshTokenRepo) SetReplacedBy(ctx context.Context, id, successorID int64) error {
	return r.db.write(ctx, func(st *state) error {
		t, ok := st.tokens[id]
		if !ok {
			return auth.ErrRefreshNotFound
		}
		t.ReplacedBy = &successorID
		st.tokens[id] = t
		return nil
	})
}

func (r *RefreshTokenRepo) RevokeSession(ctx context.Context, userID int64, session uuid.UUID) (int64, error) {
	return r.revokeWhere(ctx, func(t auth.RefreshToken) bool {
		return t.UserID == userID && t.Session == session
	})
}

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	return r.revokeWhere(ctx, func(t auth.RefreshToken) bool {
		return t.UserID == userID
	})
}

func (r *RefreshTokenRepo) revokeWhere(ctx context.Context, match func(auth.RefreshToken) bool) (int64, error) {
	var n int64
	err := r.db.write(ctx, func(st *state) error {
		for id, t := range st.tokens {
			if t.Revoked || !match(t) {
				continue
			}
			t.Revoked = true
			st.tokens[id] = t
			n++
		}
		return nil
	})
	return n, err
}

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, errors.New("limit must be > 0")
	}
	var n int64
	err := r.db.write(ctx, func(st *state) error {
		ids := make([]int64, 0)
		for id, t := range st.tokens {
			if t.ExpiresAt.Before(before) {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		if len(ids) > limit {
			ids = ids[:limit]
		}
		for _, id := range ids {
			deleted := st.tokens[id]
			delete(st.fingerprints, deleted.Fingerprint)
			delete(st.tokens, id)
			for otherID, t := range st.tokens {
				if t.ReplacedBy != nil && *t.ReplacedBy == id {
					t.ReplacedBy = nil
					st.tokens[otherID] = t
				}
			}
			n++
		}
		return nil
	})
	return n, err
}
