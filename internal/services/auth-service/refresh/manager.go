// Package refresh owns the refresh token lifecycle: issuing, validating,
// rotating, revoking and sweeping stored tokens.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/sessiongate/internal/auth"
	domainauth "github.com/NordCoder/sessiongate/internal/domain/auth"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Hasher interface {
	Fingerprint(secret string) string
}

type Config struct {
	RefreshTTL time.Duration
	SweepBatch int
	Now        func() time.Time
}

type Manager struct {
	repo   domainauth.RefreshTokenRepo
	tx     domainauth.Transactor
	hasher Hasher
	events domainauth.EventRecorder
	log    *zap.Logger
	cfg    Config
	tracer trace.Tracer
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, domainauth.Event) error { return nil }

func NewManager(
	repo domainauth.RefreshTokenRepo,
	tx domainauth.Transactor,
	hasher Hasher,
	events domainauth.EventRecorder,
	log *zap.Logger,
	cfg Config,
) (*Manager, error) {
	if cfg.RefreshTTL <= 0 {
		return nil, errors.New("refresh ttl must be positive")
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 1000
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if events == nil {
		events = nopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		repo:   repo,
		tx:     tx,
		hasher: hasher,
		events: events,
		log:    log,
		cfg:    cfg,
		tracer: otel.Tracer("refresh.manager"),
	}, nil
}

// Create issues a new refresh token for userID in session. The raw secret is
// returned once and never stored.
func (m *Manager) Create(ctx context.Context, userID int64, session uuid.UUID) (*domainauth.RefreshToken, string, error) {
	ctx, span := m.tracer.Start(ctx, "refresh.create", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	t, raw, err := m.create(ctx, userID, session)
	if err != nil {
		span.RecordError(err)
		return nil, "", err
	}
	return t, raw, nil
}

func (m *Manager) create(ctx context.Context, userID int64, session uuid.UUID) (*domainauth.RefreshToken, string, error) {
	raw, err := auth.GenerateRawToken(auth.RawTokenBytes)
	if err != nil {
		return nil, "", fmt.Errorf("generate refresh: %w", err)
	}
	now := m.cfg.Now()
	t := &domainauth.RefreshToken{
		Fingerprint: m.hasher.Fingerprint(raw),
		Session:     session,
		UserID:      userID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(m.cfg.RefreshTTL),
	}
	if err := m.repo.Create(ctx, t); err != nil {
		return nil, "", fmt.Errorf("save refresh: %w", err)
	}
	mIssued.Inc()
	return t, raw, nil
}

// Validate looks the token up by fingerprint. A revoked token is reported as
// revoked even when it has also expired.
func (m *Manager) Validate(ctx context.Context, raw string) (*domainauth.RefreshToken, error) {
	ctx, span := m.tracer.Start(ctx, "refresh.validate")
	defer span.End()

	t, err := m.validate(ctx, raw)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return t, nil
}

func (m *Manager) validate(ctx context.Context, raw string) (*domainauth.RefreshToken, error) {
	if raw == "" {
		mInvalid.WithLabelValues(Reason(domainauth.ErrRefreshNotFound)).Inc()
		return nil, domainauth.ErrRefreshNotFound
	}
	t, err := m.repo.GetByFingerprint(ctx, m.hasher.Fingerprint(raw))
	if err != nil {
		mInvalid.WithLabelValues(Reason(err)).Inc()
		return nil, err
	}
	switch {
	case t.Revoked:
		err = &domainauth.TokenError{Err: domainauth.ErrRefreshRevoked, Token: t}
	case !m.cfg.Now().Before(t.ExpiresAt):
		err = &domainauth.TokenError{Err: domainauth.ErrRefreshExpired, Token: t}
	default:
		return t, nil
	}
	mInvalid.WithLabelValues(Reason(err)).Inc()
	return nil, err
}

// Rotate exchanges an active token for a successor in the same session. The
// presented token and every other active token of the session are revoked in
// the same transaction. Of two concurrent rotations of one token exactly one
// wins; the other gets ErrRefreshRevoked.
func (m *Manager) Rotate(ctx context.Context, raw string) (*domainauth.RefreshToken, string, error) {
	ctx, span := m.tracer.Start(ctx, "refresh.rotate")
	defer span.End()

	var (
		next    *domainauth.RefreshToken
		nextRaw string
	)
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		cur, err := m.validate(ctx, raw)
		if err != nil {
			return err
		}
		ok, err := m.repo.RevokeIfActive(ctx, cur.ID)
		if err != nil {
			return fmt.Errorf("revoke presented: %w", err)
		}
		if !ok {
			mInvalid.WithLabelValues(Reason(domainauth.ErrRefreshRevoked)).Inc()
			cur.Revoked = true
			return &domainauth.TokenError{Err: domainauth.ErrRefreshRevoked, Token: cur}
		}
		siblings, err := m.repo.RevokeSession(ctx, cur.UserID, cur.Session)
		if err != nil {
			return fmt.Errorf("revoke session: %w", err)
		}
		next, nextRaw, err = m.create(ctx, cur.UserID, cur.Session)
		if err != nil {
			return err
		}
		if err := m.repo.SetReplacedBy(ctx, cur.ID, next.ID); err != nil {
			return fmt.Errorf("link successor: %w", err)
		}
		span.SetAttributes(
			attribute.Int64("user.id", cur.UserID),
			attribute.Int64("siblings.revoked", siblings),
		)
		mRevoked.WithLabelValues("token").Inc()
		if siblings > 0 {
			mRevoked.WithLabelValues("session").Add(float64(siblings))
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, "", err
	}
	mRotated.Inc()
	return next, nextRaw, nil
}

// Revoke revokes the single token behind raw.
func (m *Manager) Revoke(ctx context.Context, raw string) error {
	ctx, span := m.tracer.Start(ctx, "refresh.revoke")
	defer span.End()

	t, err := m.validate(ctx, raw)
	if err != nil {
		span.RecordError(err)
		return err
	}
	ok, err := m.repo.RevokeIfActive(ctx, t.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("revoke: %w", err)
	}
	if !ok {
		t.Revoked = true
		return &domainauth.TokenError{Err: domainauth.ErrRefreshRevoked, Token: t}
	}
	mRevoked.WithLabelValues("token").Inc()
	return nil
}

// RevokeSession revokes every active token of one session and returns how
// many it revoked.
func (m *Manager) RevokeSession(ctx context.Context, userID int64, session uuid.UUID) (int64, error) {
	ctx, span := m.tracer.Start(ctx, "refresh.revoke_session", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	var n int64
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = m.repo.RevokeSession(ctx, userID, session)
		if err != nil {
			return fmt.Errorf("revoke session: %w", err)
		}
		if n == 0 {
			return nil
		}
		return m.events.Record(ctx, domainauth.Event{
			Kind:    domainauth.EventSessionRevoked,
			UserID:  userID,
			Session: session.String(),
			Revoked: n,
			At:      m.cfg.Now(),
		})
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	mRevoked.WithLabelValues("session").Add(float64(n))
	return n, nil
}

// RevokeAllForUser revokes every active token of userID across sessions.
func (m *Manager) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	ctx, span := m.tracer.Start(ctx, "refresh.revoke_user", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	var n int64
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = m.repo.RevokeAllForUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("revoke user: %w", err)
		}
		return m.events.Record(ctx, domainauth.Event{
			Kind:    domainauth.EventUserRevoked,
			UserID:  userID,
			Revoked: n,
			At:      m.cfg.Now(),
		})
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	mRevoked.WithLabelValues("user").Add(float64(n))
	return n, nil
}

// RevokeReusedSession handles a rotated-away token that was presented again:
// its whole session is revoked and a reuse event recorded.
func (m *Manager) RevokeReusedSession(ctx context.Context, t *domainauth.RefreshToken) (int64, error) {
	ctx, span := m.tracer.Start(ctx, "refresh.revoke_reused", trace.WithAttributes(attribute.Int64("user.id", t.UserID)))
	defer span.End()

	var n int64
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		n, err = m.repo.RevokeSession(ctx, t.UserID, t.Session)
		if err != nil {
			return fmt.Errorf("revoke session: %w", err)
		}
		return m.events.Record(ctx, domainauth.Event{
			Kind:    domainauth.EventTokenReuse,
			UserID:  t.UserID,
			Session: t.Session.String(),
			TokenID: t.ID,
			Revoked: n,
			At:      m.cfg.Now(),
		})
	})
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	mReuse.Inc()
	mRevoked.WithLabelValues("session").Add(float64(n))
	m.log.Error("refresh token reuse detected",
		zap.Int64("user_id", t.UserID),
		zap.String("session", t.Session.String()),
		zap.Int64("token_id", t.ID),
		zap.Int64("revoked", n),
	)
	return n, nil
}

// SweepExpired deletes tokens that expired before now, revoked or not, in
// batches of SweepBatch. It stops early if ctx is done.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := m.tracer.Start(ctx, "refresh.sweep")
	defer span.End()

	var total int64
	for {
		n, err := m.repo.DeleteExpired(ctx, now, m.cfg.SweepBatch)
		total += n
		mSwept.Add(float64(n))
		if err != nil {
			span.RecordError(err)
			return total, fmt.Errorf("delete expired: %w", err)
		}
		if n < int64(m.cfg.SweepBatch) {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
	span.SetAttributes(attribute.Int64("swept", total))
	return total, nil
}
