package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/sessiongate/internal/auth"
	domainauth "github.com/NordCoder/sessiongate/internal/domain/auth"
	"github.com/NordCoder/sessiongate/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, domainauth.Event) error {
	return errors.New("recorder down")
}

// linkFailRepo fails SetReplacedBy, after waiting on hold when it is set.
type linkFailRepo struct {
	domainauth.RefreshTokenRepo
	entered chan struct{}
	hold    chan struct{}
}

func (r *linkFailRepo) SetReplacedBy(ctx context.Context, _, _ int64) error {
	if r.hold != nil {
		close(r.entered)
		<-r.hold
	}
	return errors.New("link down")
}

type env struct {
	m     *Manager
	db    *memory.DB
	repo  *memory.RefreshTokenRepo
	clock *clock
}

const ttl = 24 * time.Hour

func newEnv(t *testing.T, opts ...func(*Config)) *env {
	t.Helper()
	db := memory.NewDB()
	repo := memory.NewRefreshTokenRepo(db)
	fp, err := auth.NewFingerprinter()
	require.NoError(t, err)

	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := Config{RefreshTTL: ttl, Now: c.Now}
	for _, o := range opts {
		o(&cfg)
	}
	m, err := NewManager(repo, memory.NewTransactor(db), fp, memory.NewEventRecorder(db, zap.NewNop()), zap.NewNop(), cfg)
	require.NoError(t, err)
	return &env{m: m, db: db, repo: repo, clock: c}
}

func (e *env) stored(t *testing.T, raw string) *domainauth.RefreshToken {
	t.Helper()
	fp, err := auth.NewFingerprinter()
	require.NoError(t, err)
	tok, err := e.repo.GetByFingerprint(context.Background(), fp.Fingerprint(raw))
	require.NoError(t, err)
	return tok
}

func TestNewManager_RejectsNonPositiveTTL(t *testing.T) {
	_, err := NewManager(nil, nil, nil, nil, nil, Config{})
	require.Error(t, err)
}

func TestCreateAndValidate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	session := uuid.New()

	tok, raw, err := e.m.Create(ctx, 7, session)
	require.NoError(t, err)
	assert.Len(t, raw, 43)
	assert.NotEqual(t, raw, tok.Fingerprint)
	assert.Equal(t, e.clock.Now().Add(ttl), tok.ExpiresAt)

	got, err := e.m.Validate(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, got.ID)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, session, got.Session)
}

func TestValidate_NotFound(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, raw, err := e.m.Create(ctx, 1, uuid.New())
	require.NoError(t, err)

	altered := []byte(raw)
	if altered[0] == 'A' {
		altered[0] = 'B'
	} else {
		altered[0] = 'A'
	}

	for _, in := range []string{"", "garbage", string(altered)} {
		_, err := e.m.Validate(ctx, in)
		require.ErrorIs(t, err, domainauth.ErrRefreshNotFound, in)
	}
}

func TestValidate_ExpiresAtBoundary(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, raw, err := e.m.Create(ctx, 1, uuid.New())
	require.NoError(t, err)

	e.clock.Advance(ttl - time.Nanosecond)
	_, err = e.m.Validate(ctx, raw)
	require.NoError(t, err)

	e.clock.Advance(time.Nanosecond)
	_, err = e.m.Validate(ctx, raw)
	require.ErrorIs(t, err, domainauth.ErrRefreshExpired)

	_, _, err = e.m.Rotate(ctx, raw)
	require.ErrorIs(t, err, domainauth.ErrRefreshExpired)
}

func TestValidate_RevokedWinsOverExpired(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, raw, err := e.m.Create(ctx, 1, uuid.New())
	require.NoError(t, err)
	require.NoError(t, e.m.Revoke(ctx, raw))

	e.clock.Advance(2 * ttl)
	_, err = e.m.Validate(ctx, raw)
	require.ErrorIs(t, err, domainauth.ErrRefreshRevoked)

	var te *domainauth.TokenError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Reused())
}

func TestRevoke_Twice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, raw, err := e.m.Create(ctx, 1, uuid.New())
	require.NoError(t, err)
	require.NoError(t, e.m.Revoke(ctx, raw))
	require.ErrorIs(t, e.m.Revoke(ctx, raw), domainauth.ErrRefreshRevoked)
}

func TestRotate_IssuesSuccessorInSameSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	session := uuid.New()

	first, raw1, err := e.m.Create(ctx, 5, session)
	require.NoError(t, err)

	e.clock.Advance(time.Hour)
	second, raw2, err := e.m.Rotate(ctx, raw1)
	require.NoError(t, err)
	assert.NotEqual(t, raw1, raw2)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, session, second.Session)
	assert.Equal(t, int64(5), second.UserID)
	assert.Equal(t, e.clock.Now().Add(ttl), second.ExpiresAt)

	old := e.stored(t, raw1)
	assert.True(t, old.Revoked)
	require.NotNil(t, old.ReplacedBy)
	assert.Equal(t, second.ID, *old.ReplacedBy)

	_, err = e.m.Validate(ctx, raw2)
	require.NoError(t, err)
}

func TestRotate_ReusedTokenIsFlagged(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, raw1, err := e.m.Create(ctx, 5, uuid.New())
	require.NoError(t, err)
	_, raw2, err := e.m.Rotate(ctx, raw1)
	require.NoError(t, err)

	_, _, err = e.m.Rotate(ctx, raw1)
	require.ErrorIs(t, err, domainauth.ErrRefreshRevoked)

	var te *domainauth.TokenError
	require.ErrorAs(t, err, &te)
	require.True(t, te.Reused())

	n, err := e.m.RevokeReusedSession(ctx, te.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = e.m.Validate(ctx, raw2)
	require.ErrorIs(t, err, domainauth.ErrRefreshRevoked)

	events := e.db.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domainauth.EventTokenReuse, events[0].Kind)
	assert.Equal(t, te.Token.ID, events[0].TokenID)
}

func TestRotate_RevokesSessionSiblings(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	session, other := uuid.New(), uuid.New()

	_, rawA, err := e.m.Create(ctx, 1, session)
	require.NoError(t, err)
	_, rawB, err := e.m.Create(ctx, 1, session)
	require.NoError(t, err)
	_, rawOther, err := e.m.Create(ctx, 1, other)
	require.NoError(t, err)

	_, _, err = e.m.Rotate(ctx, rawA)
	require.NoError(t, err)

	_, err = e.m.Validate(ctx, rawB)
	require.ErrorIs(t, err, domainauth.ErrRefreshRevoked)
	_, err = e.m.Validate(ctx, rawOther)
	require.NoError(t, err)
}

func TestRotate_ConcurrentExactlyOneWins(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	session := uuid.New()
	_, raw, err := e.m.Create(ctx, 1, session)
	require.NoError(t, err)

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		revoked int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _, err := e.m.Rotate(ctx, raw)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domainauth.ErrRefreshRevoked):
				revoked++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, revoked)

	active, err := e.m.RevokeSession(ctx, 1, session)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
}

func TestRevokeSession_Isolation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s1, s2 := uuid.New(), uuid.New()

	_, raw1, err := e.m.Create(ctx, 1, s1)
	require.NoError(t, err)
	_, raw2, err := e.m.Create(ctx, 1, s2)
	require.NoError(t, err)

	n, err := e.m.RevokeSession(ctx, 1, s1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = e.m.Validate(ctx, raw1)
	require.ErrorIs(t, err, domainauth.ErrRefreshRevoked)
	_, err = e.m.Validate(ctx, raw2)
	require.NoError(t, err)

	n, err = e.m.RevokeSession(ctx, 1, s1)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = e.m.RevokeSession(ctx, 2, s2)
	require.NoError(t, err)
	assert.Zero(t, n, "session belongs to another user")

	require.Len(t, e.db.Events(), 1)
}

func TestRevokeAllForUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	var raws []string
	for i := 0; i < 3; i++ {
		_, raw, err := e.m.Create(ctx, 1, uuid.New())
		require.NoError(t, err)
		raws = append(raws, raw)
	}
	_, otherRaw, err := e.m.Create(ctx, 2, uuid.New())
	require.NoError(t, err)

	n, err := e.m.RevokeAllForUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, raw := range raws {
		_, err := e.m.Validate(ctx, raw)
		require.ErrorIs(t, err, domainauth.ErrRefreshRevoked)
	}
	_, err = e.m.Validate(ctx, otherRaw)
	require.NoError(t, err)

	n, err = e.m.RevokeAllForUser(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, n)

	events := e.db.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domainauth.EventUserRevoked, events[0].Kind)
	assert.Equal(t, int64(3), events[0].Revoked)
}

func TestRevokeAllForUser_RollsBackOnRecorderFailure(t *testing.T) {
	db := memory.NewDB()
	repo := memory.NewRefreshTokenRepo(db)
	fp, err := auth.NewFingerprinter()
	require.NoError(t, err)
	m, err := NewManager(repo, memory.NewTransactor(db), fp, failingRecorder{}, zap.NewNop(), Config{RefreshTTL: ttl})
	require.NoError(t, err)

	ctx := context.Background()
	_, raw, err := m.Create(ctx, 1, uuid.New())
	require.NoError(t, err)

	_, err = m.RevokeAllForUser(ctx, 1)
	require.Error(t, err)

	_, err = m.Validate(ctx, raw)
	require.NoError(t, err)
}

func TestSweepExpired(t *testing.T) {
	e := newEnv(t, func(c *Config) { c.SweepBatch = 2 })
	ctx := context.Background()

	var expired []string
	for i := 0; i < 5; i++ {
		_, raw, err := e.m.Create(ctx, 1, uuid.New())
		require.NoError(t, err)
		expired = append(expired, raw)
	}
	require.NoError(t, e.m.Revoke(ctx, expired[0]))

	e.clock.Advance(ttl + time.Minute)
	_, fresh, err := e.m.Create(ctx, 1, uuid.New())
	require.NoError(t, err)

	n, err := e.m.SweepExpired(ctx, e.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	for _, raw := range expired {
		_, err := e.m.Validate(ctx, raw)
		require.ErrorIs(t, err, domainauth.ErrRefreshNotFound)
	}
	_, err = e.m.Validate(ctx, fresh)
	require.NoError(t, err)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, raw, err := e.m.Create(ctx, 1, uuid.New())
	require.NoError(t, err)
	e.clock.Advance(2 * ttl)

	done := make(chan error, 1)
	go func() { done <- NewSweeper(zap.NewNop(), e.m, time.Hour).Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := e.m.Validate(context.Background(), raw)
		return errors.Is(err, domainauth.ErrRefreshNotFound)
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "not_found", Reason(domainauth.ErrRefreshNotFound))
	assert.Equal(t, "revoked", Reason(&domainauth.TokenError{Err: domainauth.ErrRefreshRevoked}))
	assert.Equal(t, "expired", Reason(&domainauth.TokenError{Err: domainauth.ErrRefreshExpired}))
	assert.Equal(t, "error", Reason(errors.New("x")))
}

func newLinkFailEnv(t *testing.T, hold bool) (*Manager, *linkFailRepo) {
	t.Helper()
	db := memory.NewDB()
	repo := &linkFailRepo{RefreshTokenRepo: memory.NewRefreshTokenRepo(db)}
	if hold {
		repo.entered = make(chan struct{})
		repo.hold = make(chan struct{})
	}
	fp, err := auth.NewFingerprinter()
	require.NoError(t, err)
	m, err := NewManager(repo, memory.NewTransactor(db), fp, memory.NewEventRecorder(db, zap.NewNop()), zap.NewNop(), Config{RefreshTTL: ttl})
	require.NoError(t, err)
	return m, repo
}

func TestRotate_FailureLeavesNoPartialState(t *testing.T) {
	m, _ := newLinkFailEnv(t, false)
	ctx := context.Background()
	session := uuid.New()

	_, raw, err := m.Create(ctx, 1, session)
	require.NoError(t, err)
	_, sibling, err := m.Create(ctx, 1, session)
	require.NoError(t, err)

	_, _, err = m.Rotate(ctx, raw)
	require.Error(t, err)

	_, err = m.Validate(ctx, raw)
	require.NoError(t, err)
	_, err = m.Validate(ctx, sibling)
	require.NoError(t, err)

	n, err := m.RevokeSession(ctx, 1, session)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRotate_InFlightChangesInvisible(t *testing.T) {
	m, repo := newLinkFailEnv(t, true)
	ctx := context.Background()

	_, raw, err := m.Create(ctx, 1, uuid.New())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, _, err := m.Rotate(ctx, raw)
		done <- err
	}()

	<-repo.entered
	_, err = m.Validate(ctx, raw)
	require.NoError(t, err)
	close(repo.hold)

	require.Error(t, <-done)
	_, err = m.Validate(ctx, raw)
	require.NoError(t, err)
}
