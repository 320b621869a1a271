package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domainauth "github.com/NordCoder/sessiongate/internal/domain/auth"
	"github.com/NordCoder/sessiongate/internal/domain/user"
	"github.com/NordCoder/sessiongate/internal/obs"
	"github.com/NordCoder/sessiongate/internal/services/auth-service/refresh"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameExists     = errors.New("username already registered")
	ErrInvalidUsername    = errors.New("username must be 3 to 64 characters")
	ErrWeakPassword       = errors.New("password is too weak")
	ErrUserNotFound       = errors.New("user not found")
)

// Sessions is the refresh token lifecycle as the usecase sees it.
type Sessions interface {
	Create(ctx context.Context, userID int64, session uuid.UUID) (*domainauth.RefreshToken, string, error)
	Validate(ctx context.Context, raw string) (*domainauth.RefreshToken, error)
	Rotate(ctx context.Context, raw string) (*domainauth.RefreshToken, string, error)
	RevokeSession(ctx context.Context, userID int64, session uuid.UUID) (int64, error)
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
	RevokeReusedSession(ctx context.Context, t *domainauth.RefreshToken) (int64, error)
}

type TokenIssuer interface {
	Issue(u *user.User) (string, time.Time, error)
	Verify(token string) (*domainauth.AccessClaims, error)
}

// LoginLimiter throttles failed logins. CheckLogin returns
// domainauth.ErrLoginThrottled when the caller is over budget.
type LoginLimiter interface {
	CheckLogin(ctx context.Context, username, ip string) error
	IncrementLogin(ctx context.Context, username, ip string) error
	ResetLogin(ctx context.Context, username string) error
}

type nopLimiter struct{}

func (nopLimiter) CheckLogin(context.Context, string, string) error     { return nil }
func (nopLimiter) IncrementLogin(context.Context, string, string) error { return nil }
func (nopLimiter) ResetLogin(context.Context, string) error             { return nil }

type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Session          uuid.UUID
}

type Usecase struct {
	users    user.Repo
	sessions Sessions
	issuer   TokenIssuer
	limiter  LoginLimiter
	log      *zap.Logger

	dummyOnce sync.Once
	dummyHash []byte
}

func NewUsecase(users user.Repo, sessions Sessions, issuer TokenIssuer, limiter LoginLimiter, log *zap.Logger) *Usecase {
	if limiter == nil {
		limiter = nopLimiter{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Usecase{users: users, sessions: sessions, issuer: issuer, limiter: limiter, log: log}
}

func normalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (u *Usecase) Register(ctx context.Context, username, name, password string) (*user.User, error) {
	username = normalizeUsername(username)
	if len(username) < 3 || len(username) > 64 {
		return nil, ErrInvalidUsername
	}
	if len(password) < 8 {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	nu := &user.User{
		Username: username,
		Name:     strings.TrimSpace(name),
		Password: string(hash),
		Role:     user.RoleUser,
	}
	if err := u.users.Create(ctx, nu); err != nil {
		if errors.Is(err, user.ErrUsernameTaken) {
			return nil, ErrUsernameExists
		}
		return nil, err
	}
	return nu, nil
}

// Login checks credentials and opens a new session. Unknown users and wrong
// passwords fail the same way and take about the same time.
func (u *Usecase) Login(ctx context.Context, username, password, clientIP string) (*user.User, *TokenPair, error) {
	username = normalizeUsername(username)
	log := obs.WithTrace(ctx, u.log)

	if err := u.limiter.CheckLogin(ctx, username, clientIP); err != nil {
		if errors.Is(err, domainauth.ErrLoginThrottled) {
			return nil, nil, err
		}
		log.Warn("login limiter unavailable", zap.Error(err))
	}

	rec, err := u.users.GetByUsername(ctx, username)
	switch {
	case errors.Is(err, user.ErrNotFound):
		_ = bcrypt.CompareHashAndPassword(u.dummy(), []byte(password))
		u.loginFailed(ctx, username, clientIP)
		return nil, nil, ErrInvalidCredentials
	case err != nil:
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.Password), []byte(password)) != nil {
		u.loginFailed(ctx, username, clientIP)
		return nil, nil, ErrInvalidCredentials
	}
	if err := u.limiter.ResetLogin(ctx, username); err != nil {
		log.Warn("login limiter reset", zap.Error(err))
	}

	pair, err := u.openSession(ctx, rec, uuid.New())
	if err != nil {
		return nil, nil, err
	}
	return rec, pair, nil
}

func (u *Usecase) loginFailed(ctx context.Context, username, ip string) {
	if err := u.limiter.IncrementLogin(ctx, username, ip); err != nil {
		obs.WithTrace(ctx, u.log).Warn("login limiter increment", zap.Error(err))
	}
}

func (u *Usecase) dummy() []byte {
	u.dummyOnce.Do(func() {
		u.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("sessiongate-dummy-password"), bcrypt.DefaultCost)
	})
	return u.dummyHash
}

func (u *Usecase) openSession(ctx context.Context, rec *user.User, session uuid.UUID) (*TokenPair, error) {
	tok, raw, err := u.sessions.Create(ctx, rec.ID, session)
	if err != nil {
		return nil, err
	}
	return u.pair(rec, tok, raw)
}

func (u *Usecase) pair(rec *user.User, tok *domainauth.RefreshToken, raw string) (*TokenPair, error) {
	access, exp, err := u.issuer.Issue(rec)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  exp,
		RefreshToken:     raw,
		RefreshExpiresAt: tok.ExpiresAt,
		Session:          tok.Session,
	}, nil
}

// Refresh rotates the presented refresh token and mints a new access token.
// Presenting a token that was already rotated away revokes its session. The
// owner is loaded before rotating, so a token whose owner is gone never
// yields a successor.
func (u *Usecase) Refresh(ctx context.Context, raw string) (*user.User, *TokenPair, error) {
	log := obs.WithTrace(ctx, u.log)

	cur, err := u.sessions.Validate(ctx, raw)
	if err != nil {
		return nil, nil, u.rejectRefresh(ctx, err)
	}

	rec, err := u.users.GetByID(ctx, cur.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			log.Warn("refresh rejected", zap.String("reason", "owner_missing"), zap.Int64("user_id", cur.UserID))
			if _, rerr := u.sessions.RevokeSession(ctx, cur.UserID, cur.Session); rerr != nil {
				log.Error("revoke orphaned session", zap.Error(rerr))
			}
			return nil, nil, domainauth.ErrRefreshNotFound
		}
		return nil, nil, fmt.Errorf("load user: %w", err)
	}

	next, nextRaw, err := u.sessions.Rotate(ctx, raw)
	if err != nil {
		return nil, nil, u.rejectRefresh(ctx, err)
	}

	pair, err := u.pair(rec, next, nextRaw)
	if err != nil {
		return nil, nil, err
	}
	return rec, pair, nil
}

func (u *Usecase) rejectRefresh(ctx context.Context, err error) error {
	log := obs.WithTrace(ctx, u.log)
	var te *domainauth.TokenError
	if errors.As(err, &te) && te.Reused() {
		if _, rerr := u.sessions.RevokeReusedSession(ctx, te.Token); rerr != nil {
			log.Error("revoke reused session", zap.Error(rerr))
		}
	}
	log.Warn("refresh rejected", zap.String("reason", refresh.Reason(err)))
	return err
}

// Logout ends the session the refresh token belongs to.
func (u *Usecase) Logout(ctx context.Context, raw string) error {
	tok, err := u.sessions.Validate(ctx, raw)
	if err != nil {
		obs.WithTrace(ctx, u.log).Warn("logout rejected", zap.String("reason", refresh.Reason(err)))
		return err
	}
	_, err = u.sessions.RevokeSession(ctx, tok.UserID, tok.Session)
	return err
}

func (u *Usecase) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	return u.sessions.RevokeAllForUser(ctx, userID)
}

// ForceLogout is the admin variant of LogoutAll for another user.
func (u *Usecase) ForceLogout(ctx context.Context, userID int64) (int64, error) {
	if _, err := u.users.GetByID(ctx, userID); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return u.sessions.RevokeAllForUser(ctx, userID)
}

func (u *Usecase) Me(ctx context.Context, userID int64) (*user.User, error) {
	rec, err := u.users.GetByID(ctx, userID)
	if errors.Is(err, user.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return rec, err
}

func (u *Usecase) ParseAccess(token string) (*domainauth.AccessClaims, error) {
	return u.issuer.Verify(token)
}
