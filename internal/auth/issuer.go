package auth

import (
	"errors"
	"fmt"
	"time"

	domainauth "github.com/NordCoder/sessiongate/internal/domain/auth"
	"github.com/NordCoder/sessiongate/internal/domain/user"
	"github.com/golang-jwt/jwt/v5"
)

type IssuerConfig struct {
	Secret    []byte
	AccessTTL time.Duration
	Issuer    string
	Now       func() time.Time
}

type Issuer struct {
	cfg IssuerConfig
}

type claims struct {
	UserID int64  `json:"uid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("signing secret is empty")
	}
	if cfg.AccessTTL < 0 {
		return nil, errors.New("access ttl is negative")
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	cfg.Secret = append([]byte(nil), cfg.Secret...)
	return &Issuer{cfg: cfg}, nil
}

func (i *Issuer) TTL() time.Duration { return i.cfg.AccessTTL }

func (i *Issuer) Issue(u *user.User) (string, time.Time, error) {
	now := i.cfg.Now()
	exp := now.Add(i.cfg.AccessTTL)
	c := claims{
		UserID: u.ID,
		Role:   string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.cfg.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access: %w", err)
	}
	return token, exp, nil
}

func (i *Issuer) Verify(token string) (*domainauth.AccessClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.cfg.Now),
		jwt.WithExpirationRequired(),
	}
	if i.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.cfg.Issuer))
	}

	var c claims
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, &c, func(*jwt.Token) (interface{}, error) {
		return i.cfg.Secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, domainauth.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, domainauth.ErrSignatureInvalid
	default:
		return nil, fmt.Errorf("%w: %v", domainauth.ErrTokenMalformed, err)
	}
	if c.Subject == "" || c.UserID == 0 {
		return nil, fmt.Errorf("%w: missing subject", domainauth.ErrTokenMalformed)
	}

	out := &domainauth.AccessClaims{
		Subject:   c.Subject,
		UserID:    c.UserID,
		Role:      c.Role,
		ExpiresAt: c.ExpiresAt.Time,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	return out, nil
}
