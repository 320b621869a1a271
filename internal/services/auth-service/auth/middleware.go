package auth

import (
	"context"
	"net/http"
	"strings"

	domainauth "github.com/NordCoder/sessiongate/internal/domain/auth"
	"github.com/NordCoder/sessiongate/internal/domain/user"
	"go.uber.org/zap"
)

type ctxKey int

const claimsKey ctxKey = 1

func ClaimsFromCtx(ctx context.Context) (*domainauth.AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*domainauth.AccessClaims)
	return c, ok
}

func bearer(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

// requireAuth rejects requests without a valid access token and stores the
// verified claims in the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer`)
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.uc.ParseAccess(token)
		if err != nil {
			s.log.Debug("access token rejected", zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "invalid access token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	}
}

func (s *Server) requireRole(role user.Role, next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromCtx(r.Context())
		if claims == nil || claims.Role != string(role) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	})
}
