package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	domainauth "github.com/NordCoder/sessiongate/internal/domain/auth"
	"github.com/NordCoder/sessiongate/internal/domain/user"
	"github.com/NordCoder/sessiongate/internal/obs"
	"go.uber.org/zap"
)

type Server struct {
	log          *zap.Logger
	uc           *Usecase
	cookieName   string
	cookieDomain string
	cookiePath   string
	cookieSecure bool
	refreshTTL   time.Duration
}

type Opts struct {
	Logger       *zap.Logger
	CookieName   string
	CookieDomain string
	CookiePath   string
	CookieSecure bool
	RefreshTTL   time.Duration
}

func NewServer(uc *Usecase, o Opts) *Server {
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if o.CookieName == "" {
		o.CookieName = "refresh_token"
	}
	if o.CookiePath == "" {
		o.CookiePath = "/v1/auth"
	}
	return &Server{
		log:          log,
		uc:           uc,
		cookieName:   o.CookieName,
		cookieDomain: o.CookieDomain,
		cookiePath:   o.CookiePath,
		cookieSecure: o.CookieSecure,
		refreshTTL:   o.RefreshTTL,
	}
}

// Register mounts the auth routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/auth/register", s.signUp)
	mux.HandleFunc("POST /v1/auth/login", s.login)
	mux.HandleFunc("POST /v1/auth/refresh", s.refresh)
	mux.HandleFunc("POST /v1/auth/logout", s.logout)
	mux.HandleFunc("POST /v1/auth/logout-all", s.requireAuth(s.logoutAll))
	mux.HandleFunc("GET /v1/auth/me", s.requireAuth(s.me))
	mux.HandleFunc("POST /v1/admin/users/{id}/logout", s.requireRole(user.RoleAdmin, s.forceLogout))
}

type signUpRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Role      user.Role `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type authResponse struct {
	AccessToken      string        `json:"access_token"`
	TokenType        string        `json:"token_type"`
	ExpiresIn        int64         `json:"expires_in"`
	RefreshToken     string        `json:"refresh_token"`
	RefreshExpiresAt time.Time     `json:"refresh_expires_at"`
	SessionID        string        `json:"session_id"`
	User             *userResponse `json:"user"`
}

type revokedResponse struct {
	Revoked int64 `json:"revoked"`
}

func toUserResponse(u *user.User) *userResponse {
	return &userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Name:      u.Name,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

func toAuthResponse(u *user.User, p *TokenPair) authResponse {
	return authResponse{
		AccessToken:      p.AccessToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(time.Until(p.AccessExpiresAt).Seconds()),
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExpiresAt,
		SessionID:        p.Session.String(),
		User:             toUserResponse(u),
	}
}

func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, err := s.uc.Register(r.Context(), req.Username, req.Name, req.Password)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	obs.WithTrace(r.Context(), s.log).Info("auth.register", zap.Int64("user_id", u.ID))
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, pair, err := s.uc.Login(r.Context(), req.Username, req.Password, clientIP(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	obs.WithTrace(r.Context(), s.log).Info("auth.login",
		zap.Int64("user_id", u.ID), zap.String("session", pair.Session.String()))
	s.setRefreshCookie(w, pair.RefreshToken)
	writeJSON(w, http.StatusOK, toAuthResponse(u, pair))
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	raw, err := s.refreshToken(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, pair, err := s.uc.Refresh(r.Context(), raw)
	if err != nil {
		s.clearRefreshCookie(w)
		s.writeErr(w, r, err)
		return
	}
	s.setRefreshCookie(w, pair.RefreshToken)
	writeJSON(w, http.StatusOK, toAuthResponse(u, pair))
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	raw, err := s.refreshToken(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.clearRefreshCookie(w)
	if err := s.uc.Logout(r.Context(), raw); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) logoutAll(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromCtx(r.Context())
	n, err := s.uc.LogoutAll(r.Context(), claims.UserID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	s.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, revokedResponse{Revoked: n})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromCtx(r.Context())
	u, err := s.uc.Me(r.Context(), claims.UserID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (s *Server) forceLogout(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	n, err := s.uc.ForceLogout(r.Context(), id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	admin, _ := ClaimsFromCtx(r.Context())
	obs.WithTrace(r.Context(), s.log).Info("auth.force_logout",
		zap.Int64("admin_id", admin.UserID), zap.Int64("user_id", id), zap.Int64("revoked", n))
	writeJSON(w, http.StatusOK, revokedResponse{Revoked: n})
}

// refreshToken takes the token from the JSON body, then the cookie, then the
// X-Refresh-Token header.
func (s *Server) refreshToken(r *http.Request) (string, error) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if req.RefreshToken != "" {
		return req.RefreshToken, nil
	}
	if c, err := r.Cookie(s.cookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return r.Header.Get("X-Refresh-Token"), nil
}

func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domainauth.ErrRefreshNotFound),
		errors.Is(err, domainauth.ErrRefreshRevoked),
		errors.Is(err, domainauth.ErrRefreshExpired):
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domainauth.ErrLoginThrottled):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, ErrUsernameExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrWeakPassword), errors.Is(err, ErrInvalidUsername):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		obs.WithTrace(r.Context(), s.log).Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, raw string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    raw,
		Path:     s.cookiePath,
		Domain:   s.cookieDomain,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.refreshTTL.Seconds()),
		Expires:  time.Now().Add(s.refreshTTL).UTC(),
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     s.cookiePath,
		Domain:   s.cookieDomain,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
