package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/altrix0/pcit-crd-sub000/internal/auth"
	"github.com/altrix0/pcit-crd-sub000/internal/config"
	"github.com/altrix0/pcit-crd-sub000/internal/model"
	"github.com/altrix0/pcit-crd-sub000/internal/otp"
	"github.com/altrix0/pcit-crd-sub000/internal/session"
)

const (
	sessionCookie = "pcit_session"
	deviceCookie  = "pcit_device"

	// Account administration (creation, deactivation) is reserved for
	// the top portal tier.
	adminAccessLevel = 5
)

type Server struct {
	cfg config.Config
	svc *auth.Service
}

func NewServer(cfg config.Config, svc *auth.Service) *Server {
	return &Server{cfg: cfg, svc: svc}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/verify-otp", s.handleVerifyOTP)
	r.Post("/auth/resume", s.handleResume)
	r.Post("/auth/reset/request", s.handleResetRequest)
	r.Post("/auth/reset/complete", s.handleResetComplete)

	r.With(s.sessionMiddleware).Post("/auth/logout", s.handleLogout)
	r.With(s.sessionMiddleware).Post("/auth/password", s.handleChangePassword)
	r.With(s.sessionMiddleware).Get("/auth/me", s.handleGetMe)

	r.Route("/accounts", func(r chi.Router) {
		r.With(s.sessionMiddleware, s.requireAdmin).Post("/", s.handleCreateAccount)
		r.With(s.sessionMiddleware, s.requireAdmin).Post("/{accountId}/deactivate", s.handleDeactivateAccount)
	})

	return r
}

type loginRequest struct {
	SevarthID  string `json:"sevarthId"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type verifyOTPRequest struct {
	PendingRef  string `json:"pendingRef"`
	Code        string `json:"code"`
	RememberMe  bool   `json:"rememberMe"`
	TrustDevice bool   `json:"trustDevice"`
}

type userSummary struct {
	AccountID   string `json:"accountId"`
	SevarthID   string `json:"sevarthId"`
	Role        string `json:"role"`
	AccessLevel int    `json:"accessLevel"`
}

type loginResponse struct {
	Status     string       `json:"status"`
	PendingRef string       `json:"pendingRef,omitempty"`
	User       *userSummary `json:"user,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.SevarthID = strings.TrimSpace(req.SevarthID)
	if req.SevarthID == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	result, err := s.svc.Login(r.Context(), req.SevarthID, req.Password, req.RememberMe, cookieValue(r, deviceCookie), clientMeta(r))
	if err != nil {
		s.writeLoginError(w, err)
		return
	}
	s.writeLoginResult(w, result)
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.PendingRef == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	result, err := s.svc.CompleteStepUp(r.Context(), req.PendingRef, req.Code, req.RememberMe, req.TrustDevice, clientMeta(r))
	if err != nil {
		s.writeLoginError(w, err)
		return
	}
	s.writeLoginResult(w, result)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.Resume(r.Context(), cookieValue(r, sessionCookie), cookieValue(r, deviceCookie))
	if err != nil {
		s.clearCookie(w, sessionCookie)
		s.clearCookie(w, deviceCookie)
		writeError(w, http.StatusUnauthorized, "session_expired")
		return
	}

	s.setSessionCookie(w, sess.ID)
	writeJSON(w, http.StatusOK, loginResponse{Status: "ok", User: summarize(sess)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if err := s.svc.Logout(r.Context(), sess); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	s.clearCookie(w, sessionCookie)
	s.clearCookie(w, deviceCookie)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	sess := sessionFromContext(r.Context())
	err := s.svc.ChangePassword(r.Context(), sess, req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_password")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	// The device token died with the old password.
	s.clearCookie(w, deviceCookie)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type resetRequestRequest struct {
	SevarthID string `json:"sevarthId"`
}

func (s *Server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.SevarthID = strings.TrimSpace(req.SevarthID)
	if req.SevarthID == "" {
		writeError(w, http.StatusBadRequest, "missing_sevarth_id")
		return
	}

	result, err := s.svc.RequestPasswordReset(r.Context(), req.SevarthID)
	if err != nil {
		if errors.Is(err, otp.ErrDeliveryFailed) {
			writeError(w, http.StatusBadGateway, "otp_delivery_failed")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if result.Outcome == auth.OutcomeLocked {
		writeLocked(w, result)
		return
	}
	writeJSON(w, http.StatusAccepted, loginResponse{Status: "accepted", PendingRef: result.PendingRef})
}

type resetCompleteRequest struct {
	PendingRef  string `json:"pendingRef"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

func (s *Server) handleResetComplete(w http.ResponseWriter, r *http.Request) {
	var req resetCompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.PendingRef == "" || req.Code == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	result, err := s.svc.ResetPassword(r.Context(), req.PendingRef, req.Code, req.NewPassword)
	switch {
	case errors.Is(err, auth.ErrInvalidPendingRef):
		writeError(w, http.StatusUnauthorized, "invalid_pending_ref")
		return
	case errors.Is(err, auth.ErrNoActiveCode):
		writeError(w, http.StatusUnauthorized, "no_active_code")
		return
	case errors.Is(err, auth.ErrInvalidCode):
		writeError(w, http.StatusUnauthorized, "invalid_code")
		return
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_password")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if result.Outcome == auth.OutcomeLocked {
		writeLocked(w, result)
		return
	}

	// Every session and device token was just dropped; make the caller
	// log in again.
	s.clearCookie(w, sessionCookie)
	s.clearCookie(w, deviceCookie)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, summarize(sess))
}

type createAccountRequest struct {
	SevarthID   string `json:"sevarthId"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	AccessLevel int    `json:"accessLevel"`
	Email       string `json:"email,omitempty"`
	Mobile      string `json:"mobile,omitempty"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.SevarthID = strings.TrimSpace(req.SevarthID)
	req.Role = strings.TrimSpace(strings.ToLower(req.Role))
	if req.SevarthID == "" || req.Password == "" || req.Role == "" || req.AccessLevel <= 0 {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	account, err := s.svc.Register(r.Context(), auth.RegisterParams{
		SevarthID:   req.SevarthID,
		Password:    req.Password,
		Role:        req.Role,
		AccessLevel: req.AccessLevel,
		Email:       strings.TrimSpace(req.Email),
		Mobile:      strings.TrimSpace(req.Mobile),
	})
	switch {
	case errors.Is(err, auth.ErrAccountExists):
		writeError(w, http.StatusConflict, "account_exists")
		return
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_password")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, userSummary{
		AccountID:   account.ID,
		SevarthID:   account.SevarthID,
		Role:        account.Role,
		AccessLevel: account.AccessLevel,
	})
}

func (s *Server) handleDeactivateAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "missing_account_id")
		return
	}

	if err := s.svc.DeactivateAccount(r.Context(), accountID); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (s *Server) writeLoginResult(w http.ResponseWriter, result auth.Result) {
	switch result.Outcome {
	case auth.OutcomeLocked:
		writeLocked(w, result)
	case auth.OutcomeOTPRequired:
		writeJSON(w, http.StatusOK, loginResponse{Status: "otp_required", PendingRef: result.PendingRef})
	default:
		s.setSessionCookie(w, result.Session.ID)
		if result.DeviceToken != "" {
			s.setDeviceCookie(w, result.DeviceToken)
		}
		writeJSON(w, http.StatusOK, loginResponse{Status: "ok", User: summarize(result.Session)})
	}
}

func (s *Server) writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
	case errors.Is(err, auth.ErrInactiveAccount):
		writeError(w, http.StatusForbidden, "inactive_account")
	case errors.Is(err, auth.ErrInvalidPendingRef):
		writeError(w, http.StatusUnauthorized, "invalid_pending_ref")
	case errors.Is(err, auth.ErrNoActiveCode):
		writeError(w, http.StatusUnauthorized, "no_active_code")
	case errors.Is(err, auth.ErrInvalidCode):
		writeError(w, http.StatusUnauthorized, "invalid_code")
	case errors.Is(err, otp.ErrDeliveryFailed):
		writeError(w, http.StatusBadGateway, "otp_delivery_failed")
	default:
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

func writeLocked(w http.ResponseWriter, result auth.Result) {
	writeJSON(w, http.StatusLocked, map[string]interface{}{
		"error":             "locked_out",
		"retryAfterSeconds": int(result.RetryAfter.Seconds()),
	})
}

func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := cookieValue(r, sessionCookie)
		if sessionID == "" {
			writeError(w, http.StatusUnauthorized, "missing_session")
			return
		}

		sess, err := s.svc.Authenticate(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, session.ErrSessionExpired) {
				s.clearCookie(w, sessionCookie)
				writeError(w, http.StatusUnauthorized, "session_expired")
				return
			}
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFromContext(r.Context())
		if sess.AccessLevel < adminAccessLevel {
			writeError(w, http.StatusForbidden, "admin_only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type sessionKey struct{}

func sessionFromContext(ctx context.Context) model.Session {
	sess, _ := ctx.Value(sessionKey{}).(model.Session)
	return sess
}

func summarize(sess model.Session) *userSummary {
	return &userSummary{
		AccountID:   sess.AccountID,
		SevarthID:   sess.SevarthID,
		Role:        sess.Role,
		AccessLevel: sess.AccessLevel,
	}
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sessionID,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) setDeviceCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     deviceCookie,
		Value:    token,
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		MaxAge:   int(s.cfg.DeviceTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   s.cfg.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func clientMeta(r *http.Request) model.ClientMeta {
	return model.ClientMeta{UserAgent: r.UserAgent(), IPAddress: clientIP(r)}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return strings.Split(r.RemoteAddr, ":")[0]
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
