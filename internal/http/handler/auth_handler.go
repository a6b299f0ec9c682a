package handler

import (
	"net/http"
	"net/mail"
	"strings"

	"flash-sale-reservation-service/internal/domain"
	"flash-sale-reservation-service/internal/http/middleware"
	"flash-sale-reservation-service/internal/http/response"
	"flash-sale-reservation-service/internal/observability"
	"flash-sale-reservation-service/internal/security"
	"flash-sale-reservation-service/internal/service"

	"github.com/google/uuid"
)

type AuthHandler struct {
	auth   *service.AuthService
	google *service.GoogleProvider
}

func NewAuthHandler(auth *service.AuthService, google *service.GoogleProvider) *AuthHandler {
	return &AuthHandler{auth: auth, google: google}
}

type userView struct {
	ID       uint   `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Verified bool   `json:"verified"`
	IsAdmin  bool   `json:"is_admin"`
}

func viewUser(u *domain.User) userView {
	return userView{ID: u.ID, Email: u.Email, Username: u.Username, Verified: u.Verified, IsAdmin: u.IsAdmin}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if _, err := mail.ParseAddress(req.Email); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid email address", nil)
		return
	}
	if req.Username == "" || len(req.Password) < 8 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "username is required and password must be at least 8 characters", nil)
		return
	}

	user, err := h.auth.Register(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		// A duplicate email or username is the only expected failure here.
		response.Error(w, r, http.StatusConflict, "CONFLICT", "email or username already taken", nil)
		return
	}
	observability.Audit(r, "user_registered", "user_id", user.ID)
	response.JSON(w, r, http.StatusCreated, viewUser(user))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionView struct {
	User         userView `json:"user"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, pair, err := h.auth.Login(r.Context(), strings.TrimSpace(strings.ToLower(req.Email)), req.Password, security.ClientContextFromRequest(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.installSession(w, pair)
	observability.Audit(r, "user_logged_in", "user_id", user.ID)
	response.JSON(w, r, http.StatusOK, sessionView{User: viewUser(user), AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	// Browser sessions carry the refresh token in a cookie; bearer-token
	// clients post back the one they received at login.
	refresh := security.GetCookie(r, "refresh_token")
	if refresh == "" {
		var req refreshRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		refresh = req.RefreshToken
	}
	result, err := h.auth.Refresh(r.Context(), refresh, security.ClientContextFromRequest(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.installSession(w, result.Rotated)
	response.JSON(w, r, http.StatusOK, sessionView{
		User:         viewUser(result.User),
		AccessToken:  result.Rotated.AccessToken,
		RefreshToken: result.Rotated.RefreshToken,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	access := security.GetCookie(r, "access_token")
	if access == "" {
		header := r.Header.Get("Authorization")
		if strings.HasPrefix(strings.ToLower(header), "bearer ") {
			access = strings.TrimSpace(header[7:])
		}
	}
	if err := h.auth.Logout(r.Context(), access); err != nil {
		writeServiceError(w, r, err)
		return
	}
	middleware.ClearSessionCookies(w)
	observability.Audit(r, "user_logged_out")
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}

// RevokeAllSessions is the panic button: it invalidates every device at
// once, including the one pressing it.
func (h *AuthHandler) RevokeAllSessions(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	n, err := h.auth.RevokeAllSessions(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	middleware.ClearSessionCookies(w)
	observability.Audit(r, "sessions_revoked", "user_id", user.ID, "revoked", n)
	response.JSON(w, r, http.StatusOK, map[string]int{"revoked": n})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, viewUser(user))
}

func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil || !h.google.Enabled() {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "google sign-in is not configured", nil)
		return
	}
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/api/v1/auth",
		MaxAge:   300,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.google.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if h.google == nil || !h.google.Enabled() {
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "google sign-in is not configured", nil)
		return
	}
	state := r.URL.Query().Get("state")
	if state == "" || state != security.GetCookie(r, "oauth_state") {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "oauth state mismatch", nil)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "missing authorization code", nil)
		return
	}

	identity, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		response.Error(w, r, http.StatusBadGateway, "OAUTH_EXCHANGE_FAILED", "could not verify identity with provider", nil)
		return
	}
	user, pair, err := h.auth.LoginExternal(r.Context(), h.google.Name(), *identity, security.ClientContextFromRequest(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.installSession(w, pair)
	observability.Audit(r, "user_logged_in", "user_id", user.ID, "provider", h.google.Name())
	response.JSON(w, r, http.StatusOK, sessionView{User: viewUser(user), AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// installSession sets the token cookies plus a fresh CSRF token readable by
// the frontend for the double-submit check.
func (h *AuthHandler) installSession(w http.ResponseWriter, pair *service.TokenPair) {
	middleware.SetSessionCookies(w, pair)
	http.SetCookie(w, &http.Cookie{
		Name:     "csrf_token",
		Value:    uuid.NewString(),
		Path:     "/",
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}
