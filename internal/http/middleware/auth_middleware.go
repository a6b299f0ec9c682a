package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"flash-sale-reservation-service/internal/domain"
	"flash-sale-reservation-service/internal/http/response"
	"flash-sale-reservation-service/internal/security"
	"flash-sale-reservation-service/internal/service"
)

type contextKey string

const userContextKey contextKey = "user"

// Authenticator resolves the user behind a token pair; the session authority
// implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken, refreshToken string, client security.ClientContext) (*service.AuthResult, error)
}

// AuthMiddleware resolves the caller from the access token (cookie or bearer
// header) and stashes the user in the request context. When the access token
// has expired but a refresh cookie is present, the session authority rotates
// the pair and the new cookies ride out on this response.
func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access := security.GetCookie(r, "access_token")
			if access == "" {
				header := r.Header.Get("Authorization")
				if strings.HasPrefix(strings.ToLower(header), "bearer ") {
					access = strings.TrimSpace(header[7:])
				}
			}
			if access == "" {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			refresh := security.GetCookie(r, "refresh_token")

			result, err := auth.Authenticate(r.Context(), access, refresh, security.ClientContextFromRequest(r))
			if err != nil {
				status, code, message := http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token"
				switch {
				case errors.Is(err, service.ErrSessionInvalid):
					message = "session expired or revoked"
				case errors.Is(err, service.ErrAccountSuspended):
					status, code, message = http.StatusForbidden, "FORBIDDEN", "account suspended"
				case errors.Is(err, service.ErrAuthenticationFailed):
				default:
					status, code, message = http.StatusInternalServerError, "INTERNAL", "authentication backend unavailable"
				}
				response.Error(w, r, status, code, message, nil)
				return
			}

			if result.Rotated != nil {
				SetSessionCookies(w, result.Rotated)
			}
			ctx := context.WithValue(r.Context(), userContextKey, result.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin gates a route group on the admin flag. Must run after
// AuthMiddleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
			return
		}
		if !user.IsAdmin {
			response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "admin privileges required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func UserFromContext(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(userContextKey).(*domain.User)
	return u, ok
}

// SetSessionCookies installs a freshly minted token pair. The handlers that
// mint pairs (login, callback) and the rotation path share this shape so the
// cookie attributes never drift apart.
func SetSessionCookies(w http.ResponseWriter, pair *service.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    pair.AccessToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     "refresh_token",
		Value:    pair.RefreshToken,
		Path:     "/api/v1/auth",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookies expires both halves of the pair on logout.
func ClearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name: "access_token", Value: "", Path: "/",
		HttpOnly: true, Secure: true, MaxAge: -1, Expires: time.Unix(0, 0),
	})
	http.SetCookie(w, &http.Cookie{
		Name: "refresh_token", Value: "", Path: "/api/v1/auth",
		HttpOnly: true, Secure: true, MaxAge: -1, Expires: time.Unix(0, 0),
	})
}
