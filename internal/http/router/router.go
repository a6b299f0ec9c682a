package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"flash-sale-reservation-service/internal/health"
	"flash-sale-reservation-service/internal/http/handler"
	"flash-sale-reservation-service/internal/http/middleware"
	"flash-sale-reservation-service/internal/http/response"
)

type Dependencies struct {
	AuthHandler        *handler.AuthHandler
	SaleHandler        *handler.SaleHandler
	ReservationHandler *handler.ReservationHandler
	WebhookHandler     *handler.WebhookHandler
	Authenticator      middleware.Authenticator

	CORSOrigins         []string
	APIRateLimitRPM     int
	AuthRateLimitRPM    int
	ReserveRateLimitRPM int

	// Optional overrides; when nil the router falls back to local
	// fixed-window limiters.
	GlobalRateLimiter  func(http.Handler) http.Handler
	AuthRateLimiter    func(http.Handler) http.Handler
	ReserveRateLimiter func(http.Handler) http.Handler

	Readiness      *health.ProbeRunner
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())
	}

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	}
	reserveLimiter := dep.ReserveRateLimiter
	if reserveLimiter == nil {
		reserveLimiter = middleware.NewScopedRateLimiter(
			middleware.NewLocalFixedWindowLimiter(),
			dep.ReserveRateLimitRPM, time.Minute,
			middleware.FailClosed, "reserve", middleware.UserOrIPKeyFunc,
		).Middleware()
	}
	requireAuth := middleware.AuthMiddleware(dep.Authenticator)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/register", dep.AuthHandler.Register)
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(authLimiter).Get("/google/login", dep.AuthHandler.GoogleLogin)
			r.With(authLimiter).Get("/google/callback", dep.AuthHandler.GoogleCallback)
			r.Group(func(r chi.Router) {
				r.Use(middleware.CSRFMiddleware)
				r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
				r.With(requireAuth).Post("/logout", dep.AuthHandler.Logout)
				r.With(requireAuth).Post("/sessions/revoke-all", dep.AuthHandler.RevokeAllSessions)
			})
		})

		r.With(requireAuth).Get("/me", dep.AuthHandler.Me)

		r.Route("/sales", func(r chi.Router) {
			r.Get("/{id}", dep.SaleHandler.Get)
			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.With(reserveLimiter).Post("/{id}/reserve", dep.ReservationHandler.Reserve)
				r.Get("/{id}/reservation", dep.ReservationHandler.Mine)
			})
		})

		r.Route("/reservations", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/{reference}", dep.ReservationHandler.Get)
			r.Post("/{reference}/verify", dep.ReservationHandler.Verify)
		})

		// Webhook authenticates with an HMAC signature, not a session.
		r.Post("/payments/webhook", dep.WebhookHandler.PaymentEvent)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(middleware.RequireAdmin)
			r.Post("/sales", dep.SaleHandler.Create)
			r.Post("/sales/{id}/activate", dep.SaleHandler.Activate)
			r.Post("/sales/{id}/cancel", dep.SaleHandler.Cancel)
			r.Get("/sales/{id}/reservations", dep.SaleHandler.ListReservations)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
