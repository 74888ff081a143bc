package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/throttlecove/throttlecove/internal/domain"
	"github.com/throttlecove/throttlecove/internal/http/handler"
	"github.com/throttlecove/throttlecove/internal/http/middleware"
	"github.com/throttlecove/throttlecove/internal/http/response"
	"github.com/throttlecove/throttlecove/internal/security"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	AdminHandler     *handler.AdminHandler
	TokenIssuer      *security.TokenIssuer
	RateLimiter      middleware.Limiter
	AuthRateLimitRPM int
	APIRateLimitRPM  int
	ReadyCheck       func() error
	EnableOTelHTTP   bool
}

func New(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)

	limiter := dep.RateLimiter
	if limiter == nil {
		limiter = middleware.NewLocalFixedWindowLimiter()
	}
	r.Use(middleware.NewRateLimiter(limiter, "api", dep.APIRateLimitRPM, middleware.FailOpen).Middleware())
	authLimiter := middleware.NewRateLimiter(limiter, "auth", dep.AuthRateLimitRPM, middleware.FailClosed).Middleware()

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.ReadyCheck != nil {
			if err := dep.ReadyCheck(); err != nil {
				response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", nil)
				return
			}
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	authn := middleware.Authenticate(dep.TokenIssuer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/register", dep.AuthHandler.Register)
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)

			r.Group(func(r chi.Router) {
				r.Use(authn)
				r.Post("/logout", dep.AuthHandler.Logout)
				r.Get("/session", dep.AuthHandler.Session)
				r.Get("/sessions", dep.AuthHandler.Sessions)
				r.Patch("/profile", dep.AuthHandler.UpdateProfile)
				r.Post("/password", dep.AuthHandler.ChangePassword)
				r.Delete("/account", dep.AuthHandler.DeleteAccount)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(authn)
			r.Use(middleware.RequireRole(domain.RoleAdmin))
			r.Post("/sessions/cleanup", dep.AdminHandler.CleanupSessions)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
