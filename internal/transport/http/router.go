// Package http wires the entitlement engine to its HTTP surface: the
// client-facing entitlement endpoints, the authenticated admin API,
// health probes and prometheus metrics.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"poscore/internal/config"
	apierrors "poscore/internal/errors"
	mw "poscore/internal/middleware"
)

// RouterDeps carries everything the router mounts.
type RouterDeps struct {
	Entitlement *EntitlementHandler
	Admin       *AdminHandler
	Health      *HealthHandler
	Config      *config.Config
	Logger      *slog.Logger
}

// NewRouter assembles the full middleware chain and route tree.
func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(mw.TraceID)
	r.Use(chimiddleware.RealIP)
	r.Use(mw.StructuredLogger(deps.Logger))
	r.Use(mw.Recoverer(deps.Logger))
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Metrics)
	if deps.Config.Server.RateLimit.Enabled {
		limiter := mw.NewRateLimiter(deps.Config.Server.RateLimit.RPS, deps.Config.Server.RateLimit.Burst, deps.Logger)
		r.Use(limiter.Handler)
	}

	r.Mount("/healthz", deps.Health.Routes())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mw.ClientIdentity)
			r.Mount("/entitlement", deps.Entitlement.Routes())
		})
		r.Group(func(r chi.Router) {
			r.Use(mw.AdminAuth(deps.Config.Auth.JWTSecret, deps.Logger))
			r.Mount("/admin", deps.Admin.Routes())
		})
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		render.Render(w, req, apierrors.NewErrorResponse(apierrors.ErrNotFound)) //nolint:errcheck
	})

	return r
}
