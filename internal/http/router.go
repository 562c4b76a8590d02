// Package httpapi assembles the public HTTP surface: middleware chain, member
// routes under /v1, staff routes under /v1/admin, health and metrics.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"keystone/internal/platform/metrics"
	"keystone/internal/platform/middleware"
	"keystone/internal/ratelimit"
	"keystone/pkg/platform/httputil"
)

// Registrar is implemented by every domain handler. Handlers that also serve
// members implement MemberRoutes.
type Registrar interface {
	RegisterAdmin(r chi.Router)
}

type MemberRoutes interface {
	Register(r chi.Router)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	Authenticator  middleware.Authenticator
	RequestTimeout time.Duration
	// Limiter, when set, throttles each authenticated member.
	Limiter  *ratelimit.Window
	Checks   map[string]HealthCheck
	Handlers []Registrar
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.Latency(d.Metrics))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(d.Checks))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequestTime)
		r.Use(middleware.ContentTypeJSON)
		if d.RequestTimeout > 0 {
			r.Use(middleware.Timeout(d.RequestTimeout))
		}
		r.Use(middleware.RequireAuth(d.Authenticator, d.Logger))
		if d.Limiter != nil {
			r.Use(ratelimit.PerMember(d.Limiter, d.Logger))
		}

		for _, h := range d.Handlers {
			if m, ok := h.(MemberRoutes); ok {
				m.Register(r)
			}
		}
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireStaff(d.Logger))
			for _, h := range d.Handlers {
				h.RegisterAdmin(r)
			}
		})
	})
	return r
}

func readiness(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				report[name] = err.Error()
				continue
			}
			report[name] = "ok"
		}
		httputil.WriteJSON(w, status, report)
	}
}
