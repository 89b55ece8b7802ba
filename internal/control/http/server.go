// SPDX-License-Identifier: MIT

// Package httpapi exposes the command ingress, queue inspection, allowlist
// administration and operational probes over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ManuGH/playq/internal/orchestrator"
	"github.com/ManuGH/playq/internal/store"
)

// Orchestrator is the command entry point the API fronts.
type Orchestrator interface {
	Handle(ctx context.Context, cmd orchestrator.Command) orchestrator.Result
}

// NodeStatus reports node connectivity for readiness.
type NodeStatus interface {
	ConnectedNodes() []string
}

// AllowlistInvalidator drops cached allowlist decisions after admin writes.
type AllowlistInvalidator interface {
	Invalidate(tenantID string)
}

// Options wires the server's collaborators.
type Options struct {
	Orch  Orchestrator
	Store store.QueueStore
	Nodes NodeStatus

	// Allowlist is optional; when set, admin writes invalidate its cache.
	Allowlist AllowlistInvalidator

	// AdminToken guards the allowlist endpoints. Empty disables them
	// entirely rather than leaving them open.
	AdminToken string

	// RateLimitPerMinute caps command requests per tenant. 0 disables.
	RateLimitPerMinute int

	// TracingEnabled wraps the handler in otelhttp instrumentation.
	TracingEnabled bool

	Version string
}

// Server carries the handler and its options.
type Server struct {
	opts Options
}

// New builds the API server.
func New(opts Options) *Server {
	return &Server{opts: opts}
}

// Handler assembles the router with the canonical middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(requestID)
	r.Use(accessLog)

	r.Route("/api", func(r chi.Router) {
		if s.opts.RateLimitPerMinute > 0 {
			r.Use(httprate.Limit(
				s.opts.RateLimitPerMinute,
				time.Minute,
				httprate.WithKeyFuncs(tenantKey),
				httprate.WithLimitHandler(rateLimited),
			))
		}

		r.Post("/command", s.handleCommand)
		r.Get("/queue/{tenantID}", s.handleQueue)

		if s.opts.AdminToken != "" {
			r.Group(func(r chi.Router) {
				r.Use(adminOnly(s.opts.AdminToken))
				r.Put("/admin/allowlist/{tenantID}", s.handleAllow)
				r.Delete("/admin/allowlist/{tenantID}", s.handleDisallow)
			})
		}
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if s.opts.TracingEnabled {
		return otelhttp.NewHandler(r, "playq.api")
	}
	return r
}
