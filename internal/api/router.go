package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pganon/internal/middleware"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	JWTSecret []byte
	// RateLimiter is applied to /v1 when set.
	RateLimiter *middleware.RateLimiter
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
}

// NewRouter builds the admin HTTP router: /metrics is public, /v1 is
// authenticated and rate limited.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)

	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Handler)
		}
		r.Use(middleware.Authenticate(opts.JWTSecret))
		h.Routes(r)
	})
	return r
}
