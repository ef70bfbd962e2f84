// Package api is the HTTP surface of the payment core.
//
//	/healthz, /metrics              probes
//	/api/payment-actions            emailed links (token is the credential, rate limited)
//	/api/admin/...                  operator endpoints (admin key)
//	/api/webhooks/...               payment provider callbacks (shared secret)
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"trafikskola.se/payments/internal/api/middleware"
	"trafikskola.se/payments/internal/features/cancellation"
	"trafikskola.se/payments/internal/features/credits"
	"trafikskola.se/payments/internal/features/invoices"
	"trafikskola.se/payments/internal/features/payments"
	"trafikskola.se/payments/internal/httpx"
)

// Handlers are the feature handlers the router mounts.
type Handlers struct {
	Payments     *payments.Handler
	Credits      *credits.Handler
	Invoices     *invoices.Handler
	Cancellation *cancellation.Handler
}

// Options configures the router.
type Options struct {
	RequestTimeout time.Duration
	CORSOrigins    []string
	AdminAuth      *middleware.AdminAuth
	PublicLimiter  *middleware.RateLimiter
	WebhookSecret  string // empty = webhook routes are not mounted
	// Ping checks the backing store for /healthz; nil means always healthy.
	Ping func(ctx context.Context) error
}

// NewRouter builds the chi router with every route mounted.
func NewRouter(h Handlers, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.LogRequests)
	r.Use(middleware.Recover)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.AdminKeyHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", healthz(opts.Ping))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(chimw.Timeout(opts.RequestTimeout))
		}

		r.Group(func(r chi.Router) {
			if opts.PublicLimiter != nil {
				r.Use(middleware.Limit(opts.PublicLimiter))
			}
			h.Payments.PublicRoutes(r)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(opts.AdminAuth.Middleware)
			h.Payments.AdminRoutes(r)
			h.Credits.Routes(r)
			h.Invoices.Routes(r)
			h.Cancellation.Routes(r)
		})

		if opts.WebhookSecret != "" {
			r.Route("/webhooks", func(r chi.Router) {
				r.Use(middleware.WebhookSecret(opts.WebhookSecret))
				h.Payments.WebhookRoutes(r)
			})
		} else {
			log.Warn("WEBHOOK_SECRET is empty, webhook routes disabled")
		}
	})

	return r
}

func healthz(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				log.WithError(err).Warn("Health check failed")
				httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// SplitOrigins parses the comma separated CORS_ALLOWED_ORIGINS value.
func SplitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
