/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap access log (reads the request id)
  3. Metrics:    Prometheus request counters, labelled by route pattern
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/calculations, /api/eligibility, /api/bases/*   Calculation previews and resolution
  /api/batches/*                                      Persisted batch runs
  /api/payrolls/*                                     Payroll item maintenance
  /api/periods/{id}/exports/*                         Reports
  /api/employees/{id}/calculation-logs                Audit log
  /health, /metrics                                   Operations

SECURITY NOTE:
  No authentication middleware. All endpoints are public.
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/logger"
	"github.com/warp/payroll-engine/metrics"
)

// RouterOptions carries the cross-cutting pieces of the router.
type RouterOptions struct {
	AllowedOrigins []string
	Logger         *zap.Logger
	Metrics        *metrics.Collector // Nil serves 503 on /metrics
}

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	l := opts.Logger
	if l == nil {
		l = zap.NewNop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = defaultOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logger.Middleware(l))
	r.Use(metricsMiddleware(opts.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Calculation routes
		r.Post("/calculations", h.PreviewCalculation)
		r.Get("/eligibility", h.CheckEligibility)
		r.Get("/bases/resolve", h.ResolveInsurance)
		r.Post("/bases/validate", h.ValidateBase)

		// Batch routes
		r.Route("/batches", func(r chi.Router) {
			r.Post("/calculate", h.CalculateBatch)
			r.Post("/recalculate", h.RecalculateBatch)
		})

		// Payroll routes
		r.Route("/payrolls", func(r chi.Router) {
			r.Post("/", h.CreatePayroll)
			r.Get("/{id}", h.GetPayroll)
			r.Put("/{id}/items/{component}", h.UpsertItem)
			r.Delete("/{id}/items/{component}", h.DeleteItem)
		})

		r.Get("/periods/{id}/exports/{kind}", h.ExportPeriod)
		r.Get("/employees/{id}/calculation-logs", h.CalculationLogs)
	})

	return r
}

// metricsMiddleware records every request under its route pattern so that
// path parameters do not explode label cardinality.
func metricsMiddleware(c *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if c == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			path := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					path = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			c.ObserveHTTPRequest(r.Method, path, status, time.Since(start))
		})
	}
}
