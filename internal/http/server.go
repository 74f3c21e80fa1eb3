package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"ventas/internal/log"
	"ventas/internal/middleware/ratelimit"
	"ventas/internal/middleware/security"
	"ventas/internal/middleware/trace"
	"ventas/internal/months"
	"ventas/internal/services"
	"ventas/internal/telemetry"
	appweb "ventas/web"
)

// Dashboard is the part of the dashboard service the handlers need.
type Dashboard interface {
	Months() *months.Table
	DefaultBudget() float64
	ParseBudget(raw string) (float64, error)
	Load(ctx context.Context, monthKey string, budget float64) (services.Snapshot, error)
	Refresh(ctx context.Context, monthKey, trigger string) (time.Time, error)
}

// Config holds the server settings that do not come from the dashboard.
type Config struct {
	Addr               string
	RateLimitPerMinute int
	Metrics            *telemetry.Metrics
	Logger             *log.Logger
	// Ready reports whether dependencies are usable; nil means always ready.
	Ready func(context.Context) error
}

type Server struct {
	http.Server
	dashboard       Dashboard
	templates       *template.Template
	rateLimiter     *ratelimit.Limiter
	traceMiddleware *trace.Middleware
	ipResolver      *security.IPResolver
	metrics         *telemetry.Metrics
	logger          *log.Logger
	structured      *log.StructuredLogger
	ready           func(context.Context) error
	started         time.Time
	shutdownOnce    sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run server.
func NewServer(cfg Config, dashboard Dashboard) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	t, err := template.New("").Funcs(viewFuncs()).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	static, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("mount static assets: %w", err)
	}

	s := &Server{
		dashboard:  dashboard,
		templates:  t,
		ipResolver: security.NewIPResolver(),
		metrics:    cfg.Metrics,
		logger:     logger,
		structured: log.NewStructuredLogger(logger),
		ready:      cfg.Ready,
		started:    time.Now(),
		rateLimiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
		}),
	}
	s.traceMiddleware = trace.NewMiddleware(logger, s.ipResolver.ClientIP)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(http.FS(static)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(static http.FileSystem) http.Handler {
	r := chi.NewRouter()
	r.Use(s.traceMiddleware.Handler)
	r.Use(chimw.Recoverer)
	r.Use(security.Headers(security.DefaultHeadersConfig()))
	r.Use(s.metrics.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.With(security.StaticAssets(3600)).
		Handle("/static/*", http.StripPrefix("/static/", http.FileServer(static)))

	limited := s.rateLimiter.Middleware(s.ipResolver.ClientIP, s.onRateLimited)

	r.Group(func(r chi.Router) {
		r.Use(security.NoStore)
		r.Get("/", s.handleIndex)
		r.Get("/ui/metrics", s.handleMetricsPartial)

		r.Route("/api/months", func(r chi.Router) {
			r.Get("/", s.handleMonths)
			r.Route("/{month}", func(r chi.Router) {
				r.Get("/metrics", s.handleMonthMetrics)
				r.Get("/export.xlsx", s.handleExport)
				r.With(limited).Post("/refresh", s.handleRefresh)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	return r
}

// Shutdown stops the rate limiter cleanup and drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.ipResolver.ClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path,
		log.FieldRequestID, trace.RequestID(r.Context()))
	if isHTMX(r) {
		NewHTMXResponse().
			Status(http.StatusTooManyRequests).
			TriggerErrorNotification("Demasiadas solicitudes, intenta en un momento").
			Write(w)
		return
	}
	writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
}
