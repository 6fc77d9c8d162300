package frontdoor

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog"

	"bwdash/services/dashboard/internal/metrics"
	"bwdash/services/dashboard/internal/snapshot"
)

const (
	DefaultServerName = "V2RayZone Dash"
	DefaultVersion    = "1.0"

	defaultStaleAfter   = 10 * time.Second
	defaultStaticMaxAge = 300 * time.Second
)

// Store is the snapshot behaviour the front door depends on.
type Store interface {
	IsStale(threshold time.Duration) bool
	Read() ([]byte, error)
	Regenerate(ctx context.Context, trigger string) (snapshot.Result, error)
}

// Config controls the dashboard HTTP surface.
type Config struct {
	InstallDir   string
	StaleAfter   time.Duration
	StaticMaxAge time.Duration
	ServerName   string
	Version      string
}

// Server answers the dashboard API and static asset routes.
type Server struct {
	cfg     Config
	store   Store
	assets  fs.FS
	logger  zerolog.Logger
	metrics *metrics.Metrics
	uptime  func() (time.Duration, error)
	now     func() time.Time
}

// Option customises a Server.
type Option func(*Server)

// WithUptime replaces the host uptime source.
func WithUptime(fn func() (time.Duration, error)) Option {
	return func(s *Server) {
		if fn != nil {
			s.uptime = fn
		}
	}
}

// WithClock replaces the clock used for response timestamps.
func WithClock(fn func() time.Time) Option {
	return func(s *Server) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New validates cfg and wires the server. m may be nil.
func New(cfg Config, store Store, logger zerolog.Logger, m *metrics.Metrics, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.InstallDir == "" {
		return nil, errors.New("install directory is required")
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.StaticMaxAge <= 0 {
		cfg.StaticMaxAge = defaultStaticMaxAge
	}
	if cfg.ServerName == "" {
		cfg.ServerName = DefaultServerName
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}

	s := &Server{
		cfg:     cfg,
		store:   store,
		assets:  os.DirFS(cfg.InstallDir),
		logger:  logger.With().Str("component", "frontdoor").Logger(),
		metrics: m,
		uptime:  HostUptime,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Routes builds the router. Only the listed paths exist; everything else is 404.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "File not found", http.StatusNotFound)
	})

	r.Get("/api/stats", s.handleStats)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/refresh", s.handleRefresh)

	index := gzhttp.GzipHandler(s.staticHandler("index.html", "text/html; charset=utf-8"))
	r.Method(http.MethodGet, "/", index)
	r.Method(http.MethodGet, "/index.html", index)
	r.Method(http.MethodGet, "/style.css", gzhttp.GzipHandler(s.staticHandler("style.css", "text/css; charset=utf-8")))
	r.Method(http.MethodGet, "/script.js", gzhttp.GzipHandler(s.staticHandler("script.js", "application/javascript; charset=utf-8")))

	return r
}
