// Package adminhttp serves the device list and the scan/bond actions over
// HTTP and pushes live updates to WebSocket clients.
package adminhttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"slices"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/unrolled/secure"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/bavix/btscan/internal/auth"
	"github.com/bavix/btscan/internal/config"
	"github.com/bavix/btscan/internal/devices"
	"github.com/bavix/btscan/internal/session"
	"github.com/bavix/btscan/internal/version"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

// Controller is the session surface the HTTP API drives.
type Controller interface {
	Snapshot() []devices.Record
	Lookup(address string) (devices.Record, bool)
	Scanning() bool
	Enabled(ctx context.Context) (bool, error)
	Scan(ctx context.Context) (session.ScanOutcome, error)
	SelectDevice(ctx context.Context, address string, confirm bool) (session.Action, error)
	RequestBond(ctx context.Context, address string) error
	RequestUnbond(ctx context.Context, address string) error
}

type Server struct {
	cfg         config.HTTPConfig
	backend     string
	mux         *mux.Router
	ctl         Controller
	hub         *Hub
	auth        *auth.Service
	scanLimiter *rate.Limiter
	startTime   time.Time
	version     string
	buildTime   string
}

// NewServer builds the admin server. hub may be shared with the session as
// its presenter and notifier. State-changing endpoints require a bearer
// token signed with http.auth_secret; without a secret they are refused.
func NewServer(cfg *config.Config, ctl Controller, hub *Hub) *Server {
	if hub == nil {
		hub = NewHub()
	}

	// Validate rejects a malformed secret before we get here.
	key, _ := cfg.HTTP.SecretKey()

	s := &Server{
		cfg:       cfg.HTTP,
		backend:   cfg.Bluetooth.Backend,
		mux:       mux.NewRouter(),
		ctl:       ctl,
		hub:       hub,
		auth:      auth.NewService(key),
		startTime: time.Now(),
		version:   version.GetVersion(),
		buildTime: version.GetBuildTime(),
	}

	if n := cfg.HTTP.ScanRatePerMinute; n > 0 {
		s.scanLimiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
	}

	s.routes()

	return s
}

// SetVersion allows cmd layer to propagate version/build time.
func (s *Server) SetVersion(ver, build string) {
	if ver != "" {
		s.version = ver
	}

	if build != "" {
		s.buildTime = build
	}
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) routes() {
	s.mux.Use(s.recordMetrics)

	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/devices", s.handleDevices).Methods(http.MethodGet)
	api.HandleFunc("/devices/{address}", s.handleDevice).Methods(http.MethodGet)

	protected := auth.RequireToken(s.auth)

	api.Handle("/devices/{address}/select", protected(http.HandlerFunc(s.handleSelect))).Methods(http.MethodPost)
	api.Handle("/devices/{address}/bond", protected(http.HandlerFunc(s.handleBond))).Methods(http.MethodPost)
	api.Handle("/devices/{address}/bond", protected(http.HandlerFunc(s.handleUnbond))).Methods(http.MethodDelete)

	api.Handle("/scan", protected(rateLimited(s.scanLimiter)(http.HandlerFunc(s.handleScan)))).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	s.mux.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns the full handler tree: the middleware chain, with /ws
// routed around it so the upgrade keeps its http.Hijacker.
func (s *Server) Handler(ctx context.Context) http.Handler {
	handler := s.buildMiddlewareChain(ctx)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			s.hub.ServeHTTP(w, r)

			return
		}

		handler.ServeHTTP(w, r)
	})
}

// Start listens on the configured address and serves until ctx is done.
// A listen failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return err
	}

	srv := s.createServer(ctx, s.Handler(ctx))

	zerolog.Ctx(ctx).Info().Str("addr", ln.Addr().String()).Msg("http listen")

	if !s.auth.Enabled() {
		zerolog.Ctx(ctx).Warn().Msg("http.auth_secret is not set, scan and bond endpoints are disabled")
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("http server stopped")
		}
	}()

	return nil
}

func (s *Server) buildMiddlewareChain(ctx context.Context) http.Handler {
	logger := zerolog.Ctx(ctx)

	var h http.Handler = s.mux

	// An empty origin list means no cross-origin access at all.
	origins := s.cfg.CORSOrigins
	c := cors.New(cors.Options{
		AllowOriginFunc: func(origin string) bool { return slices.Contains(origins, origin) },
		AllowedMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders:  []string{"Authorization", "Content-Type"},
	})
	h = c.Handler(h)

	sec := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'; connect-src 'self' ws: wss:",
	})
	h = sec.Handler(h)

	h = hlog.NewHandler(*logger)(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		logger.Info().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("http")
	})(h)
	h = chimw.RequestID(h)
	h = chimw.RealIP(h)
	// Recoverer last to catch panics
	h = chimw.Recoverer(h)

	return otelhttp.NewHandler(h, "adminhttp")
}

func (s *Server) createServer(ctx context.Context, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
	}
	srv.BaseContext = func(_ net.Listener) context.Context { return ctx }

	go func() {
		<-ctx.Done()
		// graceful shutdown with timeout, then force close
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(shutdownCtx)
		_ = srv.Close()
	}()

	return srv
}
