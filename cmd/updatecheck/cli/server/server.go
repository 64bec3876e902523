// Package server is an HTTP version service answering the version check wire
// protocol from a release manifest.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/entireio/updatecheck/cmd/updatecheck/cli/logging"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/manifest"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/metrics"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/versioncheck"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes.
const (
	CheckPath   = "/api/version/check"
	LatestPath  = "/api/version/latest"
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"
)

const (
	maxRequestBytes       = 64 << 10
	defaultRequestTimeout = 10 * time.Second
	shutdownTimeout       = 5 * time.Second
)

// ManifestProvider returns the manifest to answer from. *manifest.Source
// reloads it from disk when the file changes.
type ManifestProvider interface {
	Manifest() (*manifest.Manifest, error)
}

// Server routes version service requests.
type Server struct {
	manifests      ManifestProvider
	metrics        *metrics.Metrics
	now            func() time.Time
	requestTimeout time.Duration
	router         chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics counts requests and mounts /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock overrides time.Now for checked_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithRequestTimeout bounds each request. Zero keeps the default.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// New builds a server answering from manifests.
func New(manifests ManifestProvider, opts ...Option) *Server {
	s := &Server{
		manifests:      manifests,
		now:            time.Now,
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))

	r.Get(HealthPath, s.handleHealth)
	r.Route("/api/version", func(r chi.Router) {
		r.Post("/check", s.handleCheck)
		r.Get("/latest", s.handleLatest)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, MetricsPath, s.metrics.Handler())
	}
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully. ready, if non-nil, receives the bound address once listening.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready chan<- string) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ctx = logging.WithComponent(ctx, "server")
	logging.Info(ctx, "version service listening", slog.String("addr", ln.Addr().String()))
	if ready != nil {
		ready <- ln.Addr().String()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	logging.Info(ctx, "version service stopped")
	return nil
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req versioncheck.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		s.count("", metrics.OutcomeBadRequest)
		respondWithJSON(w, http.StatusBadRequest, versioncheck.Failure(req, "Invalid request body"))
		return
	}
	if req.Platform == "" {
		req.Platform = detectPlatform(r)
	}

	m, err := s.manifests.Manifest()
	if err != nil {
		s.manifestUnavailable(r.Context(), err)
		s.count(string(req.Platform), metrics.OutcomeFailure)
		// A non-2xx status makes clients fall back to their cache.
		respondWithJSON(w, http.StatusServiceUnavailable, versioncheck.Failure(req, "Version data unavailable"))
		return
	}

	res := m.Evaluate(req, s.now())
	s.count(string(req.Platform), metrics.OutcomeOf(res))
	logging.Debug(logging.WithPlatform(r.Context(), string(req.Platform)), "version check answered",
		slog.String("current_version", req.CurrentVersion),
		slog.Bool("update_available", res.UpdateAvailable),
		slog.Bool("success", res.Success),
	)
	respondWithJSON(w, http.StatusOK, res)
}

// latestResponse is the body of GET /api/version/latest.
type latestResponse struct {
	Success  bool   `json:"success"`
	Platform string `json:"platform"`
	manifest.Release
	ReleaseNotes *versioncheck.ReleaseNotes `json:"release_notes,omitempty"`
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("platform")
	if raw == "" {
		raw = string(detectPlatform(r))
	}
	platform, err := versioncheck.ParsePlatform(raw)
	if err != nil {
		s.count(raw, metrics.OutcomeBadRequest)
		respondWithJSON(w, http.StatusBadRequest, versioncheck.Result{Platform: raw, Error: manifest.ErrMsgInvalidPlatform})
		return
	}

	m, err := s.manifests.Manifest()
	if err != nil {
		s.manifestUnavailable(r.Context(), err)
		respondWithJSON(w, http.StatusServiceUnavailable, versioncheck.Result{Platform: raw, Error: "Version data unavailable"})
		return
	}

	rel, ok := m.Latest(platform)
	if !ok {
		respondWithJSON(w, http.StatusNotFound, versioncheck.Result{Platform: raw, Error: "No version found"})
		return
	}
	respondWithJSON(w, http.StatusOK, latestResponse{
		Success:      true,
		Platform:     string(platform),
		Release:      rel,
		ReleaseNotes: rel.ReleaseNotes.Wire(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.manifests.Manifest(); err != nil {
		s.manifestUnavailable(r.Context(), err)
		respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) manifestUnavailable(ctx context.Context, err error) {
	logging.Error(logging.WithComponent(ctx, "server"), "manifest unavailable", slog.String("error", err.Error()))
}

func (s *Server) count(platform, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveServerRequest(platform, outcome)
	}
}

// detectPlatform guesses the platform from the User-Agent for clients that
// leave the field out.
func detectPlatform(r *http.Request) versioncheck.Platform {
	ua := strings.ToLower(r.UserAgent())
	switch {
	case strings.Contains(ua, "android"), strings.Contains(ua, "okhttp"), strings.Contains(ua, "dalvik"):
		return versioncheck.PlatformAndroid
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ios"), strings.Contains(ua, "cfnetwork"):
		return versioncheck.PlatformIOS
	default:
		return ""
	}
}

func respondWithJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		ctx := logging.WithComponent(r.Context(), "server")
		ctx = logging.WithCheckID(ctx, middleware.GetReqID(r.Context()))
		next.ServeHTTP(ww, r.WithContext(ctx))

		logging.Debug(ctx, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}
