// Package api serves the bill store REST API used by the web front.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"billed/internal/auth"
	"billed/internal/log"
	"billed/internal/metrics"
	"billed/internal/middleware/ratelimit"
	"billed/internal/middleware/security"
	"billed/internal/middleware/trace"
	"billed/internal/services"
	"billed/internal/storage"
)

type Options struct {
	Addr    string
	Bills   *services.BillService
	Blobs   *storage.BlobStore
	Tokens  *auth.TokenManager
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// PublicBaseURL prefixes the fileUrl of stored attachments.
	PublicBaseURL     string
	MaxUploadBytes    int64
	RequestsPerMinute int
}

type Server struct {
	http.Server
	bills   *services.BillService
	blobs   *storage.BlobStore
	tokens  *auth.TokenManager
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger

	publicBaseURL  string
	maxUploadBytes int64

	shutdownOnce sync.Once
}

func NewServer(opts Options) (*Server, error) {
	switch {
	case opts.Bills == nil:
		return nil, errors.New("api: bill service is required")
	case opts.Blobs == nil:
		return nil, errors.New("api: blob store is required")
	case opts.Tokens == nil:
		return nil, errors.New("api: token manager is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	logger := log.Component(opts.Logger, log.ComponentAPI)

	s := &Server{
		bills:          opts.Bills,
		blobs:          opts.Blobs,
		tokens:         opts.Tokens,
		limiter:        ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RequestsPerMinute, Methods: []string{http.MethodPost, http.MethodPatch}}),
		metrics:        opts.Metrics,
		logger:         logger,
		publicBaseURL:  strings.TrimRight(opts.PublicBaseURL, "/"),
		maxUploadBytes: opts.MaxUploadBytes,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", opts.Metrics.Handler())

	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("GET /users/me", s.requireToken(s.handleMe))
	mux.HandleFunc("GET /bills", s.requireToken(s.handleListBills))
	mux.HandleFunc("POST /bills", s.requireToken(s.limitPerUser(s.handleCreateBill)))
	mux.HandleFunc("PATCH /bills/{id}", s.requireToken(s.limitPerUser(s.handleUpdateBill)))
	mux.HandleFunc("GET /files/{name}", s.handleFile)

	detector := security.NewDetector()
	var h http.Handler = mux
	h = security.Headers(security.APIHeadersConfig())(h)
	h = detector.Middleware(opts.Logger)(h)
	h = trace.NewMiddleware(detector.ClientIP, opts.Metrics).Middleware(h)
	h = log.Middleware(logger, nil)(h)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

// limitPerUser throttles writes per token user. The web front forwards
// every employee from the same address, so the address is no key here.
func (s *Server) limitPerUser(next http.HandlerFunc) http.HandlerFunc {
	limited := s.limiter.Middleware(func(r *http.Request) string {
		return userFrom(r.Context()).Email
	}, func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldEmail, userFrom(r.Context()).Email, log.FieldPath, r.URL.Path)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	})(next)
	return limited.ServeHTTP
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.bills.Ready(ctx); err != nil {
		log.FromContext(ctx).WarnContext(ctx, "Readiness probe failed", log.FieldError, err.Error())
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
