package http

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"billed/internal/cache"
	"billed/internal/core"
	"billed/internal/log"
	"billed/internal/metrics"
	"billed/internal/middleware/ratelimit"
	"billed/internal/middleware/security"
	"billed/internal/middleware/trace"
	"billed/internal/newbill"
	"billed/internal/store"
	"billed/internal/store/api"
	appweb "billed/web"
)

// StoreClient is the bill store as seen by one logged-in user.
type StoreClient interface {
	store.BillStore
	Me(ctx context.Context) (core.User, error)
}

// Backend authenticates users and hands out per-user store clients.
type Backend interface {
	Login(ctx context.Context, email, password string) (string, error)
	ForToken(token string) StoreClient
}

// APIBackend serves Backend from the bill store REST API.
type APIBackend struct {
	Client *api.Client
}

func (b APIBackend) Login(ctx context.Context, email, password string) (string, error) {
	return b.Client.Login(ctx, email, password)
}

func (b APIBackend) ForToken(token string) StoreClient {
	return b.Client.WithToken(token)
}

type Options struct {
	Addr          string
	Backend       Backend
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	DraftTTL      time.Duration
	MaxDrafts     int
	SecureCookies bool
	// ImageOrigins are allowed as attachment preview sources.
	ImageOrigins []string
	// PreviewWidth is the modal width the eye icon preview is sized against.
	PreviewWidth      int
	RequestsPerMinute int
}

type Server struct {
	http.Server
	templates *template.Template
	backend   Backend
	drafts    *newbill.Drafts
	caches    *cache.Manager
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	logger    *slog.Logger

	secureCookies bool
	previewWidth  int

	shutdownOnce sync.Once
}

func NewServer(opts Options) (*Server, error) {
	if opts.Backend == nil {
		return nil, errors.New("http: backend is required")
	}
	if opts.DraftTTL <= 0 {
		opts.DraftTTL = 30 * time.Minute
	}
	if opts.MaxDrafts <= 0 {
		opts.MaxDrafts = 1000
	}
	if opts.PreviewWidth <= 0 {
		opts.PreviewWidth = 800
	}
	logger := log.Component(opts.Logger, log.ComponentHTTP)

	t, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		templates:     t,
		backend:       opts.Backend,
		drafts:        newbill.NewDrafts(opts.MaxDrafts, opts.DraftTTL, opts.Logger),
		caches:        cache.NewManager(log.Component(opts.Logger, log.ComponentCache)),
		limiter:       ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RequestsPerMinute, Methods: []string{http.MethodPost}}),
		metrics:       opts.Metrics,
		logger:        logger,
		secureCookies: opts.SecureCookies,
		previewWidth:  opts.PreviewWidth,
	}
	s.caches.Register(s.drafts)
	s.caches.StartCleanup(time.Minute)

	mux := http.NewServeMux()
	sub, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("mount static assets: %w", err)
	}
	mux.Handle("GET /static/", security.StaticCache(3600)(http.StripPrefix("/static/", http.FileServer(http.FS(sub)))))
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)
	mux.Handle("GET /metrics", opts.Metrics.Handler())

	mux.HandleFunc("GET /{$}", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET "+core.RouteBills, s.requireSession(s.handleBills))
	mux.HandleFunc("GET /ui/bill-preview", s.requireSession(s.handleBillPreview))
	mux.HandleFunc("GET "+core.RouteNewBill, s.requireSession(s.handleNewBillPage))
	mux.HandleFunc("POST "+core.RouteNewBill, s.requireSession(s.handleSubmitBill))
	mux.HandleFunc("POST /ui/bill/field", s.requireSession(s.handleBillField))
	mux.HandleFunc("POST /ui/bill/attachment", s.requireSession(s.handleBillAttachment))

	detector := security.NewDetector()
	var h http.Handler = mux
	h = s.limiter.Middleware(detector.ClientIP, func(w http.ResponseWriter, r *http.Request) {
		logger.WarnContext(r.Context(), "Rate limit exceeded", log.FieldClientIP, detector.ClientIP(r), log.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, "Trop de requêtes, veuillez réessayer dans une minute.").Write(w)
	})(h)
	h = security.Headers(security.DefaultHeadersConfig(opts.ImageOrigins...))(h)
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

// Shutdown stops background cleanup and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			log.FieldOperation, log.OpRender, "template", name, log.FieldError, err.Error())
	}
}
