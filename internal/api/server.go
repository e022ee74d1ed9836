package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autorename/internal/admission"
	"autorename/internal/dispatch"
	"autorename/internal/ledger"
	"autorename/internal/logging"
	"autorename/internal/metrics"
	"autorename/internal/services"
	"autorename/internal/store"
	"autorename/internal/transport"
)

// PreferenceStore reads and updates user preferences.
type PreferenceStore interface {
	Preferences(ctx context.Context, userID int64) (store.Preferences, error)
	SetTemplate(ctx context.Context, userID int64, template string) error
	SetMediaPreference(ctx context.Context, userID int64, kind string) error
	SetMetadataEnabled(ctx context.Context, userID int64, enabled bool) error
	SetMetadataField(ctx context.Context, userID int64, field, value string) error
	SetCaption(ctx context.Context, userID int64, caption string) error
	SetThumbnail(ctx context.Context, userID int64, ref string) error
}

// Ingester stores an uploaded body and returns its file ID and size.
type Ingester interface {
	Ingest(r io.Reader) (string, int64, error)
}

// Dispatcher accepts files and sequence commands.
type Dispatcher interface {
	HandleFile(ctx context.Context, ev transport.FileEvent) (dispatch.Route, error)
	StartSequence(ctx context.Context, userID int64, chat transport.ChatID) error
	EndSequence(ctx context.Context, userID int64, chat transport.ChatID) (int, error)
}

// Limits reports per-user concurrency.
type Limits interface {
	Role(userID int64, premium bool) admission.Role
	CapacityFor(userID int64, premium bool) int
	InFlight(userID int64) int
}

// Options configures a Server.
type Options struct {
	Bind              string
	RequestsPerMinute int
	MaxUploadBytes    int64
	// Token, when set, is required as a bearer token on /v1 routes.
	Token string

	Preferences PreferenceStore
	Ledger      ledger.Ledger
	Limits      Limits
	Ingester    Ingester
	Dispatcher  Dispatcher
	// Ready backs /healthz; nil reports healthy.
	Ready func(ctx context.Context) error

	Logger *slog.Logger
	Now    func() time.Time
}

// Server is the HTTP intake surface.
type Server struct {
	opts     Options
	logger   *slog.Logger
	validate *validator.Validate
	router   chi.Router

	listener net.Listener
	server   *http.Server
}

// New builds a Server and its router. It does not listen.
func New(opts Options) (*Server, error) {
	if opts.Preferences == nil || opts.Ledger == nil || opts.Ingester == nil || opts.Dispatcher == nil {
		return nil, fmt.Errorf("api: preferences, ledger, ingester, and dispatcher are required: %w", services.ErrConfiguration)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "api-server"),
		validate: validator.New(),
	}
	s.router = s.routes()
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.correlate)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/users/{userID}", func(r chi.Router) {
		if s.opts.RequestsPerMinute > 0 {
			r.Use(rateLimit(s.opts.RequestsPerMinute, time.Minute))
		}
		r.Use(requireToken(s.opts.Token))
		r.Post("/files", s.handleUpload)
		r.Post("/sequence/start", s.handleSequenceStart)
		r.Post("/sequence/end", s.handleSequenceEnd)
		r.Get("/preferences", s.handleGetPreferences)
		r.Patch("/preferences", s.handlePatchPreferences)
		r.Get("/account", s.handleAccount)
	})
	return r
}

// Listen binds the configured address. Addr is valid afterwards.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	bind := strings.TrimSpace(s.opts.Bind)
	if bind == "" {
		return fmt.Errorf("api listen: empty bind address: %w", services.ErrConfiguration)
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve blocks serving requests until ctx is cancelled, then shuts down
// gracefully. It listens first when Listen has not been called.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(s.listener)
	}()
	s.logger.Info("api server listening", logging.String("address", s.Addr()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api serve: %w", err)
	}
	return nil
}

// correlate copies the chi request ID into the services context so job
// logs carry it.
func (s *Server) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = services.WithRequestID(ctx, id)
			w.Header().Set("X-Request-Id", id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(route, status)
		logging.WithContext(r.Context(), s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("route", route),
			logging.Int("status", status),
			logging.Duration("elapsed", time.Since(start)),
		)
	})
}

// rateLimit limits each client IP to limit requests per window.
func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error:  "rate_limit_exceeded",
				Detail: "Too many requests. Please try again later.",
			})
		}),
	)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Warn("api request failed",
			logging.String("route", r.URL.Path),
			logging.Int("status", status),
			logging.String("error", message),
		)
	}
	writeJSON(w, status, ErrorResponse{Error: message})
}
