// Package server exposes sessions over an HTTP JSON API. Each request names
// its session with the X-Session-Key header issued by /api/connect.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sqlpilot/sqlpilot/pkg/connections"
	"github.com/sqlpilot/sqlpilot/pkg/engine"
	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/presenter"
	"github.com/sqlpilot/sqlpilot/pkg/session"
	"github.com/sqlpilot/sqlpilot/pkg/telemetry"
)

// SessionHeader carries the session key on every session-scoped request
const SessionHeader = "X-Session-Key"

// ConnectionSource looks up saved connections
type ConnectionSource interface {
	Get(ctx context.Context, id string) (connections.Record, error)
}

// Opener opens a session for a connection
type Opener interface {
	Open(ctx context.Context, key string, record connections.Record) (*session.Session, error)
}

// Config holds the listen address
type Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Validate validates the server configuration
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// Server is the HTTP API
type Server struct {
	router      *mux.Router
	config      *Config
	server      *http.Server
	connections ConnectionSource
	opener      Opener
	sessions    session.Store
	startedAt   time.Time
}

// NewServer creates the API server. The session registry is owned by the
// caller.
func NewServer(config *Config, conns ConnectionSource, opener Opener, sessions session.Store) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}

	s := &Server{
		router:      mux.NewRouter(),
		config:      config,
		connections: conns,
		opener:      opener,
		sessions:    sessions,
		startedAt:   time.Now(),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/connect", s.handleConnect).Methods("POST")
	api.HandleFunc("/disconnect", s.handleDisconnect).Methods("POST")
	api.HandleFunc("/query", s.handleQuery).Methods("POST")
	api.HandleFunc("/geo-query", s.handleGeoQuery).Methods("POST")
	api.HandleFunc("/execute", s.handleExecute).Methods("POST")
	api.HandleFunc("/intent", s.handleIntent).Methods("POST")

	conv := api.PathPrefix("/conversation").Subrouter()
	conv.HandleFunc("/history", s.handleHistory).Methods("GET")
	conv.HandleFunc("/export", s.handleExport).Methods("GET")
	conv.HandleFunc("/load", s.handleLoad).Methods("POST")
	conv.HandleFunc("/clear", s.handleClear).Methods("POST")
	conv.HandleFunc("/stats", s.handleStats).Methods("GET")

	s.router.Use(s.tracingMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := asResponseWriter(w)
		telemetry.WithSpan(r.Context(), "http.request", func(ctx context.Context) error {
			next.ServeHTTP(rw, r.WithContext(ctx))
			telemetry.SetAttributes(ctx, attribute.Int("http.status_code", rw.statusCode))
			if rw.statusCode >= http.StatusInternalServerError {
				return errors.Errorf("%s %s returned %d", r.Method, r.URL.Path, rw.statusCode)
			}
			return nil
		},
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
		)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := asResponseWriter(w)

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+SessionHeader)
		w.Header().Set("Access-Control-Expose-Headers", SessionHeader)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func asResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// session resolves the request's session, writing the error response when
// there is none
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	key := r.Header.Get(SessionHeader)
	if key == "" {
		s.writeErrorResponse(r.Context(), w, http.StatusServiceUnavailable,
			"No database connected. Please connect to a database first using /api/connect", nil)
		return nil, false
	}
	sess, ok := s.sessions.Get(key)
	if !ok {
		s.writeErrorResponse(r.Context(), w, http.StatusServiceUnavailable,
			fmt.Sprintf("No session for key %q. Please connect first using /api/connect", key), nil)
		return nil, false
	}
	return sess, true
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, "invalid request body")
	}
	return nil
}

func (s *Server) writeJSONResponse(ctx context.Context, w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(ctx).WithError(err).Error("failed to encode JSON response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) writeErrorResponse(ctx context.Context, w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		logger.G(ctx).WithError(err).Error(message)
	}

	s.writeJSONStatus(ctx, w, statusCode, map[string]any{
		"error":   message,
		"status":  engine.StatusError,
		"code":    statusCode,
		"success": false,
	})
}

// writeJSONStatus writes data with a non-200 status code
func (s *Server) writeJSONStatus(ctx context.Context, w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(ctx).WithError(err).Error("failed to encode error response")
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	presenter.Info(fmt.Sprintf("Starting API server on http://%s", address))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "API server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
