package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eden-portal/eden/internal/domain"
)

// DefaultMaxDocumentBytes bounds a single document upload; slices carry
// base64 images.
const DefaultMaxDocumentBytes = 32 << 20

// ServerConfig configures the mirror server.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	RateLimit      int   // document requests per IP per minute, 0 disables
	MaxDocument    int64 // bytes per document (default DefaultMaxDocumentBytes)
	Logger         *slog.Logger
}

// DefaultServerConfig returns production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           "127.0.0.1:8090",
		AllowedOrigins: []string{"*"},
		RateLimit:      600,
		MaxDocument:    DefaultMaxDocumentBytes,
	}
}

// Server exposes a document store over HTTP and websocket.
type Server struct {
	cfg      ServerConfig
	store    domain.DocumentStore
	hub      *Hub
	router   chi.Router
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a mirror server over store.
func NewServer(store domain.DocumentStore, cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxDocument <= 0 {
		cfg.MaxDocument = DefaultMaxDocumentBytes
	}
	logger := cfg.Logger.With("component", "mirror-server")
	s := &Server{
		cfg:    cfg,
		store:  store,
		hub:    NewHub(store, logger),
		router: chi.NewRouter(),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LogRequests(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleSocket)
	r.Method("GET", "/metrics", promhttp.Handler())

	r.Group(func(dr chi.Router) {
		if s.cfg.RateLimit > 0 {
			dr.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
		}
		dr.Get("/docs", s.handleList)
		dr.Get("/docs/{key}", s.handleGet)
		dr.Put("/docs/{key}", s.handlePut)
	})
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// ListenAndServe runs until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mirror server starting", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("mirror server shutting down")
		// Shutdown does not track hijacked websocket connections.
		s.hub.Disconnect()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.Clients(),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ListDocuments(r.Context())
	if err != nil {
		s.logger.Error("list documents failed", "err", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, ok, err := s.store.GetDocument(r.Context(), key)
	if err != nil {
		s.logger.Error("get document failed", "key", key, "err", err)
		writeError(w, http.StatusInternalServerError, "read failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, Document{Value: value})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var doc Document
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxDocument)).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "body must be {\"value\": <json>}")
		return
	}
	if len(doc.Value) == 0 {
		writeError(w, http.StatusBadRequest, "value is required")
		return
	}

	if err := s.hub.Put(r.Context(), key, doc.Value, r.Header.Get("X-Mirror-Origin")); err != nil {
		s.logger.Error("put document failed", "key", key, "err", err)
		writeError(w, http.StatusInternalServerError, "write failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxDocument)
	// Hijacked connections outlive the request context.
	s.hub.Serve(context.WithoutCancel(r.Context()), conn)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// LogRequests logs every request with its status and duration.
func LogRequests(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			logger.Info("handled",
				"method", r.Method,
				"path", r.URL.Path,
				"status", m.Code,
				"duration", m.Duration,
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
