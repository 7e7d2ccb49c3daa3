package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Arvo-AI/aurora-sub002/internal/archive"
	"github.com/Arvo-AI/aurora-sub002/internal/incident"
	"github.com/Arvo-AI/aurora-sub002/internal/ingest"
	"github.com/Arvo-AI/aurora-sub002/internal/topology"
)

const maxSnapshotBytes = 8 << 20

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Config tunes the HTTP layer.
type Config struct {
	// IngestRate is the sustained snapshot submissions per second; IngestBurst
	// the bucket size.
	IngestRate  float64
	IngestBurst int

	// Archive, when set, has its counters reported by /health.
	Archive ArchiveReporter
}

// ArchiveReporter exposes snapshot archive counters. *archive.Archiver
// satisfies it.
type ArchiveReporter interface {
	Stats() archive.Stats
}

// Server is the HTTP API of the topology service.
type Server struct {
	manager       *incident.Manager
	mux           *http.ServeMux
	server        *http.Server
	ingestLimiter *rate.Limiter
	ingestRate    float64
	archive       ArchiveReporter
	upgrader      websocket.Upgrader
	logger        *slog.Logger

	// ctx outlives individual requests; background work started by a
	// handler (feed tailers, websocket loops) stops when it is cancelled.
	ctx    context.Context
	cancel context.CancelFunc

	// Feed watching
	activeTailer *ingest.Tailer
	tailerMu     sync.Mutex
}

// NewServer creates a Server backed by manager.
func NewServer(manager *incident.Manager, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IngestRate <= 0 {
		cfg.IngestRate = 50
	}
	if cfg.IngestBurst <= 0 {
		cfg.IngestBurst = int(cfg.IngestRate * 4)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		manager:    manager,
		mux:        http.NewServeMux(),
		ingestRate: cfg.IngestRate,
		archive:    cfg.Archive,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     allowedOrigin,
	}

	// Per-server limiter, not per-IP.
	s.ingestLimiter = rate.NewLimiter(rate.Limit(cfg.IngestRate), cfg.IngestBurst)

	return s
}

// RegisterRoutes wires up every API endpoint.
func (s *Server) RegisterRoutes() {
	// -- Incident topology ------------------------------------------------
	s.mux.HandleFunc("POST /api/incidents/{id}/snapshots",
		s.withRateLimit(s.ingestLimiter, s.handleSubmitSnapshot))
	s.mux.HandleFunc("GET /api/incidents", s.handleListIncidents)
	s.mux.HandleFunc("GET /api/incidents/{id}/topology", s.handleTopology)
	s.mux.HandleFunc("GET /api/incidents/{id}/topology/dot", s.handleTopologyDOT)
	s.mux.HandleFunc("GET /api/incidents/{id}/snapshots", s.handleHistory)
	s.mux.HandleFunc("GET /api/incidents/{id}/snapshots/{version}", s.handleSnapshotVersion)
	s.mux.HandleFunc("DELETE /api/incidents/{id}", s.handleClearIncident)

	// -- Stateless layout -------------------------------------------------
	s.mux.HandleFunc("POST /api/layout", s.handleLayout)

	// -- Streams ----------------------------------------------------------
	s.mux.HandleFunc("GET /api/events", s.handleSSE)
	s.mux.HandleFunc("GET /api/incidents/{id}/stream", s.handleStream)

	// -- Feed watching ----------------------------------------------------
	s.mux.HandleFunc("POST /api/ingest/watch", s.handleWatchStart)
	s.mux.HandleFunc("DELETE /api/ingest/watch", s.handleWatchStop)
	s.mux.HandleFunc("GET /api/ingest/watch", s.handleWatchStatus)

	// -- Health check -----------------------------------------------------
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the fully-wrapped http.Handler (middleware chain + mux).
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.recoveryMiddleware(h)
	h = s.loggingMiddleware(h)
	h = corsMiddleware(h)
	return h
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return s.ctx },
	}
	s.logger.Info("http server listening", "addr", addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the feed tailer, ends open streams and gracefully shuts
// down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopActiveTailer()
	s.cancel()

	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.manager.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "degraded",
			"service": "aurora-topology",
			"error":   err.Error(),
		})
		return
	}
	body := map[string]interface{}{
		"status":        "ok",
		"service":       "aurora-topology",
		"subscribers":   s.manager.Events().Count(),
		"cachedLayouts": s.manager.CachedLayouts(),
	}
	if s.archive != nil {
		body["archive"] = s.archive.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

// ---------------------------------------------------------------------------
// JSON response helpers
// ---------------------------------------------------------------------------

// writeJSON writes an arbitrary value as JSON with the given HTTP status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a standardised JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}

// writeManagerError maps incident and topology errors onto status codes.
// Anything unrecognised is a 503 when the store is down and a 500 otherwise.
func (s *Server) writeManagerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, topology.ErrInvalidSnapshot):
		writeError(w, http.StatusBadRequest, "INVALID_SNAPSHOT", err.Error())
	case errors.Is(err, incident.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, incident.ErrStaleSnapshot):
		writeError(w, http.StatusConflict, "STALE_SNAPSHOT", err.Error())
	default:
		if pingErr := s.manager.Ping(r.Context()); pingErr != nil {
			writeError(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", err.Error())
			return
		}
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// allowedOrigin accepts same-host requests and any localhost origin.
func allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")
}

// corsMiddleware allows requests from local console dev servers.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowedOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseRecorder captures the status code written by downstream handlers.
// It forwards Flush for SSE and Hijack for websocket upgrades.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher by delegating to the underlying writer.
func (rr *responseRecorder) Flush() {
	if f, ok := rr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker by delegating to the underlying writer.
func (rr *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("api: response writer does not support hijacking")
	}
	rr.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// loggingMiddleware logs method, path, duration and status code.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware catches panics and returns a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					"error", err,
					"stack", string(debug.Stack()),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, `{"error":"internal server error","code":"INTERNAL_ERROR"}`)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withRateLimit wraps a handler with a token-bucket rate limiter.
// Returns 429 when the limiter is exhausted.
func (s *Server) withRateLimit(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%g", s.ingestRate))
			w.Header().Set("X-RateLimit-Remaining",
				fmt.Sprintf("%d", int(limiter.Tokens())))
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":"rate limit exceeded","code":"RATE_LIMITED","retry_after_ms":1000}`)
			s.logger.Warn("rate limit exceeded",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			return
		}
		next(w, r)
	}
}
