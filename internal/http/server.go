// Package http is the view layer: a JSON API over the tracker service.
// The server registers itself as a model listener so its summary cache is
// invalidated on every committed mutation.
package http

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	applog "registro/internal/log"
	"registro/internal/model"
	"registro/internal/services"
)

const summaryTTL = 5 * time.Minute

type Server struct {
	http.Server
	service     *services.TrackerService
	rateLimiter *rateLimiter

	// Summary cache, invalidated through StateChanged. The generation
	// counter detects mutations that commit while a fill is in flight.
	summaryMu      sync.Mutex
	summary        services.Summary
	summaryExpires time.Time
	summaryValid   bool
	summaryGen     uint64
}

var _ model.Listener = (*Server)(nil)

// NewServer configures routes and registers the server as a listener on
// the service's model, returning a ready-to-run http.Server.
func NewServer(addr string, service *services.TrackerService) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		service:     service,
		rateLimiter: newRateLimiter(60, time.Minute),
	}

	service.Model().Register(s)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)
	mux.HandleFunc("GET /transactions", s.withMiddleware(s.handleListTransactions))
	mux.HandleFunc("POST /transactions", s.withMiddleware(s.handleCreateTransaction))
	mux.HandleFunc("DELETE /transactions/{id}", s.withMiddleware(s.handleDeleteTransaction))
	mux.HandleFunc("POST /filter", s.withMiddleware(s.handleApplyFilter))
	mux.HandleFunc("DELETE /filter", s.withMiddleware(s.handleClearFilter))
	mux.HandleFunc("GET /summary", s.withMiddleware(s.handleSummary))

	return s
}

// StateChanged implements model.Listener. It only touches the cache: the
// notification runs inside the mutation path, so calling back into the
// service here would deadlock.
func (s *Server) StateChanged(*model.Store) {
	s.summaryMu.Lock()
	s.summaryValid = false
	s.summaryGen++
	s.summaryMu.Unlock()
}

func (s *Server) cachedSummary() services.Summary {
	s.summaryMu.Lock()
	if s.summaryValid && time.Now().Before(s.summaryExpires) {
		sum := s.summary
		s.summaryMu.Unlock()
		return sum
	}
	gen := s.summaryGen
	s.summaryMu.Unlock()

	// Compute outside the cache lock; Summarize takes the service mutex.
	sum := s.service.Summarize()
	s.commitSummary(gen, sum)
	return sum
}

// commitSummary stores a computed summary unless a mutation invalidated
// the cache while the summary was being computed. It reports whether the
// fill was kept; a dropped fill leaves the cache invalid so the next read
// recomputes.
func (s *Server) commitSummary(gen uint64, sum services.Summary) bool {
	s.summaryMu.Lock()
	defer s.summaryMu.Unlock()
	if gen != s.summaryGen {
		return false
	}
	s.summary = sum
	s.summaryExpires = time.Now().Add(summaryTTL)
	s.summaryValid = true
	return true
}

// rateLimiter is a fixed-window per-client limiter. Stale entries are
// pruned inline on the window boundary, so no cleanup goroutine is needed.
type rateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	clients map[string]*clientWindow
}

type clientWindow struct {
	start    time.Time
	requests int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:   limit,
		window:  window,
		clients: make(map[string]*clientWindow),
	}
}

func (rl *rateLimiter) allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[clientIP]
	if !exists || now.Sub(client.start) > rl.window {
		rl.prune(now)
		rl.clients[clientIP] = &clientWindow{start: now, requests: 1}
		return true
	}

	client.requests++
	return client.requests <= rl.limit
}

func (rl *rateLimiter) prune(now time.Time) {
	for ip, client := range rl.clients {
		if now.Sub(client.start) > 2*rl.window {
			delete(rl.clients, ip)
		}
	}
}

// withMiddleware adds security headers, rate limiting and request logging.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		clientIP := r.Header.Get("X-Forwarded-For")
		if clientIP == "" {
			clientIP = r.Header.Get("X-Real-IP")
		}
		if clientIP == "" {
			clientIP = r.RemoteAddr
		}

		requestID := generateRequestID()

		slog.Info("Request started",
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldClientIP, clientIP)

		// Rate limit mutations only; reads are served from memory.
		if r.Method != http.MethodGet && !s.rateLimiter.allow(clientIP) {
			slog.Warn("Rate limit exceeded",
				applog.FieldRequestID, requestID,
				applog.FieldClientIP, clientIP,
				applog.FieldMethod, r.Method)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.Info("Request completed",
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldStatusCode, rw.statusCode,
			applog.FieldDuration, time.Since(start).Milliseconds())
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID creates a unique request ID for tracing
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
