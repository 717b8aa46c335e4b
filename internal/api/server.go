// Package api exposes the remote-action service over HTTP: submit an
// action, watch its job, browse the catalogs and query the audit trail.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/audit"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/clubos"
	"github.com/clubhousegolfcanada/ClubOSV2-sub016/internal/registry"
)

const (
	// Request body cap. Submit bodies are a few hundred bytes; anything
	// near the cap is not a legitimate client.
	maxRequestBody = 64 * 1024
	maxJobIDLength = 128
)

// Dispatcher is the slice of the dispatch pipeline the API serves.
type Dispatcher interface {
	Submit(ctx context.Context, req clubos.ActionRequest) (clubos.Job, error)
	Status(ctx context.Context, jobID string) (clubos.Job, error)
	Jobs() []clubos.Job
}

// AuditLog is the slice of the audit logger the API serves.
type AuditLog interface {
	Records(filter audit.Filter) []clubos.AuditRecord
	Size() int
}

// Options wires a Server. An empty APIKey disables authentication.
type Options struct {
	Dispatcher Dispatcher
	Actions    *registry.Actions
	Devices    *registry.Devices
	Audit      AuditLog
	APIKey     string
	Mode       clubos.Mode
}

// Server handles the HTTP surface. Create one with NewServer and mount
// Router on an http.Server.
type Server struct {
	dispatcher Dispatcher
	actions    *registry.Actions
	devices    *registry.Devices
	audit      AuditLog
	apiKey     string
	mode       clubos.Mode
	startedAt  time.Time

	statsMu      sync.RWMutex
	requestCount int
	errorCount   int
}

// NewServer builds the HTTP layer over an already-wired dispatcher.
func NewServer(opts Options) *Server {
	return &Server{
		dispatcher: opts.Dispatcher,
		actions:    opts.Actions,
		devices:    opts.Devices,
		audit:      opts.Audit,
		apiKey:     opts.APIKey,
		mode:       opts.Mode,
		startedAt:  time.Now(),
	}
}

// Router returns the full route table. /api/v1 routes sit behind the API
// key check; /health and /metrics stay open for probes and scrapers.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logging)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.requireAPIKey)
	v1.HandleFunc("/actions", s.handleSubmit).Methods(http.MethodPost)
	v1.HandleFunc("/actions", s.handleActionCatalog).Methods(http.MethodGet)
	v1.HandleFunc("/jobs", s.handleJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{jobID}", s.handleJobStatus).Methods(http.MethodGet)
	v1.HandleFunc("/devices", s.handleDevices).Methods(http.MethodGet)
	v1.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)
	return r
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Security: Add comprehensive security headers
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")

		start := time.Now()
		next.ServeHTTP(w, r)
		duration := time.Since(start)

		if duration > time.Second {
			log.Printf("[WARN] Slow request: %s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, duration)
		} else {
			log.Printf("[DEBUG] %s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, duration)
		}
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			// Security: Don't accept API key from query params (exposes in logs)
			if !constantTimeCompare(r.Header.Get("X-API-Key"), s.apiKey) {
				s.incrementErrorCount()
				log.Printf("[WARN] Unauthorized request from %s to %s", r.RemoteAddr, r.URL.Path)
				s.writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v with the headers set before the status line goes out.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WARN] Error writing response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// fail translates a pipeline error into its HTTP shape.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.incrementErrorCount()
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[ERROR] %s %s from %s: %v", r.Method, r.URL.Path, r.RemoteAddr, err)
	} else {
		log.Printf("[WARN] %s %s from %s rejected: %v", r.Method, r.URL.Path, r.RemoteAddr, err)
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) incrementRequestCount() {
	s.statsMu.Lock()
	s.requestCount++
	s.statsMu.Unlock()
}

func (s *Server) incrementErrorCount() {
	s.statsMu.Lock()
	s.errorCount++
	s.statsMu.Unlock()
}

// constantTimeCompare performs constant-time string comparison to prevent timing attacks.
func constantTimeCompare(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
