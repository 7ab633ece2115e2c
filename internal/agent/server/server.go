// Package server exposes the agent's HTTP interface to the orchestrator.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/funai-studio/runtime-agent/internal/agent/audit"
	"github.com/funai-studio/runtime-agent/internal/agent/mongo"
	"github.com/funai-studio/runtime-agent/internal/agent/orphans"
	"github.com/funai-studio/runtime-agent/internal/agent/runtime"
	"github.com/funai-studio/runtime-agent/internal/agent/store"
)

// Lifecycle is the container controller.
type Lifecycle interface {
	Deploy(ctx context.Context, req runtime.DeployRequest) (runtime.DeployResult, error)
	Stop(ctx context.Context, appID string) (runtime.StopResult, error)
	Status(ctx context.Context, appID string) (runtime.Status, error)
}

// Cleaner runs one orphan reconciliation pass.
type Cleaner interface {
	RunOnce(ctx context.Context) (orphans.Report, error)
}

// Explorer is the read-only database explorer.
type Explorer interface {
	ListCollections(ctx context.Context, userID, appID string) ([]string, error)
	Find(ctx context.Context, userID, appID string, q mongo.FindQuery) (mongo.FindResult, error)
	FindByID(ctx context.Context, userID, appID, collection, id string) (json.RawMessage, error)
}

// AuditReader serves the audit endpoints.
type AuditReader interface {
	GetAuditLog(ctx context.Context, f store.AuditFilter) ([]store.AuditEntry, error)
	ListCleanupRuns(ctx context.Context, limit int) ([]store.CleanupRun, error)
}

// Options wires a Server. Only Lifecycle is required; endpoints whose
// dependency is nil answer 503.
type Options struct {
	Addr string
	// Token is the shared secret expected in X-Runtime-Token. Empty means
	// the agent is not configured and every protected call fails with 500.
	Token     string
	Lifecycle Lifecycle
	Cleaner   Cleaner
	Explorer  Explorer
	Audit     AuditReader
	Recorder  *audit.Recorder
	// AfterDeploy runs in the background after each successful deploy.
	AfterDeploy func(ctx context.Context)
}

// Server is the agent HTTP server.
type Server struct {
	opts    Options
	handler http.Handler
	server  *http.Server
}

// New creates and configures the server (does not start it).
func New(opts Options) *Server {
	if opts.Recorder == nil {
		opts.Recorder = audit.NewRecorder(nil, nil)
	}
	s := &Server{opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /internal/health", s.handleHealth)

	protected := http.NewServeMux()
	protected.HandleFunc("POST /agent/apps/deploy", s.handleDeploy)
	protected.HandleFunc("POST /agent/apps/stop", s.handleStop)
	protected.HandleFunc("GET /agent/apps/status", s.handleStatus)
	protected.HandleFunc("POST /agent/cleanup-orphaned", s.handleCleanup)
	protected.HandleFunc("GET /agent/cleanup/runs", s.handleCleanupRuns)
	protected.HandleFunc("GET /agent/audit", s.handleAudit)
	protected.HandleFunc("GET /agent/apps/{appId}/mongo/collections", s.handleCollections)
	protected.HandleFunc("POST /agent/apps/{appId}/mongo/find", s.handleFind)
	protected.HandleFunc("GET /agent/apps/{appId}/mongo/doc", s.handleFindByID)
	mux.Handle("/agent/", requireToken(opts.Token, protected))

	s.handler = withTrace(withAccessLog(mux))
	return s
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start begins listening in the background. It returns once the listener is
// established, and shuts the server down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("agent server: listen %s: %w", s.opts.Addr, err)
	}

	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		// Deploys wait on image pulls.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("agent server listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("agent server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop shuts down the HTTP server.
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		slog.Warn("agent server shutdown error", "err", err)
	}
}

// errorResponse is the body of every non-2xx answer.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("agent server: failed to encode JSON response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
