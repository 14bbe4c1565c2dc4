// Package api implements the HTTP API: the streaming chat endpoint,
// conversation management, and operational introspection.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/grantdesk/internal/agent"
	"github.com/nugget/grantdesk/internal/buildinfo"
	"github.com/nugget/grantdesk/internal/connwatch"
	"github.com/nugget/grantdesk/internal/events"
	"github.com/nugget/grantdesk/internal/memory"
	"github.com/nugget/grantdesk/internal/router"
	"github.com/nugget/grantdesk/internal/stream"
	"github.com/nugget/grantdesk/internal/usage"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Runner executes agent turns.
type Runner interface {
	Run(ctx context.Context, req agent.Request, sink stream.Sink) (*agent.Result, error)
}

// Conversations is the conversation store behind the management
// endpoints.
type Conversations interface {
	Get(ctx context.Context, id string) (*memory.Conversation, error)
	List(ctx context.Context, userID, agentID string, limit int) ([]memory.Summary, error)
	Delete(ctx context.Context, id string) error
}

// UsageReader answers usage queries.
type UsageReader interface {
	ForConversation(ctx context.Context, conversationID string) ([]usage.Record, error)
	Summary(ctx context.Context, start, end time.Time) (*usage.Summary, error)
	SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
	SummaryByAgent(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
}

// HealthReporter reports the health of external dependencies.
type HealthReporter interface {
	Status() []connwatch.ServiceStatus
}

// Config holds the server's collaborators. Router, Usage, and Bus are
// optional; their endpoints answer 503 when unset. Without Health,
// /health reports only that the process is up.
type Config struct {
	Address       string
	Runner        Runner
	Conversations Conversations
	Router        *router.Router
	Usage         UsageReader
	Bus           *events.Bus
	Health        HealthReporter
	Logger        *slog.Logger
}

// Server is the HTTP API server.
type Server struct {
	address       string
	runner        Runner
	conversations Conversations
	router        *router.Router
	usage         UsageReader
	bus           *events.Bus
	health        HealthReporter
	logger        *slog.Logger
	server        *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:       cfg.Address,
		runner:        cfg.Runner,
		conversations: cfg.Conversations,
		router:        cfg.Router,
		usage:         cfg.Usage,
		bus:           cfg.Bus,
		health:        cfg.Health,
		logger:        logger.With("component", "api"),
	}
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/agents", s.handleAgents)

	mux.HandleFunc("GET /v1/conversations", s.handleConversationList)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("DELETE /v1/conversations/{id}", s.handleConversationDelete)

	mux.HandleFunc("GET /v1/router/stats", s.handleRouterStats)
	mux.HandleFunc("GET /v1/router/audit", s.handleRouterAudit)
	mux.HandleFunc("GET /v1/router/explain/{requestId}", s.handleRouterExplain)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)

	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)

	return s.withLogging(mux)
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      streamWriteTimeout, // extended per event while streaming
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("starting API server", "address", s.address)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

// handleHealth answers 200 while every watched dependency is ready and
// 503 with status "degraded" otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "healthy"}
	code := http.StatusOK
	if s.health != nil {
		services := s.health.Status()
		for _, svc := range services {
			if !svc.Ready {
				resp["status"] = "degraded"
				code = http.StatusServiceUnavailable
				break
			}
		}
		resp["services"] = services
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, resp, s.logger)
}

// Router introspection handlers

func (s *Server) handleRouterStats(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.router.GetStats(), s.logger)
}

func (s *Server) handleRouterAudit(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}

	decisions := s.router.GetAuditLog(queryInt(r, "limit", 20))
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"count":     len(decisions),
		"decisions": decisions,
	}, s.logger)
}

func (s *Server) handleRouterExplain(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}

	decision := s.router.Explain(r.PathValue("requestId"))
	if decision == nil {
		s.errorResponse(w, http.StatusNotFound, "decision not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, decision, s.logger)
}

// queryInt returns a positive integer query parameter, or def.
func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
