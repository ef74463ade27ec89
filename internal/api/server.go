// Package api implements the chat HTTP API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/chatngt/chatngt/internal/buildinfo"
	"github.com/chatngt/chatngt/internal/connwatch"
	"github.com/chatngt/chatngt/internal/usage"
	"github.com/chatngt/chatngt/internal/web"
)

// Response messages fixed by the chat protocol.
const (
	msgFieldsRequired = "All fields are required!"
	msgInternalError  = "Sorry, there was an error processing your request."
	msgRateLimited    = "Too many requests. Please slow down."
	msgForgetFailed   = "Sorry, the conversation could not be cleared."
)

// maxChatBody bounds the POST /chat request body.
const maxChatBody = 1 << 20

// Agent answers chat turns. Replies are always user-presentable.
type Agent interface {
	Respond(ctx context.Context, threadID, userMessage string) string
	Forget(ctx context.Context, threadID string) error
}

// HealthReporter reports the reachability of upstream services.
type HealthReporter interface {
	Status() map[string]connwatch.ServiceStatus
}

// UsageReporter aggregates recorded token usage.
type UsageReporter interface {
	Summary(ctx context.Context, start, end time.Time) (*usage.Summary, error)
	SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
	SummaryByOutcome(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
}

// Config configures the HTTP server.
type Config struct {
	Address     string
	Port        int
	RenderHTML  bool     // add goldmark-rendered html to chat replies
	CORSOrigins []string // empty allows every origin
	RateLimit   RateLimitConfig
	Health      HealthReporter // optional; adds services to /health
	Usage       UsageReporter  // optional; enables /v1/usage
}

// RateLimitConfig bounds POST /chat per client address.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	agent   Agent
	logger  *slog.Logger

	renderHTML  bool
	markdown    goldmark.Markdown
	corsOrigins []string
	limiter     *RateLimiter
	health      HealthReporter
	usage       UsageReporter

	handler http.Handler
	server  *http.Server
}

// NewServer creates an API server in front of agent.
func NewServer(logger *slog.Logger, agent Agent, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		address:     cfg.Address,
		port:        cfg.Port,
		agent:       agent,
		logger:      logger,
		renderHTML:  cfg.RenderHTML,
		corsOrigins: cfg.CORSOrigins,
		health:      cfg.Health,
		usage:       cfg.Usage,
	}
	if cfg.RenderHTML {
		s.markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	}
	if cfg.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	s.handler = s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute, // a turn may chain several completions
	}
	return s
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", s.withRateLimit(s.handleChat))
	mux.HandleFunc("DELETE /chat/{threadId}", s.handleForget)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	if s.usage != nil {
		mux.HandleFunc("GET /v1/usage", s.handleUsage)
	}

	web.RegisterRoutes(mux)

	return s.withLogging(s.withRecover(s.withCORS(mux)))
}

// Start listens on the configured address and serves HTTP until
// Shutdown is called. It returns http.ErrServerClosed after a clean
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. ctx only bounds background upkeep;
// requests in flight are not canceled with it and are drained by
// Shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.limiter != nil {
		go s.limiter.pruneLoop(ctx, time.Minute, 10*time.Minute)
	}
	return s.server.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight
// requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ChatRequest is the POST /chat body.
type ChatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"threadId"`
}

// ChatResponse is the POST /chat reply.
type ChatResponse struct {
	Message string `json:"message"`
	HTML    string `json:"html,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBody)).Decode(&req); err != nil {
		s.logger.Debug("invalid chat request", "error", err, "request_id", requestID(r.Context()))
		writeJSON(w, http.StatusBadRequest, ChatResponse{Message: msgFieldsRequired}, s.logger)
		return
	}
	if req.Message == "" || req.ThreadID == "" {
		writeJSON(w, http.StatusBadRequest, ChatResponse{Message: msgFieldsRequired}, s.logger)
		return
	}

	s.logger.Info("chat message",
		"thread", req.ThreadID,
		"request_id", requestID(r.Context()),
		"length", len(req.Message),
	)
	s.logger.Debug("chat message content", "thread", req.ThreadID, "message", req.Message)

	reply := s.agent.Respond(r.Context(), req.ThreadID, req.Message)

	resp := ChatResponse{Message: reply}
	if s.renderHTML {
		resp.HTML = s.render(reply)
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

// render converts a markdown reply to HTML. Failures fall back to no
// html field; the plain message is always present.
func (s *Server) render(md string) string {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(md), &buf); err != nil {
		s.logger.Warn("markdown render failed", "error", err)
		return ""
	}
	return buf.String()
}

// handleForget clears a thread so the next message starts a new
// conversation. Unknown threads are not an error.
func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("threadId")
	if err := s.agent.Forget(r.Context(), threadID); err != nil {
		s.logger.Error("forget thread failed",
			"thread", threadID,
			"request_id", requestID(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, ChatResponse{Message: msgForgetFailed}, s.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, "Hello!!!")
}

// handleHealth always answers 200 while the process is up. A provider
// outage only downgrades the status to "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "healthy",
		"uptime": buildinfo.Uptime().Round(time.Second).String(),
	}
	if s.health != nil {
		services := s.health.Status()
		for _, svc := range services {
			if !svc.Ready {
				resp["status"] = "degraded"
			}
		}
		resp["services"] = services
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

// defaultUsageWindow is the look-back period of /v1/usage.
const defaultUsageWindow = 24 * time.Hour

// UsageResponse is the GET /v1/usage reply.
type UsageResponse struct {
	Start   time.Time                 `json:"start"`
	End     time.Time                 `json:"end"`
	Total     *usage.Summary            `json:"total"`
	ByModel   map[string]*usage.Summary `json:"by_model"`
	ByOutcome map[string]*usage.Summary `json:"by_outcome"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	window := defaultUsageWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "window must be a positive duration such as 24h"}, s.logger)
			return
		}
		window = d
	}

	end := time.Now()
	start := end.Add(-window)

	total, err := s.usage.Summary(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msgInternalError}, s.logger)
		return
	}
	byModel, err := s.usage.SummaryByModel(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msgInternalError}, s.logger)
		return
	}
	byOutcome, err := s.usage.SummaryByOutcome(r.Context(), start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msgInternalError}, s.logger)
		return
	}

	writeJSON(w, http.StatusOK, UsageResponse{
		Start:     start.UTC(),
		End:       end.UTC(),
		Total:     total,
		ByModel:   byModel,
		ByOutcome: byOutcome,
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info(), s.logger)
}
