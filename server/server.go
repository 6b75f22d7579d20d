// Package server exposes the orchestrator over HTTP. It is a thin front end:
// every handler decodes the request, delegates to the session manager and
// maps the error taxonomy onto HTTP status codes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/session"
)

// Options configures a Server.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Server wraps a session manager behind HTTP entry points.
type Server struct {
	manager *session.Manager
	opts    Options
	httpSrv *http.Server
}

// New constructs a Server for the given manager.
func New(manager *session.Manager, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:         ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{manager: manager, opts: opts}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /start_flow", s.handleStartFlow)
	mux.HandleFunc("POST /resume_flow", s.handleResumeFlow)
	mux.HandleFunc("POST /evict_session", s.handleEvictSession)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:         opts.Addr,
		Handler:      mux,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// Handler exposes the route table, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// ListenAndServe blocks serving requests.
func (s *Server) ListenAndServe() error {
	s.opts.Logger.Info("server.listening", "addr", s.opts.Addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error { return s.httpSrv.Shutdown(ctx) }

type startFlowRequest struct {
	Task      string `json:"task"`
	SessionID string `json:"session_id,omitempty"`
}

type resumeFlowRequest struct {
	SessionID string `json:"session_id"`
	Input     string `json:"input,omitempty"`
}

type evictSessionRequest struct {
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleStartFlow(w http.ResponseWriter, r *http.Request) {
	var req startFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body", Code: "bad_request"})
		return
	}

	var optFns []func(o *session.StartOptions)
	if req.SessionID != "" {
		optFns = append(optFns, session.WithSessionID(req.SessionID))
	}

	res, err := s.manager.StartFlow(r.Context(), req.Task, optFns...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleResumeFlow(w http.ResponseWriter, r *http.Request) {
	var req resumeFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body", Code: "bad_request"})
		return
	}

	res, err := s.manager.ResumeFlow(r.Context(), req.SessionID, req.Input)
	if err != nil && res == nil {
		s.writeError(w, err)
		return
	}
	// A terminal escalation still returns the final snapshot; the failure
	// chain travels in the payload, not as a transport error.
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEvictSession(w http.ResponseWriter, r *http.Request) {
	var req evictSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body", Code: "bad_request"})
		return
	}

	if err := s.manager.Evict(req.SessionID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": req.SessionID, "status": "evicted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.manager.Len()})
}

// writeError maps the sentinel taxonomy onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, core.ErrInvalidTask):
		status, code = http.StatusBadRequest, "invalid_task"
	case errors.Is(err, core.ErrSessionNotFound):
		status, code = http.StatusNotFound, "session_not_found"
	case errors.Is(err, core.ErrSessionConflict):
		status, code = http.StatusConflict, "session_conflict"
	case errors.Is(err, core.ErrSessionBusy):
		status, code = http.StatusConflict, "session_busy"
	case errors.Is(err, core.ErrNoCapableTool):
		status, code = http.StatusConflict, "no_capable_tool"
	case errors.Is(err, core.ErrCancelled):
		status, code = http.StatusConflict, "cancelled"
	}
	if status == http.StatusInternalServerError {
		s.opts.Logger.Error("server.internal_error", "error", err.Error())
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
