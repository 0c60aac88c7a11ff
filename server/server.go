// Package server implements the opsboard HTTP server: the REST API the
// dashboard reads from and the SSE feed that streams collection change
// events to it.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/GoCodeAlone/opsboard/activity"
	"github.com/GoCodeAlone/opsboard/agent"
	"github.com/GoCodeAlone/opsboard/config"
	"github.com/GoCodeAlone/opsboard/realtime"
	"github.com/GoCodeAlone/opsboard/task"
)

// Server is the opsboard HTTP server.
type Server struct {
	cfg     *config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	tasks      task.Store
	agents     *agent.Registry
	activities *activity.Log
	hub        *realtime.Hub

	startTime time.Time
	version   string
}

// New creates a new Server with the given config and logger.
func New(cfg *config.Config, ver string, logger *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		startTime: time.Now(),
		version:   ver,
	}
}

// SetTaskStore attaches a task store to the server.
func (s *Server) SetTaskStore(store task.Store) {
	s.tasks = store
}

// SetAgentRegistry attaches an agent registry to the server.
func (s *Server) SetAgentRegistry(reg *agent.Registry) {
	s.agents = reg
}

// SetActivityLog attaches an activity log to the server.
func (s *Server) SetActivityLog(log *activity.Log) {
	s.activities = log
}

// SetHub attaches the realtime hub used to broadcast change events.
func (s *Server) SetHub(hub *realtime.Hub) {
	s.hub = hub
}

// Handler returns the server's HTTP handler with all routes registered.
// Useful for tests; Start calls it internally.
func (s *Server) Handler() http.Handler {
	s.registerRoutes()
	return s.mux
}

// Start registers routes and begins listening.
func (s *Server) Start() error {
	s.registerRoutes()

	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.logger.Info("server listening", slog.String("addr", addr))
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/tasks", s.listTasks)
	s.mux.HandleFunc("POST /api/tasks", s.createTask)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.getTask)
	s.mux.HandleFunc("PATCH /api/tasks/{id}", s.updateTask)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.deleteTask)

	s.mux.HandleFunc("GET /api/agents", s.listAgents)
	s.mux.HandleFunc("POST /api/agents", s.registerAgent)
	s.mux.HandleFunc("POST /api/agents/{id}/heartbeat", s.agentHeartbeat)

	s.mux.HandleFunc("GET /api/activities", s.listActivities)

	s.mux.HandleFunc("GET /api/statuses", s.listStatuses)
	s.mux.HandleFunc("GET /api/status", s.status)

	s.mux.Handle("GET /events", realtime.NewSSEFeed(s.hub, s.logger))
}

// publish broadcasts a collection change event to all subscribers.
func (s *Server) publish(col realtime.Collection, kind realtime.EventKind, newRow, oldRow any) {
	ev, err := realtime.NewEvent(col, kind, newRow, oldRow)
	if err != nil {
		s.logger.Error("publish event", slog.String("collection", string(col)), slog.Any("err", err))
		return
	}
	s.hub.Publish(ev)
}

// recordActivity appends a feed entry and broadcasts it as an insert event.
func (s *Server) recordActivity(a activity.Activity) {
	stored := s.activities.Append(a)
	s.publish(realtime.CollectionActivities, realtime.EventInsert, stored, nil)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
