package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/GoCodeAlone/opsboard/activity"
	"github.com/GoCodeAlone/opsboard/agent"
	"github.com/GoCodeAlone/opsboard/realtime"
	"github.com/GoCodeAlone/opsboard/task"
)

var validate = validator.New()

// --- Task handlers ---

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.Filter{}

	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := task.Status(strings.TrimSpace(part))
			if !task.IsKnown(st) {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", st))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	if a := q.Get("agent_id"); a != "" {
		filter.AssignedAgentID = a
	}
	if t := q.Get("tag"); t != "" {
		filter.Tag = t
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			filter.Limit = n
		}
	}
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil {
			filter.Offset = n
		}
	}

	tasks, err := s.tasks.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

type createTaskRequest struct {
	Title           string      `json:"title" validate:"required,min=1,max=255"`
	Description     string      `json:"description"`
	Status          task.Status `json:"status" validate:"omitempty,oneof=inbox assigned in_progress review done cancelled"`
	Priority        string      `json:"priority" validate:"omitempty,oneof=urgent high medium low"`
	AssignedAgentID string      `json:"assigned_agent_id"`
	Tags            []string    `json:"tags"`
	DueDate         *time.Time  `json:"due_date"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t := &task.Task{
		Title:           req.Title,
		Description:     req.Description,
		Status:          req.Status,
		Priority:        task.ParsePriority(req.Priority),
		AssignedAgentID: req.AssignedAgentID,
		Tags:            req.Tags,
		DueDate:         req.DueDate,
	}
	if _, err := s.tasks.Create(t); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.publish(realtime.CollectionTasks, realtime.EventInsert, t, nil)
	s.recordActivity(activity.Activity{
		Type:    activity.TypeTaskCreated,
		Title:   t.Title,
		TaskID:  t.ID,
		AgentID: t.AssignedAgentID,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"task": t})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.PathValue("id"))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": t})
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.tasks.Get(id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	prev := *existing

	// Decode partial update over existing task
	if err := json.NewDecoder(r.Body).Decode(existing); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	existing.ID = id // ensure ID is not overwritten
	existing.CreatedAt = prev.CreatedAt

	if existing.Status != prev.Status {
		if !task.IsKnown(existing.Status) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", existing.Status))
			return
		}
		if !task.IsValidTransition(prev.Status, existing.Status) {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("illegal transition from %s to %s", prev.Status, existing.Status))
			return
		}
		// Timestamp effects are authoritative here regardless of what the
		// client sent.
		task.TransitionEffects(prev.Status, existing.Status).Apply(existing, time.Now().UTC())
	}

	if err := s.tasks.Update(existing); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.publish(realtime.CollectionTasks, realtime.EventUpdate, existing, &prev)
	if existing.Status != prev.Status {
		s.recordActivity(activity.Activity{
			Type:        activity.TypeTaskMoved,
			Title:       existing.Title,
			Description: fmt.Sprintf("%s -> %s", prev.Status, existing.Status),
			TaskID:      existing.ID,
			AgentID:     existing.AssignedAgentID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": existing})
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := s.tasks.Get(id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.tasks.Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.publish(realtime.CollectionTasks, realtime.EventDelete, nil, existing)
	s.recordActivity(activity.Activity{
		Type:   activity.TypeTaskDeleted,
		Title:  existing.Title,
		TaskID: existing.ID,
	})
	w.WriteHeader(http.StatusNoContent)
}

// --- Agent handlers ---

func (s *Server) listAgents(w http.ResponseWriter, _ *http.Request) {
	agents := s.agents.List()
	if agents == nil {
		agents = []*agent.Agent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

type registerAgentRequest struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
	Role string `json:"role"`
}

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a := agent.Agent{ID: req.ID, Name: req.Name, Role: req.Role}
	if err := s.agents.Register(a); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	registered, _ := s.agents.Get(req.ID)

	s.publish(realtime.CollectionAgents, realtime.EventInsert, registered, nil)
	s.recordActivity(activity.Activity{
		Type:    activity.TypeAgentRegister,
		Title:   registered.Name,
		AgentID: registered.ID,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"agent": registered})
}

type heartbeatRequest struct {
	Status agent.Status `json:"status" validate:"required,oneof=online busy error offline"`
}

func (s *Server) agentHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	prev, ok := s.agents.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	updated, err := s.agents.Heartbeat(id, req.Status)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.publish(realtime.CollectionAgents, realtime.EventUpdate, updated, prev)
	if prev.Status != updated.Status {
		s.recordActivity(activity.Activity{
			Type:        activity.TypeAgentStatus,
			Title:       updated.Name,
			Description: fmt.Sprintf("%s -> %s", prev.Status, updated.Status),
			AgentID:     updated.ID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent": updated})
}

// --- Activity handlers ---

func (s *Server) listActivities(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	entries := s.activities.Recent(limit)
	if entries == nil {
		entries = []*activity.Activity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": entries})
}

// --- Status handlers ---

// listStatuses describes the board columns so dashboards don't hardcode
// labels and transition rules.
func (s *Server) listStatuses(w http.ResponseWriter, _ *http.Request) {
	type statusInfo struct {
		Status task.Status   `json:"status"`
		Meta   task.Meta     `json:"meta"`
		Next   []task.Status `json:"next"`
	}
	out := make([]statusInfo, 0, len(task.AllColumns))
	for _, st := range task.AllColumns {
		meta, _ := task.MetaFor(st)
		out = append(out, statusInfo{Status: st, Meta: meta, Next: task.ValidNextStatuses(st)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"statuses": out})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

// MarkStaleAgents sweeps the registry for agents whose heartbeat is older
// than maxAge and broadcasts the resulting status changes. The daemon runs
// this on a ticker.
func (s *Server) MarkStaleAgents(maxAge time.Duration) {
	for _, a := range s.agents.MarkStale(maxAge) {
		s.logger.Info("agent went stale",
			slog.String("agent_id", a.ID), slog.String("name", a.Name))
		s.publish(realtime.CollectionAgents, realtime.EventUpdate, a, nil)
		s.recordActivity(activity.Activity{
			Type:        activity.TypeAgentStatus,
			Title:       a.Name,
			Description: "heartbeat lost",
			AgentID:     a.ID,
		})
	}
}
