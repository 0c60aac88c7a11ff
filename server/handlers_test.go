package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/opsboard/activity"
	"github.com/GoCodeAlone/opsboard/agent"
	"github.com/GoCodeAlone/opsboard/config"
	"github.com/GoCodeAlone/opsboard/realtime"
	"github.com/GoCodeAlone/opsboard/task"
)

// fakeStore is an in-memory task.Store for handler tests.
type fakeStore struct {
	mu    sync.Mutex
	next  int
	tasks map[string]*task.Task
	order []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: make(map[string]*task.Task)}
}

func (f *fakeStore) Create(t *task.Task) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	t.ID = fmt.Sprintf("t%d", f.next)
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = task.StatusInbox
	}
	copy := *t
	f.tasks[t.ID] = &copy
	f.order = append(f.order, t.ID)
	return t.ID, nil
}

func (f *fakeStore) Get(id string) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	copy := *t
	return &copy, nil
}

func (f *fakeStore) Update(t *task.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[t.ID]; !ok {
		return fmt.Errorf("task %s not found", t.ID)
	}
	t.UpdatedAt = time.Now().UTC()
	copy := *t
	f.tasks[t.ID] = &copy
	return nil
}

func (f *fakeStore) List(filter task.Filter) ([]*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*task.Task
	for _, id := range f.order {
		t := f.tasks[id]
		if len(filter.Statuses) > 0 {
			match := false
			for _, st := range filter.Statuses {
				if t.Status == st {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		if filter.AssignedAgentID != "" && t.AssignedAgentID != filter.AssignedAgentID {
			continue
		}
		copy := *t
		out = append(out, &copy)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) Delete(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return fmt.Errorf("task %s not found", id)
	}
	delete(f.tasks, id)
	for i, oid := range f.order {
		if oid == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

type testEnv struct {
	srv   *httptest.Server
	store *fakeStore
	reg   *agent.Registry
	log   *activity.Log
	hub   *realtime.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	hub := realtime.NewHub(logger)

	s := New(config.DefaultConfig(), "test", logger)
	env := &testEnv{
		store: newFakeStore(),
		reg:   agent.NewRegistry(),
		log:   activity.NewLog(50),
		hub:   hub,
	}
	s.SetTaskStore(env.store)
	s.SetAgentRegistry(env.reg)
	s.SetActivityLog(env.log)
	s.SetHub(hub)

	env.srv = httptest.NewServer(s.Handler())
	t.Cleanup(env.srv.Close)
	t.Cleanup(hub.Close)
	return env
}

// collect subscribes to a hub collection and returns a channel of events.
func (e *testEnv) collect(t *testing.T, col realtime.Collection) chan realtime.Event {
	t.Helper()
	ch := make(chan realtime.Event, 16)
	_, err := e.hub.Subscribe(context.Background(), col, nil, nil,
		func(ev realtime.Event) { ch <- ev }, nil)
	require.NoError(t, err)
	return ch
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeTask(t *testing.T, resp *http.Response) *task.Task {
	t.Helper()
	defer resp.Body.Close()
	var env struct {
		Task *task.Task `json:"task"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env.Task
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var env struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env.Error
}

func nextEvent(t *testing.T, ch chan realtime.Event) realtime.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event published")
		return realtime.Event{}
	}
}

func TestCreateTask(t *testing.T) {
	env := newTestEnv(t)
	events := env.collect(t, realtime.CollectionTasks)

	resp := env.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"title":    "wire the relay",
		"priority": "high",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeTask(t, resp)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, task.StatusInbox, created.Status)
	assert.Equal(t, task.PriorityHigh, created.Priority)

	ev := nextEvent(t, events)
	assert.Equal(t, realtime.EventInsert, ev.Kind)

	require.Equal(t, 1, env.log.Len())
	assert.Equal(t, activity.TypeTaskCreated, env.log.Recent(1)[0].Type)
}

func TestCreateTask_Invalid(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/tasks", map[string]any{"title": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = env.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"title": "x", "status": "limbo",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestListTasks_StatusFilter(t *testing.T) {
	env := newTestEnv(t)
	for _, st := range []task.Status{task.StatusInbox, task.StatusAssigned, task.StatusDone} {
		_, err := env.store.Create(&task.Task{Title: string(st), Status: st})
		require.NoError(t, err)
	}

	resp := env.do(t, http.MethodGet, "/api/tasks?status=inbox,assigned", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var body struct {
		Tasks []*task.Task `json:"tasks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Tasks, 2)
	for _, got := range body.Tasks {
		assert.NotEqual(t, task.StatusDone, got.Status)
	}
}

func TestListTasks_UnknownStatus(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/tasks?status=limbo", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestUpdateTask_MoveAppliesEffects(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.store.Create(&task.Task{Title: "move me", Status: task.StatusAssigned})
	require.NoError(t, err)
	events := env.collect(t, realtime.CollectionTasks)

	resp := env.do(t, http.MethodPatch, "/api/tasks/"+id, map[string]any{
		"status": "in_progress",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeTask(t, resp)

	assert.Equal(t, task.StatusInProgress, updated.Status)
	require.NotNil(t, updated.StartedAt)
	assert.Nil(t, updated.CompletedAt)

	ev := nextEvent(t, events)
	assert.Equal(t, realtime.EventUpdate, ev.Kind)
	var oldRow task.Task
	require.NoError(t, json.Unmarshal(ev.Old, &oldRow))
	assert.Equal(t, task.StatusAssigned, oldRow.Status)

	require.Equal(t, 1, env.log.Len())
	entry := env.log.Recent(1)[0]
	assert.Equal(t, activity.TypeTaskMoved, entry.Type)
	assert.Equal(t, "assigned -> in_progress", entry.Description)
}

func TestUpdateTask_ReopenClearsCompletedAt(t *testing.T) {
	env := newTestEnv(t)
	done := time.Now().UTC()
	id, err := env.store.Create(&task.Task{
		Title: "reopen", Status: task.StatusDone, CompletedAt: &done,
	})
	require.NoError(t, err)

	resp := env.do(t, http.MethodPatch, "/api/tasks/"+id, map[string]any{
		"status": "in_progress",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeTask(t, resp)

	assert.Nil(t, updated.CompletedAt)
}

func TestUpdateTask_IllegalTransition(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.store.Create(&task.Task{Title: "stuck", Status: task.StatusInbox})
	require.NoError(t, err)

	resp := env.do(t, http.MethodPatch, "/api/tasks/"+id, map[string]any{
		"status": "done",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "illegal transition from inbox to done", decodeError(t, resp))

	// The task is untouched.
	got, err := env.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInbox, got.Status)
}

func TestUpdateTask_NotFound(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPatch, "/api/tasks/ghost", map[string]any{
		"status": "assigned",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "task not found", decodeError(t, resp))
}

func TestDeleteTask(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.store.Create(&task.Task{Title: "doomed", Status: task.StatusInbox})
	require.NoError(t, err)
	events := env.collect(t, realtime.CollectionTasks)

	resp := env.do(t, http.MethodDelete, "/api/tasks/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	ev := nextEvent(t, events)
	assert.Equal(t, realtime.EventDelete, ev.Kind)
	assert.Empty(t, ev.New)
	var oldRow task.Task
	require.NoError(t, json.Unmarshal(ev.Old, &oldRow))
	assert.Equal(t, id, oldRow.ID)

	_, err = env.store.Get(id)
	assert.Error(t, err)
}

func TestAgentRegisterAndHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	events := env.collect(t, realtime.CollectionAgents)

	resp := env.do(t, http.MethodPost, "/api/agents", map[string]any{
		"id": "a1", "name": "indexer", "role": "indexing",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, realtime.EventInsert, nextEvent(t, events).Kind)

	resp = env.do(t, http.MethodPost, "/api/agents/a1/heartbeat", map[string]any{
		"status": "online",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var body struct {
		Agent *agent.Agent `json:"agent"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, agent.StatusOnline, body.Agent.Status)
	assert.False(t, body.Agent.LastSeenAt.IsZero())

	ev := nextEvent(t, events)
	assert.Equal(t, realtime.EventUpdate, ev.Kind)
}

func TestAgentHeartbeat_Unknown(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/agents/ghost/heartbeat", map[string]any{
		"status": "online",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestListStatuses(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/statuses", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var body struct {
		Statuses []struct {
			Status task.Status   `json:"status"`
			Meta   task.Meta     `json:"meta"`
			Next   []task.Status `json:"next"`
		} `json:"statuses"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Statuses, 6)

	assert.Equal(t, task.StatusInbox, body.Statuses[0].Status)
	assert.Equal(t, "Inbox", body.Statuses[0].Meta.Label)
	assert.Contains(t, body.Statuses[0].Next, task.StatusAssigned)
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}
