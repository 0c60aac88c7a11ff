// Package client is the HTTP API client for an opsboard server. It covers
// the bulk-fetch endpoints used for hydration and manual refresh, and the
// PATCH mutation the board dispatches when a drag completes. The companion
// Stream type feeds change events from the server's SSE endpoint into the
// board's synchronizers.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/GoCodeAlone/opsboard/activity"
	"github.com/GoCodeAlone/opsboard/agent"
	"github.com/GoCodeAlone/opsboard/task"
)

// Client talks to an opsboard server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a Client for the given base URL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// get performs a GET and decodes JSON into v.
func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// patch performs a PATCH with a JSON body and decodes the response into v.
func (c *Client) patch(ctx context.Context, path string, body any, v any) error {
	return c.send(ctx, http.MethodPatch, path, body, v)
}

// send performs a request with a JSON body and decodes the response into v.
func (c *Client) send(ctx context.Context, method, path string, body any, v any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		var errBody struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(b, &errBody) == nil && errBody.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, errBody.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if v != nil {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

// FetchTasks returns the tasks matching the filter.
func (c *Client) FetchTasks(ctx context.Context, f task.Filter) ([]*task.Task, error) {
	q := url.Values{}
	if len(f.Statuses) > 0 {
		parts := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			parts[i] = string(s)
		}
		q.Set("status", strings.Join(parts, ","))
	}
	if f.AssignedAgentID != "" {
		q.Set("agent_id", f.AssignedAgentID)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	path := "/api/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Tasks []*task.Task `json:"tasks"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("fetch tasks: %w", err)
	}
	return out.Tasks, nil
}

// FetchAgents returns the full agent fleet.
func (c *Client) FetchAgents(ctx context.Context) ([]*agent.Agent, error) {
	var out struct {
		Agents []*agent.Agent `json:"agents"`
	}
	if err := c.get(ctx, "/api/agents", &out); err != nil {
		return nil, fmt.Errorf("fetch agents: %w", err)
	}
	return out.Agents, nil
}

// FetchActivities returns the most recent activity entries, newest first.
func (c *Client) FetchActivities(ctx context.Context, limit int) ([]*activity.Activity, error) {
	path := "/api/activities"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Activities []*activity.Activity `json:"activities"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("fetch activities: %w", err)
	}
	return out.Activities, nil
}

// TaskPatch is the partial-update body for PATCH /api/tasks/{id}. Nil
// fields are omitted; the server touches only what is present.
type TaskPatch struct {
	Status          *task.Status   `json:"status,omitempty"`
	Priority        *task.Priority `json:"priority,omitempty"`
	AssignedAgentID *string        `json:"assigned_agent_id,omitempty"`
	Title           *string        `json:"title,omitempty"`
	Description     *string        `json:"description,omitempty"`
}

// PatchTask applies a partial update to a task.
func (c *Client) PatchTask(ctx context.Context, id string, p TaskPatch) (*task.Task, error) {
	var out struct {
		Task *task.Task `json:"task"`
	}
	if err := c.patch(ctx, "/api/tasks/"+id, p, &out); err != nil {
		return nil, fmt.Errorf("patch task %s: %w", id, err)
	}
	return out.Task, nil
}

// NewTask is the request body for creating a task. Priority uses the wire
// strings urgent, high, medium, low.
type NewTask struct {
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	Status          task.Status `json:"status,omitempty"`
	Priority        string      `json:"priority,omitempty"`
	AssignedAgentID string      `json:"assigned_agent_id,omitempty"`
	Tags            []string    `json:"tags,omitempty"`
}

// CreateTask creates a task and returns the stored record.
func (c *Client) CreateTask(ctx context.Context, nt NewTask) (*task.Task, error) {
	var out struct {
		Task *task.Task `json:"task"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/tasks", nt, &out); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return out.Task, nil
}

// GetTask retrieves a single task by ID.
func (c *Client) GetTask(ctx context.Context, id string) (*task.Task, error) {
	var out struct {
		Task *task.Task `json:"task"`
	}
	if err := c.get(ctx, "/api/tasks/"+id, &out); err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return out.Task, nil
}

// DeleteTask removes a task by ID.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	if err := c.send(ctx, http.MethodDelete, "/api/tasks/"+id, nil, nil); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// ServerStatus returns the server's status document.
func (c *Client) ServerStatus(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.get(ctx, "/api/status", &out); err != nil {
		return nil, fmt.Errorf("server status: %w", err)
	}
	return out, nil
}

// MoveTask transitions a task to a new status. The request carries only
// the fields the transition implies: the target status plus whichever
// timestamps the transition policy's effects dictate. Clearing a timestamp
// is sent as an explicit JSON null.
func (c *Client) MoveTask(ctx context.Context, id string, from, to task.Status) (*task.Task, error) {
	body := map[string]any{"status": to}
	eff := task.TransitionEffects(from, to)
	now := time.Now().UTC()
	if eff.SetStartedAt {
		body["started_at"] = now
	}
	if eff.SetCompletedAt {
		body["completed_at"] = now
	}
	if eff.ClearCompletedAt {
		body["completed_at"] = nil
	}

	var out struct {
		Task *task.Task `json:"task"`
	}
	if err := c.patch(ctx, "/api/tasks/"+id, body, &out); err != nil {
		return nil, fmt.Errorf("move task %s: %w", id, err)
	}
	return out.Task, nil
}
