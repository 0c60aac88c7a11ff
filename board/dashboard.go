package board

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoCodeAlone/opsboard/activity"
	"github.com/GoCodeAlone/opsboard/agent"
	"github.com/GoCodeAlone/opsboard/realtime"
	"github.com/GoCodeAlone/opsboard/syncer"
	"github.com/GoCodeAlone/opsboard/task"
)

// Fetcher supplies full collection snapshots for hydration and manual
// refresh.
type Fetcher interface {
	FetchTasks(ctx context.Context, f task.Filter) ([]*task.Task, error)
	FetchAgents(ctx context.Context) ([]*agent.Agent, error)
	FetchActivities(ctx context.Context, limit int) ([]*activity.Activity, error)
}

// Mutator dispatches task mutations to the backend.
type Mutator interface {
	MoveTask(ctx context.Context, id string, from, to task.Status) (*task.Task, error)
}

// Config configures a Dashboard.
type Config struct {
	Fetcher Fetcher
	Mutator Mutator

	// AgentID, when set, narrows the task view to one agent's tasks.
	AgentID string

	// ActivityLimit caps the retained activity feed. Zero uses the
	// activity package default.
	ActivityLimit int

	// Initial snapshots, typically server-rendered.
	InitialTasks      []*task.Task
	InitialAgents     []*agent.Agent
	InitialActivities []*activity.Activity

	// OnUpdate, when set, fires after any collection changes. It runs on
	// the folding goroutine and must not call back into the dashboard's
	// synchronizers; a typical implementation nudges a render loop.
	OnUpdate func()

	Logger *slog.Logger
}

// Dashboard is the client-side view of the operations board. It owns the
// three collection synchronizers and the current kanban grouping, applies
// optimistic moves on drop, and dispatches the corresponding backend
// mutation without blocking the local update.
type Dashboard struct {
	tasks      *syncer.Synchronizer[*task.Task]
	agents     *syncer.Synchronizer[*agent.Agent]
	activities *syncer.Synchronizer[*activity.Activity]

	mutator  Mutator
	logger   *slog.Logger
	onUpdate func()

	mu       sync.Mutex
	grouping Grouping
}

// NewDashboard builds a Dashboard seeded from the config's initial
// snapshots. Call Open to start live synchronization.
func NewDashboard(cfg Config) (*Dashboard, error) {
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("new dashboard: Fetcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	d := &Dashboard{mutator: cfg.Mutator, logger: logger, onUpdate: cfg.OnUpdate}

	var taskFilter *realtime.Filter
	var keep func(*task.Task) bool
	if cfg.AgentID != "" {
		taskFilter = &realtime.Filter{Field: "assigned_agent_id", Value: cfg.AgentID}
		keep = func(t *task.Task) bool { return t.AssignedAgentID == cfg.AgentID }
	}

	tasks, err := syncer.New(syncer.Options[*task.Task]{
		Collection: realtime.CollectionTasks,
		Filter:     taskFilter,
		Keep:       keep,
		Reorder: func(rows []*task.Task) []*task.Task {
			SortColumn(rows)
			return rows
		},
		Decode: syncer.JSONDecoder[task.Task](),
		Fetch: func(ctx context.Context) ([]*task.Task, error) {
			return cfg.Fetcher.FetchTasks(ctx, task.Filter{AssignedAgentID: cfg.AgentID})
		},
		OnChange: d.onTasksChanged,
		Logger:   logger,
	}, cfg.InitialTasks)
	if err != nil {
		return nil, err
	}

	agents, err := syncer.New(syncer.Options[*agent.Agent]{
		Collection: realtime.CollectionAgents,
		Reorder: func(rows []*agent.Agent) []*agent.Agent {
			sortAgents(rows)
			return rows
		},
		Decode: syncer.JSONDecoder[agent.Agent](),
		Fetch: func(ctx context.Context) ([]*agent.Agent, error) {
			return cfg.Fetcher.FetchAgents(ctx)
		},
		OnChange: func([]*agent.Agent) { d.notify() },
		Logger:   logger,
	}, cfg.InitialAgents)
	if err != nil {
		return nil, err
	}

	limit := cfg.ActivityLimit
	if limit <= 0 {
		limit = activity.DefaultCapacity
	}
	activities, err := syncer.New(syncer.Options[*activity.Activity]{
		Collection: realtime.CollectionActivities,
		Kinds:      []realtime.EventKind{realtime.EventInsert},
		InsertOnly: true,
		MaxRows:    limit,
		Reorder: func(rows []*activity.Activity) []*activity.Activity {
			sortActivities(rows)
			return rows
		},
		Decode: syncer.JSONDecoder[activity.Activity](),
		Fetch: func(ctx context.Context) ([]*activity.Activity, error) {
			return cfg.Fetcher.FetchActivities(ctx, limit)
		},
		OnChange: func([]*activity.Activity) { d.notify() },
		Logger:   logger,
	}, cfg.InitialActivities)
	if err != nil {
		return nil, err
	}

	d.tasks = tasks
	d.agents = agents
	d.activities = activities
	d.grouping = GroupTasks(tasks.Rows())
	return d, nil
}

func (d *Dashboard) onTasksChanged(rows []*task.Task) {
	g := GroupTasks(rows)
	d.mu.Lock()
	d.grouping = g
	d.mu.Unlock()
	d.notify()
}

func (d *Dashboard) notify() {
	if d.onUpdate != nil {
		d.onUpdate()
	}
}

// Open activates all three synchronizers against the event source. On
// failure it tears down whatever was already activated.
func (d *Dashboard) Open(ctx context.Context, source realtime.Source) error {
	if err := d.tasks.Activate(ctx, source); err != nil {
		return err
	}
	if err := d.agents.Activate(ctx, source); err != nil {
		_ = d.tasks.Close(ctx)
		return err
	}
	if err := d.activities.Activate(ctx, source); err != nil {
		_ = d.tasks.Close(ctx)
		_ = d.agents.Close(ctx)
		return err
	}
	return nil
}

// Close releases all three subscriptions. Safe to call more than once.
func (d *Dashboard) Close(ctx context.Context) error {
	var firstErr error
	for _, c := range []func(context.Context) error{d.tasks.Close, d.agents.Close, d.activities.Close} {
		if err := c(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Refresh replaces all three collections from full snapshot fetches.
func (d *Dashboard) Refresh(ctx context.Context) error {
	for _, r := range []func(context.Context) error{d.tasks.Refresh, d.agents.Refresh, d.activities.Refresh} {
		if err := r(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Grouping returns the current kanban view.
func (d *Dashboard) Grouping() Grouping {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.grouping
}

// Agents returns the current agent mirror, sorted by name.
func (d *Dashboard) Agents() []*agent.Agent { return d.agents.Rows() }

// Activities returns the activity feed, newest first.
func (d *Dashboard) Activities() []*activity.Activity { return d.activities.Rows() }

// TaskStatus returns the task synchronizer's connection state.
func (d *Dashboard) TaskStatus() (syncer.Status, error) { return d.tasks.Status() }

// Drop handles a completed drag gesture. The raw payload comes off the
// drag-data channel; target and index describe where the card was
// released. A malformed payload or an illegal transition is a no-op and
// returns false. On acceptance the grouping is updated optimistically and,
// for cross-column moves, the backend mutation is dispatched without
// blocking; a mutation failure is logged and the optimistic state stands
// until an authoritative event or refresh corrects it.
func (d *Dashboard) Drop(ctx context.Context, payload []byte, target task.Status, index int) bool {
	p, err := ParseDragPayload(payload)
	if err != nil {
		d.logger.Warn("ignoring malformed drag payload", slog.Any("err", err))
		return false
	}
	if !CanDropInColumn(p.SourceStatus, target) {
		return false
	}

	mv := MoveRequest{TaskID: p.TaskID, Source: p.SourceStatus, Target: target, TargetIndex: index}
	d.mu.Lock()
	d.grouping = ApplyMove(d.grouping, mv)
	d.mu.Unlock()
	d.notify()

	// A same-column drop is a pure reorder; the backend has nothing to
	// persist for it.
	if p.SourceStatus == target || d.mutator == nil {
		return true
	}

	go func() {
		if _, err := d.mutator.MoveTask(ctx, p.TaskID, p.SourceStatus, target); err != nil {
			d.logger.Error("task move mutation failed",
				slog.String("task_id", p.TaskID),
				slog.String("to", string(target)),
				slog.Any("err", err))
		}
	}()
	return true
}
