// Package board implements the kanban view of the task collection: the
// per-status grouping, the drop-target rules for drag gestures, and the
// optimistic reorder/move engine that recomputes the view before the
// backend mutation round-trip completes.
package board

import (
	"sort"

	"github.com/GoCodeAlone/opsboard/activity"
	"github.com/GoCodeAlone/opsboard/agent"
	"github.com/GoCodeAlone/opsboard/task"
)

// Grouping maps every board status to its ordered column of tasks. All six
// status keys are always present, even when a column is empty.
type Grouping map[task.Status][]*task.Task

// NewGrouping returns an empty Grouping with every column present.
func NewGrouping() Grouping {
	g := make(Grouping, len(task.AllColumns))
	for _, s := range task.AllColumns {
		g[s] = []*task.Task{}
	}
	return g
}

// GroupTasks builds a Grouping from a flat task list. Within each column,
// tasks sort by priority (urgent first) then by creation time, newest
// first. Tasks with an unknown status are dropped.
func GroupTasks(tasks []*task.Task) Grouping {
	g := NewGrouping()
	for _, t := range tasks {
		if _, ok := g[t.Status]; !ok {
			continue
		}
		g[t.Status] = append(g[t.Status], t)
	}
	for s := range g {
		SortColumn(g[s])
	}
	return g
}

// SortColumn orders a column in place: priority ascending severity value
// (urgent sorts first), then created_at descending.
func SortColumn(col []*task.Task) {
	sort.SliceStable(col, func(i, j int) bool {
		if col[i].Priority != col[j].Priority {
			return col[i].Priority < col[j].Priority
		}
		return col[i].CreatedAt.After(col[j].CreatedAt)
	})
}

func sortAgents(rows []*agent.Agent) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
}

func sortActivities(rows []*activity.Activity) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
}

// CanDropInColumn reports whether a card dragged from sourceStatus may be
// released onto the targetStatus column. Dropping on the card's own column
// is always allowed; it reorders without a status change.
func CanDropInColumn(sourceStatus, targetStatus task.Status) bool {
	return task.IsValidTransition(sourceStatus, targetStatus)
}

// MoveRequest describes a completed drop.
type MoveRequest struct {
	TaskID      string      `json:"task_id"`
	Source      task.Status `json:"source_status"`
	Target      task.Status `json:"target_status"`
	TargetIndex int         `json:"target_index"`
}

// ApplyMove computes the grouping that results from a drop, before the
// backend confirms anything. The input grouping is never mutated: the
// returned value is a new top-level map, with the source and target columns
// cloned and every other column shared by reference. A task ID not found in
// the source column yields a functional no-op (a clone of the input).
// ApplyMove does not validate the transition; callers check
// CanDropInColumn first. Same-column moves are pure reorders.
func ApplyMove(g Grouping, mv MoveRequest) Grouping {
	out := make(Grouping, len(task.AllColumns))
	for _, s := range task.AllColumns {
		out[s] = g[s]
	}

	source := append([]*task.Task(nil), g[mv.Source]...)
	var moved *task.Task
	for i, t := range source {
		if t.ID == mv.TaskID {
			moved = t
			source = append(source[:i], source[i+1:]...)
			break
		}
	}
	if moved == nil {
		return out
	}
	out[mv.Source] = source

	var target []*task.Task
	if mv.Target == mv.Source {
		target = source
	} else {
		target = append([]*task.Task(nil), g[mv.Target]...)
	}

	idx := mv.TargetIndex
	if idx < 0 {
		idx = 0
	}
	if idx > len(target) {
		idx = len(target)
	}
	target = append(target, nil)
	copy(target[idx+1:], target[idx:])
	target[idx] = moved
	out[mv.Target] = target

	return out
}
