package task

import "time"

// transitions is the adjacency table of legal status changes. A transition
// from a status to itself is always legal and is not listed here.
var transitions = map[Status][]Status{
	StatusInbox:      {StatusAssigned, StatusCancelled},
	StatusAssigned:   {StatusInProgress, StatusInbox, StatusCancelled},
	StatusInProgress: {StatusReview, StatusDone, StatusAssigned, StatusCancelled},
	StatusReview:     {StatusDone, StatusInProgress, StatusCancelled},
	StatusDone:       {StatusInProgress},
	StatusCancelled:  {StatusInbox},
}

// IsValidTransition reports whether a task may move from one status to
// another. Identity transitions are always valid; they allow reordering a
// task within its current column. Unknown statuses are never valid targets.
func IsValidTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidNextStatuses returns the statuses reachable from the given status,
// excluding the status itself. The returned slice is a copy and safe to
// modify. Unknown statuses yield an empty slice.
func ValidNextStatuses(from Status) []Status {
	next := transitions[from]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// Effects describes the timestamp side effects a transition implies.
type Effects struct {
	SetStartedAt     bool
	SetCompletedAt   bool
	ClearCompletedAt bool
}

// TransitionEffects computes the timestamp side effects of moving a task
// from one status to another. It is total over the full status product: any
// pair of statuses, valid transition or not, yields a defined result, and a
// no-op transition implies no effects.
func TransitionEffects(from, to Status) Effects {
	return Effects{
		SetStartedAt:     to == StatusInProgress && from != StatusInProgress,
		SetCompletedAt:   to == StatusDone && from != StatusDone,
		ClearCompletedAt: from == StatusDone && to != StatusDone,
	}
}

// Apply stamps the effects onto a task using now for any timestamp being
// set. SetStartedAt only fills started_at if it is not already set, so a
// task that re-enters in_progress keeps its original start time.
func (e Effects) Apply(t *Task, now time.Time) {
	if e.SetStartedAt && t.StartedAt == nil {
		ts := now
		t.StartedAt = &ts
	}
	if e.SetCompletedAt {
		ts := now
		t.CompletedAt = &ts
	}
	if e.ClearCompletedAt {
		t.CompletedAt = nil
	}
}
