package task

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Meta is the static board metadata for a status. Style tokens are opaque
// to this package; the UI layer resolves them.
type Meta struct {
	Label       string `json:"label"`
	FgToken     string `json:"fg_token"`
	BgToken     string `json:"bg_token"`
	Description string `json:"description"`
	CanAssign   bool   `json:"can_assign"`
	CanDrag     bool   `json:"can_drag"`
}

var titleCaser = cases.Title(language.English)

// label renders a status as a human label: underscores become spaces and
// each word is title-cased, so "in_progress" becomes "In Progress".
func label(s Status) string {
	return titleCaser.String(strings.ReplaceAll(string(s), "_", " "))
}

var statusMeta = map[Status]Meta{
	StatusInbox: {
		Label:       label(StatusInbox),
		FgToken:     "status-inbox-fg",
		BgToken:     "status-inbox-bg",
		Description: "New work, not yet assigned to an agent",
		CanAssign:   true,
		CanDrag:     true,
	},
	StatusAssigned: {
		Label:       label(StatusAssigned),
		FgToken:     "status-assigned-fg",
		BgToken:     "status-assigned-bg",
		Description: "Assigned to an agent, waiting to start",
		CanAssign:   true,
		CanDrag:     true,
	},
	StatusInProgress: {
		Label:       label(StatusInProgress),
		FgToken:     "status-progress-fg",
		BgToken:     "status-progress-bg",
		Description: "An agent is actively working on this task",
		CanAssign:   true,
		CanDrag:     true,
	},
	StatusReview: {
		Label:       label(StatusReview),
		FgToken:     "status-review-fg",
		BgToken:     "status-review-bg",
		Description: "Work finished, awaiting review",
		CanAssign:   true,
		CanDrag:     true,
	},
	StatusDone: {
		Label:       label(StatusDone),
		FgToken:     "status-done-fg",
		BgToken:     "status-done-bg",
		Description: "Completed",
		CanAssign:   false,
		CanDrag:     true,
	},
	StatusCancelled: {
		Label:       label(StatusCancelled),
		FgToken:     "status-cancelled-fg",
		BgToken:     "status-cancelled-bg",
		Description: "Abandoned; can be restored to the inbox",
		CanAssign:   false,
		CanDrag:     true,
	},
}

// KanbanColumns is the canonical ordering of the operationally visible
// board columns. Cancelled tasks are hidden by default but remain a legal
// drop target.
var KanbanColumns = []Status{
	StatusInbox,
	StatusAssigned,
	StatusInProgress,
	StatusReview,
	StatusDone,
}

// AllColumns is KanbanColumns with cancelled appended.
var AllColumns = append(append([]Status{}, KanbanColumns...), StatusCancelled)

// MetaFor returns the board metadata for a status. The second return is
// false for unknown statuses.
func MetaFor(s Status) (Meta, bool) {
	m, ok := statusMeta[s]
	return m, ok
}

// IsKnown reports whether s is one of the six board statuses.
func IsKnown(s Status) bool {
	_, ok := statusMeta[s]
	return ok
}
