// Package realtime carries change events between the collections' owner and
// the board's synchronizers. The in-process Hub is the authoritative event
// source; the SSE feed bridges it to remote dashboards.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// Collection names a synchronized collection.
type Collection string

const (
	CollectionTasks      Collection = "tasks"
	CollectionAgents     Collection = "agents"
	CollectionActivities Collection = "activities"
)

// EventKind discriminates change events. The set is closed: folding code
// switches over it exhaustively and treats anything else as malformed.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// AllEventKinds lists every kind, for subscriptions that want the full
// stream.
var AllEventKinds = []EventKind{EventInsert, EventUpdate, EventDelete}

// Event is one change notification carrying full row snapshots. New is set
// for inserts and updates, Old for updates and deletes.
type Event struct {
	Collection Collection      `json:"collection"`
	Kind       EventKind       `json:"kind"`
	New        json.RawMessage `json:"new,omitempty"`
	Old        json.RawMessage `json:"old,omitempty"`
}

// Row returns the snapshot that identifies the affected row: New when
// present, otherwise Old.
func (e Event) Row() json.RawMessage {
	if len(e.New) > 0 {
		return e.New
	}
	return e.Old
}

// NewEvent builds an Event, marshaling the given rows. A nil row is omitted.
func NewEvent(col Collection, kind EventKind, newRow, oldRow any) (Event, error) {
	ev := Event{Collection: col, Kind: kind}
	if newRow != nil {
		data, err := json.Marshal(newRow)
		if err != nil {
			return Event{}, fmt.Errorf("marshal new row: %w", err)
		}
		ev.New = data
	}
	if oldRow != nil {
		data, err := json.Marshal(oldRow)
		if err != nil {
			return Event{}, fmt.Errorf("marshal old row: %w", err)
		}
		ev.Old = data
	}
	return ev, nil
}

// ConnStatus reports the state of a subscription's transport.
type ConnStatus string

const (
	StatusSubscribed   ConnStatus = "SUBSCRIBED"
	StatusChannelError ConnStatus = "CHANNEL_ERROR"
	StatusTimedOut     ConnStatus = "TIMED_OUT"
	StatusClosed       ConnStatus = "CLOSED"
)

// Filter narrows a subscription to rows whose named field equals a value.
// Field comparison happens on the row's JSON form.
type Filter struct {
	Field string
	Value string
}

// Matches reports whether the event's row satisfies the filter. A nil
// filter matches everything; a row that can't be decoded matches nothing.
func (f *Filter) Matches(ev Event) bool {
	if f == nil {
		return true
	}
	row := ev.Row()
	if len(row) == 0 {
		return false
	}
	var fields map[string]any
	if err := json.Unmarshal(row, &fields); err != nil {
		return false
	}
	v, ok := fields[f.Field]
	if !ok {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

// EventHandler consumes delivered events.
type EventHandler func(Event)

// StatusHandler observes subscription transport state. err is non-nil only
// for error statuses.
type StatusHandler func(ConnStatus, error)

// Subscription is a live event feed that must be released exactly once.
// Releasing twice is a safe no-op.
type Subscription interface {
	Unsubscribe(ctx context.Context) error
}

// Source opens change-event subscriptions scoped to a collection.
type Source interface {
	Subscribe(ctx context.Context, col Collection, kinds []EventKind, filter *Filter, onEvent EventHandler, onStatus StatusHandler) (Subscription, error)
}
