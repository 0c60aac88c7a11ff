package realtime

import (
	"context"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func mustEvent(t *testing.T, col Collection, kind EventKind, newRow, oldRow any) Event {
	t.Helper()
	ev, err := NewEvent(col, kind, newRow, oldRow)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return ev
}

type row struct {
	ID      string `json:"id"`
	AgentID string `json:"agent_id"`
}

func TestHub_SubscribeAndPublish(t *testing.T) {
	hub := NewHub(discardLogger())
	ctx := context.Background()

	var got []Event
	var statuses []ConnStatus
	sub, err := hub.Subscribe(ctx, CollectionTasks, nil, nil,
		func(ev Event) { got = append(got, ev) },
		func(st ConnStatus, _ error) { statuses = append(statuses, st) },
	)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if len(statuses) != 1 || statuses[0] != StatusSubscribed {
		t.Fatalf("statuses = %v, want [SUBSCRIBED]", statuses)
	}

	hub.Publish(mustEvent(t, CollectionTasks, EventInsert, row{ID: "t1"}, nil))
	hub.Publish(mustEvent(t, CollectionAgents, EventInsert, row{ID: "a1"}, nil))

	if len(got) != 1 {
		t.Fatalf("received %d events, want 1 (other collection filtered)", len(got))
	}
	if got[0].Kind != EventInsert || got[0].Collection != CollectionTasks {
		t.Errorf("event = %+v, want tasks insert", got[0])
	}

	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if statuses[len(statuses)-1] != StatusClosed {
		t.Errorf("final status = %v, want CLOSED", statuses[len(statuses)-1])
	}

	hub.Publish(mustEvent(t, CollectionTasks, EventInsert, row{ID: "t2"}, nil))
	if len(got) != 1 {
		t.Errorf("received event after unsubscribe")
	}
}

func TestHub_UnsubscribeTwice(t *testing.T) {
	hub := NewHub(discardLogger())
	ctx := context.Background()

	var closes int
	sub, err := hub.Subscribe(ctx, CollectionTasks, nil, nil,
		func(Event) {},
		func(st ConnStatus, _ error) {
			if st == StatusClosed {
				closes++
			}
		},
	)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatalf("first Unsubscribe: %v", err)
	}
	if err := sub.Unsubscribe(ctx); err != nil {
		t.Fatalf("second Unsubscribe: %v", err)
	}
	if closes != 1 {
		t.Errorf("CLOSED delivered %d times, want 1", closes)
	}
}

func TestHub_KindFilter(t *testing.T) {
	hub := NewHub(discardLogger())
	ctx := context.Background()

	var got []EventKind
	_, err := hub.Subscribe(ctx, CollectionActivities, []EventKind{EventInsert}, nil,
		func(ev Event) { got = append(got, ev.Kind) }, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	hub.Publish(mustEvent(t, CollectionActivities, EventInsert, row{ID: "x"}, nil))
	hub.Publish(mustEvent(t, CollectionActivities, EventUpdate, row{ID: "x"}, nil))
	hub.Publish(mustEvent(t, CollectionActivities, EventDelete, nil, row{ID: "x"}))

	if len(got) != 1 || got[0] != EventInsert {
		t.Errorf("received kinds %v, want [insert]", got)
	}
}

func TestHub_RowFilter(t *testing.T) {
	hub := NewHub(discardLogger())
	ctx := context.Background()

	var got []Event
	_, err := hub.Subscribe(ctx, CollectionTasks, nil, &Filter{Field: "agent_id", Value: "a1"},
		func(ev Event) { got = append(got, ev) }, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	hub.Publish(mustEvent(t, CollectionTasks, EventInsert, row{ID: "t1", AgentID: "a1"}, nil))
	hub.Publish(mustEvent(t, CollectionTasks, EventInsert, row{ID: "t2", AgentID: "a2"}, nil))
	// Delete events match on the old snapshot.
	hub.Publish(mustEvent(t, CollectionTasks, EventDelete, nil, row{ID: "t1", AgentID: "a1"}))

	if len(got) != 2 {
		t.Fatalf("received %d events, want 2", len(got))
	}
	if got[1].Kind != EventDelete {
		t.Errorf("second event = %v, want delete for the filtered row", got[1].Kind)
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(discardLogger())
	ctx := context.Background()

	var last ConnStatus
	_, err := hub.Subscribe(ctx, CollectionTasks, nil, nil,
		func(Event) {}, func(st ConnStatus, _ error) { last = st })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	hub.Close()
	if last != StatusClosed {
		t.Errorf("status after Close = %v, want CLOSED", last)
	}

	if _, err := hub.Subscribe(ctx, CollectionTasks, nil, nil, func(Event) {}, nil); err == nil {
		t.Error("Subscribe after Close succeeded, want error")
	}

	hub.Close() // second Close is a no-op
}

func TestFilter_MalformedRow(t *testing.T) {
	f := &Filter{Field: "agent_id", Value: "a1"}
	if f.Matches(Event{Kind: EventInsert, New: []byte("{not json")}) {
		t.Error("malformed row matched the filter")
	}
	if f.Matches(Event{Kind: EventInsert}) {
		t.Error("event without a row matched the filter")
	}
}
