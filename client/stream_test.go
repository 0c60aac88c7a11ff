package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/opsboard/realtime"
)

// sseServer pushes realtime events to any connected SSE client.
type sseServer struct {
	mu      sync.Mutex
	clients map[chan realtime.Event]struct{}
}

func newSSEServer() *sseServer {
	return &sseServer{clients: make(map[chan realtime.Event]struct{})}
}

func (s *sseServer) push(ev realtime.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.clients {
		ch <- ev
	}
}

func (s *sseServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	ch := make(chan realtime.Event, 16)
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, ch)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func mustEvent(t *testing.T, col realtime.Collection, kind realtime.EventKind, row any) realtime.Event {
	t.Helper()
	ev, err := realtime.NewEvent(col, kind, row, nil)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return ev
}

func TestStream_SubscribeReceivesEvents(t *testing.T) {
	backend := newSSEServer()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	stream := NewStream(srv.URL)

	events := make(chan realtime.Event, 16)
	statuses := make(chan realtime.ConnStatus, 16)
	sub, err := stream.Subscribe(context.Background(), realtime.CollectionTasks, nil, nil,
		func(ev realtime.Event) { events <- ev },
		func(st realtime.ConnStatus, _ error) { statuses <- st },
	)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe(context.Background()) //nolint:errcheck

	if st := <-statuses; st != realtime.StatusSubscribed {
		t.Fatalf("first status = %v, want SUBSCRIBED", st)
	}

	// Give the server a moment to register the client.
	waitForClient(t, backend)

	type row struct {
		ID string `json:"id"`
	}
	backend.push(mustEvent(t, realtime.CollectionTasks, realtime.EventInsert, row{ID: "t1"}))
	backend.push(mustEvent(t, realtime.CollectionAgents, realtime.EventInsert, row{ID: "a1"}))
	backend.push(mustEvent(t, realtime.CollectionTasks, realtime.EventUpdate, row{ID: "t1"}))

	got := receiveN(t, events, 2)
	if got[0].Kind != realtime.EventInsert || got[1].Kind != realtime.EventUpdate {
		t.Errorf("events = %v, want insert then update", got)
	}
	for _, ev := range got {
		if ev.Collection != realtime.CollectionTasks {
			t.Errorf("received event for %s, subscription is scoped to tasks", ev.Collection)
		}
	}
}

func TestStream_KindAndRowFilters(t *testing.T) {
	backend := newSSEServer()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	stream := NewStream(srv.URL)

	events := make(chan realtime.Event, 16)
	sub, err := stream.Subscribe(context.Background(), realtime.CollectionTasks,
		[]realtime.EventKind{realtime.EventInsert},
		&realtime.Filter{Field: "agent_id", Value: "a1"},
		func(ev realtime.Event) { events <- ev }, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe(context.Background()) //nolint:errcheck

	waitForClient(t, backend)

	type row struct {
		ID      string `json:"id"`
		AgentID string `json:"agent_id"`
	}
	backend.push(mustEvent(t, realtime.CollectionTasks, realtime.EventInsert, row{ID: "t1", AgentID: "a1"}))
	backend.push(mustEvent(t, realtime.CollectionTasks, realtime.EventInsert, row{ID: "t2", AgentID: "a2"}))
	backend.push(mustEvent(t, realtime.CollectionTasks, realtime.EventUpdate, row{ID: "t3", AgentID: "a1"}))
	backend.push(mustEvent(t, realtime.CollectionTasks, realtime.EventInsert, row{ID: "t4", AgentID: "a1"}))

	got := receiveN(t, events, 2)
	for _, ev := range got {
		var r row
		if err := json.Unmarshal(ev.New, &r); err != nil {
			t.Fatalf("unmarshal event row: %v", err)
		}
		if r.AgentID != "a1" || ev.Kind != realtime.EventInsert {
			t.Errorf("event %s/%s leaked through the filters", ev.Kind, r.ID)
		}
	}
}

func TestStream_UnsubscribeClosesFeed(t *testing.T) {
	backend := newSSEServer()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	stream := NewStream(srv.URL)

	statuses := make(chan realtime.ConnStatus, 16)
	sub, err := stream.Subscribe(context.Background(), realtime.CollectionTasks, nil, nil,
		func(realtime.Event) {}, func(st realtime.ConnStatus, _ error) { statuses <- st })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if st := <-statuses; st != realtime.StatusSubscribed {
		t.Fatalf("first status = %v, want SUBSCRIBED", st)
	}

	if err := sub.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := sub.Unsubscribe(context.Background()); err != nil {
		t.Fatalf("second Unsubscribe: %v", err)
	}

	select {
	case st := <-statuses:
		if st != realtime.StatusClosed {
			t.Errorf("status after unsubscribe = %v, want CLOSED", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no CLOSED status after unsubscribe")
	}
}

func waitForClient(t *testing.T, s *sseServer) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.clients)
		s.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("SSE client never connected")
}

func receiveN(t *testing.T, ch chan realtime.Event, n int) []realtime.Event {
	t.Helper()
	out := make([]realtime.Event, 0, n)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d events, want %d", len(out), n)
		}
	}
	return out
}
