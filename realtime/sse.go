package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// SSEFeed streams hub events to dashboard clients over Server-Sent Events.
type SSEFeed struct {
	hub    *Hub
	logger *slog.Logger
}

// NewSSEFeed creates a feed backed by the given hub.
func NewSSEFeed(hub *Hub, logger *slog.Logger) *SSEFeed {
	return &SSEFeed{hub: hub, logger: logger}
}

// ServeHTTP handles a GET /events request. An optional ?collection= query
// parameter narrows the stream to one collection; by default the client
// receives events for all of them.
func (f *SSEFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	cols := []Collection{CollectionTasks, CollectionAgents, CollectionActivities}
	if c := r.URL.Query().Get("collection"); c != "" {
		cols = []Collection{Collection(c)}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	ch := make(chan []byte, 64)
	onEvent := func(ev Event) {
		data, err := json.Marshal(ev)
		if err != nil {
			f.logger.Error("sse marshal event", slog.Any("err", err))
			return
		}
		select {
		case ch <- data:
		default:
			// Drop event if client is slow — don't block
		}
	}

	subs := make([]Subscription, 0, len(cols))
	for _, col := range cols {
		sub, err := f.hub.Subscribe(r.Context(), col, nil, nil, onEvent, nil)
		if err != nil {
			f.logger.Warn("sse subscribe", slog.String("collection", string(col)), slog.Any("err", err))
			continue
		}
		subs = append(subs, sub)
	}
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe(r.Context())
		}
	}()

	// Send connected event
	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n") //nolint:errcheck
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-ch:
			// Each SSE "data:" line must not contain newlines
			for _, line := range strings.Split(string(data), "\n") {
				fmt.Fprintf(w, "data: %s\n", line) //nolint:errcheck
			}
			fmt.Fprintln(w) //nolint:errcheck
			flusher.Flush()
		}
	}
}
