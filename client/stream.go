package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/GoCodeAlone/opsboard/realtime"
)

// Stream subscribes to a server's SSE event feed and adapts it to the
// realtime.Source contract, so remote dashboards drive their synchronizers
// the same way in-process ones do. Kind and row filters the server does
// not understand are applied client-side before dispatch.
type Stream struct {
	baseURL string
	// No request timeout: the event feed is long-lived.
	httpClient *http.Client
}

// NewStream creates a Stream for the given server base URL.
func NewStream(baseURL string) *Stream {
	return &Stream{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

type streamSub struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (s *streamSub) Unsubscribe(context.Context) error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe opens the SSE connection and starts the read loop. onStatus
// sees SUBSCRIBED once the feed is established, CHANNEL_ERROR if the
// connection drops, and CLOSED after Unsubscribe.
func (s *Stream) Subscribe(ctx context.Context, col realtime.Collection, kinds []realtime.EventKind, filter *realtime.Filter, onEvent realtime.EventHandler, onStatus realtime.StatusHandler) (realtime.Subscription, error) {
	if onEvent == nil {
		return nil, fmt.Errorf("subscribe %s: event handler is required", col)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.baseURL+"/events?collection="+string(col), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open event stream: server returned %d", resp.StatusCode)
	}

	kindSet := make(map[realtime.EventKind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}

	if onStatus != nil {
		onStatus(realtime.StatusSubscribed, nil)
	}

	go func() {
		defer resp.Body.Close()
		err := readEvents(streamCtx, resp.Body, func(ev realtime.Event) {
			if ev.Collection != col {
				return
			}
			if len(kindSet) > 0 && !kindSet[ev.Kind] {
				return
			}
			if !filter.Matches(ev) {
				return
			}
			onEvent(ev)
		})
		if onStatus == nil {
			return
		}
		if streamCtx.Err() != nil {
			onStatus(realtime.StatusClosed, nil)
			return
		}
		if err != nil {
			onStatus(realtime.StatusChannelError, err)
			return
		}
		// Server closed the feed without an error.
		onStatus(realtime.StatusClosed, nil)
	}()

	return &streamSub{cancel: cancel}, nil
}

// readEvents parses the SSE wire format: "data:" lines accumulate until a
// blank line terminates one event. Non-JSON payloads and the connection
// preamble are skipped.
func readEvents(ctx context.Context, body io.Reader, dispatch func(realtime.Event)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimPrefix(after, " "))
			data.WriteString("\n")
			continue
		}
		if line != "" {
			continue
		}
		payload := strings.TrimSpace(data.String())
		data.Reset()
		if payload == "" {
			continue
		}

		var ev realtime.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.Kind == "" {
			// Preamble or malformed frame; both are ignorable.
			continue
		}
		dispatch(ev)
	}
	return scanner.Err()
}
