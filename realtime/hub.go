package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Hub is a thread-safe in-process change-event broadcaster. The server
// publishes every collection mutation through one Hub instance; local
// synchronizers and the SSE feed subscribe to it. The Hub has an explicit
// lifecycle: construct with NewHub, pass by reference, Close when done.
type Hub struct {
	mu     sync.RWMutex
	subs   map[Collection]map[int]*hubSub
	nextID int
	closed bool
	logger *slog.Logger
}

type hubSub struct {
	id       int
	col      Collection
	kinds    map[EventKind]bool
	filter   *Filter
	onEvent  EventHandler
	onStatus StatusHandler

	hub  *Hub
	once sync.Once
}

// NewHub creates a Hub ready to accept subscriptions.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[Collection]map[int]*hubSub),
		logger: logger,
	}
}

// Subscribe registers handlers for a collection's change events, optionally
// narrowed to the given kinds and row filter. onStatus is invoked with
// StatusSubscribed before Subscribe returns, and with StatusClosed exactly
// once when the subscription is released.
func (h *Hub) Subscribe(_ context.Context, col Collection, kinds []EventKind, filter *Filter, onEvent EventHandler, onStatus StatusHandler) (Subscription, error) {
	if onEvent == nil {
		return nil, fmt.Errorf("subscribe %s: event handler is required", col)
	}

	kindSet := make(map[EventKind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}
	if len(kindSet) == 0 {
		for _, k := range AllEventKinds {
			kindSet[k] = true
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: hub is closed", col)
	}
	h.nextID++
	sub := &hubSub{
		id:       h.nextID,
		col:      col,
		kinds:    kindSet,
		filter:   filter,
		onEvent:  onEvent,
		onStatus: onStatus,
		hub:      h,
	}
	if h.subs[col] == nil {
		h.subs[col] = make(map[int]*hubSub)
	}
	h.subs[col][sub.id] = sub
	h.mu.Unlock()

	if onStatus != nil {
		onStatus(StatusSubscribed, nil)
	}
	return sub, nil
}

// Publish delivers an event to every matching subscriber. Handlers run on
// the caller's goroutine, outside the Hub's lock.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	var targets []*hubSub
	for _, sub := range h.subs[ev.Collection] {
		if sub.kinds[ev.Kind] && sub.filter.Matches(ev) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		sub.onEvent(ev)
	}
}

// Close releases every subscription and rejects future ones. Subscribers
// observe StatusClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*hubSub
	for _, byID := range h.subs {
		for _, sub := range byID {
			all = append(all, sub)
		}
	}
	h.subs = make(map[Collection]map[int]*hubSub)
	h.mu.Unlock()

	for _, sub := range all {
		sub.notifyClosed()
	}
	if h.logger != nil {
		h.logger.Debug("realtime hub closed", slog.Int("subscriptions", len(all)))
	}
}

// Unsubscribe removes the subscription from the hub. Calling it more than
// once is a safe no-op.
func (s *hubSub) Unsubscribe(_ context.Context) error {
	s.hub.mu.Lock()
	if byID, ok := s.hub.subs[s.col]; ok {
		delete(byID, s.id)
		if len(byID) == 0 {
			delete(s.hub.subs, s.col)
		}
	}
	s.hub.mu.Unlock()

	s.notifyClosed()
	return nil
}

func (s *hubSub) notifyClosed() {
	s.once.Do(func() {
		if s.onStatus != nil {
			s.onStatus(StatusClosed, nil)
		}
	})
}
