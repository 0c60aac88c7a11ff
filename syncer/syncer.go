// Package syncer keeps a client-local view of a collection consistent with
// the authoritative change-event stream. Each Synchronizer owns one
// collection's cached rows and the subscription that feeds them: it folds
// insert/update/delete events into local state idempotently, supports a
// manual full-snapshot refresh, and guarantees that nothing mutates the
// cache after teardown.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoCodeAlone/opsboard/realtime"
)

// Entity is a synchronized row. Identity is the only thing the fold logic
// needs from the row itself.
type Entity interface {
	EntityID() string
}

// Status is the synchronizer's connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ErrClosed is returned by operations on a synchronizer that has been
// closed.
var ErrClosed = errors.New("synchronizer is closed")

// Options configures a Synchronizer.
type Options[T Entity] struct {
	// Collection names the subscribed collection.
	Collection realtime.Collection

	// Kinds narrows the subscription; empty means all event kinds.
	Kinds []realtime.EventKind

	// Filter is the single equality filter passed to the event source and
	// honored by Refresh.
	Filter *realtime.Filter

	// Keep is an optional row predicate reapplied after every fold; rows it
	// rejects are dropped from the exposed view.
	Keep func(T) bool

	// Reorder is an optional sort hook applied after every fold and
	// refresh. The task view regroups by status and resorts here; the agent
	// view sorts by name.
	Reorder func([]T) []T

	// InsertOnly restricts folding to insert events. Update and delete
	// events are ignored, matching append-only collections.
	InsertOnly bool

	// MaxRows bounds the cache; rows past the limit (after Reorder) are
	// dropped. Zero means unbounded.
	MaxRows int

	// Decode turns an event's row snapshot into an entity.
	Decode func(json.RawMessage) (T, error)

	// Fetch returns the full current snapshot for Refresh, honoring Filter.
	Fetch func(ctx context.Context) ([]T, error)

	// OnChange, when set, observes every committed view: it runs with a
	// fresh snapshot after each fold and refresh.
	OnChange func([]T)

	Logger *slog.Logger
}

// JSONDecoder returns a Decode function that unmarshals a row snapshot
// into a fresh *E.
func JSONDecoder[E any]() func(json.RawMessage) (*E, error) {
	return func(raw json.RawMessage) (*E, error) {
		var e E
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		return &e, nil
	}
}

// Synchronizer owns one collection's local cache and subscription
// lifecycle. All methods are safe for concurrent use; event folding runs on
// the source's delivery goroutine.
type Synchronizer[T Entity] struct {
	mu      sync.Mutex
	opts    Options[T]
	rows    []T
	status  Status
	lastErr error
	sub     realtime.Subscription
	closed  bool
	logger  *slog.Logger
}

// New creates a Synchronizer seeded with the initial snapshot (typically
// server-rendered data). The synchronizer stays disconnected until
// Activate.
func New[T Entity](opts Options[T], initial []T) (*Synchronizer[T], error) {
	if opts.Decode == nil {
		return nil, fmt.Errorf("new synchronizer %s: Decode is required", opts.Collection)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Synchronizer[T]{
		opts:   opts,
		status: StatusDisconnected,
		logger: logger,
	}
	s.rows = s.normalize(append([]T(nil), initial...))
	return s, nil
}

// Activate opens the change-event subscription. The synchronizer reports
// connecting immediately and moves to connected or error as the source's
// status callback fires. Activating a closed or already active synchronizer
// is an error.
func (s *Synchronizer[T]) Activate(ctx context.Context, source realtime.Source) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.sub != nil {
		s.mu.Unlock()
		return fmt.Errorf("activate %s: already active", s.opts.Collection)
	}
	s.status = StatusConnecting
	s.mu.Unlock()

	sub, err := source.Subscribe(ctx, s.opts.Collection, s.opts.Kinds, s.opts.Filter, s.fold, s.onStatus)
	if err != nil {
		s.mu.Lock()
		s.status = StatusError
		s.lastErr = err
		s.mu.Unlock()
		return fmt.Errorf("activate %s: %w", s.opts.Collection, err)
	}

	s.mu.Lock()
	if s.closed {
		// Closed while subscribing; release immediately.
		s.mu.Unlock()
		_ = sub.Unsubscribe(ctx)
		return ErrClosed
	}
	s.sub = sub
	s.mu.Unlock()
	return nil
}

// fold applies one change event to the cached rows. Folding is idempotent
// under duplicate delivery: an insert for a known row is a no-op, an update
// for an unknown row degrades to an insert, and a delete for an absent row
// is a no-op.
func (s *Synchronizer[T]) fold(ev realtime.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		// Teardown was requested; in-flight events must not mutate state.
		return
	}

	if s.opts.InsertOnly && ev.Kind != realtime.EventInsert {
		return
	}

	switch ev.Kind {
	case realtime.EventInsert, realtime.EventUpdate:
		row, err := s.opts.Decode(ev.New)
		if err != nil {
			s.logger.Warn("drop malformed change event",
				slog.String("collection", string(s.opts.Collection)),
				slog.String("kind", string(ev.Kind)),
				slog.Any("err", err))
			return
		}
		// A redelivered insert for a known row must not revert state the
		// stream has already moved past, so inserts never overwrite.
		// Updates always do: the last applied update for a row wins.
		s.upsertLocked(row, ev.Kind == realtime.EventUpdate)
	case realtime.EventDelete:
		row, err := s.opts.Decode(ev.Row())
		if err != nil {
			s.logger.Warn("drop malformed change event",
				slog.String("collection", string(s.opts.Collection)),
				slog.String("kind", string(ev.Kind)),
				slog.Any("err", err))
			return
		}
		s.removeLocked(row.EntityID())
	default:
		s.logger.Warn("drop change event of unknown kind",
			slog.String("collection", string(s.opts.Collection)),
			slog.String("kind", string(ev.Kind)))
		return
	}

	s.rows = s.normalize(s.rows)
	s.notifyLocked()
}

// notifyLocked hands OnChange a snapshot. The callback runs on the folding
// goroutine and must not call back into the synchronizer.
func (s *Synchronizer[T]) notifyLocked() {
	if s.opts.OnChange == nil {
		return
	}
	snap := make([]T, len(s.rows))
	copy(snap, s.rows)
	s.opts.OnChange(snap)
}

func (s *Synchronizer[T]) upsertLocked(row T, overwrite bool) {
	id := row.EntityID()
	for i, r := range s.rows {
		if r.EntityID() == id {
			if overwrite {
				s.rows[i] = row
			}
			return
		}
	}
	s.rows = append(s.rows, row)
}

func (s *Synchronizer[T]) removeLocked(id string) {
	for i, r := range s.rows {
		if r.EntityID() == id {
			s.rows = append(s.rows[:i], s.rows[i+1:]...)
			return
		}
	}
}

// normalize reapplies the consumer filter, sort hook, and row cap.
func (s *Synchronizer[T]) normalize(rows []T) []T {
	if s.opts.Keep != nil {
		kept := rows[:0]
		for _, r := range rows {
			if s.opts.Keep(r) {
				kept = append(kept, r)
			}
		}
		rows = kept
	}
	if s.opts.Reorder != nil {
		rows = s.opts.Reorder(rows)
	}
	if s.opts.MaxRows > 0 && len(rows) > s.opts.MaxRows {
		rows = rows[:s.opts.MaxRows]
	}
	return rows
}

// onStatus tracks the subscription transport state.
func (s *Synchronizer[T]) onStatus(st realtime.ConnStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	switch st {
	case realtime.StatusSubscribed:
		s.status = StatusConnected
		s.lastErr = nil
	case realtime.StatusChannelError, realtime.StatusTimedOut:
		// Cached rows are retained: a stale view beats a blank one.
		s.status = StatusError
		if err == nil {
			err = fmt.Errorf("subscription %s: %s", s.opts.Collection, st)
		}
		s.lastErr = err
	case realtime.StatusClosed:
		s.status = StatusDisconnected
	}
}

// Refresh replaces the cached rows with a full snapshot fetch. It is the
// recovery path when the event stream is suspected stale. On fetch failure
// the cache is left untouched and the error is both recorded and returned.
func (s *Synchronizer[T]) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	fetch := s.opts.Fetch
	s.mu.Unlock()

	if fetch == nil {
		return fmt.Errorf("refresh %s: no fetch function configured", s.opts.Collection)
	}

	rows, err := fetch(ctx)
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		return fmt.Errorf("refresh %s: %w", s.opts.Collection, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.rows = s.normalize(append([]T(nil), rows...))
	s.notifyLocked()
	return nil
}

// Rows returns a snapshot of the cached rows. The slice is a copy; the
// rows themselves are shared.
func (s *Synchronizer[T]) Rows() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.rows))
	copy(out, s.rows)
	return out
}

// Status returns the connection state and the last recorded error.
func (s *Synchronizer[T]) Status() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.lastErr
}

// Close tears the synchronizer down: the subscription is released exactly
// once and any event still in flight is dropped. Closing twice is a safe
// no-op.
func (s *Synchronizer[T]) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	s.status = StatusDisconnected
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Unsubscribe(ctx); err != nil {
			return fmt.Errorf("close %s: %w", s.opts.Collection, err)
		}
	}
	return nil
}
