// Package poll turns stateless list/search APIs into at-most-once event
// streams. A per-(workflow, trigger) cursor holds the highest timestamp
// already delivered; every poll reads a window wider than the polling
// interval and drops what the cursor has already seen.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/flowpilot/flowpilot/internal/metrics"
	"github.com/flowpilot/flowpilot/internal/plugin"
)

const DefaultMaxCASRetries = 5

// Event is one new item emitted by a poll.
type Event struct {
	Timestamp int64 `json:"timestamp"`
	Payload   any   `json:"payload"`
}

type Engine struct {
	store      CursorStore
	window     Window
	overrides  map[string]Window
	maxRetries int
	now        func() time.Time
	metrics    *metrics.Metrics
	locks      *keyedMutex
}

type Option func(*Engine)

// WithWindow replaces the default window for all triggers.
func WithWindow(w Window) Option {
	return func(e *Engine) { e.window = w }
}

// WithTriggerWindow overrides the window of one trigger id.
func WithTriggerWindow(triggerID string, w Window) Option {
	return func(e *Engine) { e.overrides[triggerID] = w }
}

func WithMaxCASRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRetries = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(store CursorStore, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		window:     DefaultWindow(),
		overrides:  make(map[string]Window),
		maxRetries: DefaultMaxCASRetries,
		now:        time.Now,
		locks:      newKeyedMutex(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) windowFor(triggerID string) Window {
	if w, ok := e.overrides[triggerID]; ok {
		return w
	}
	return e.window
}

// Poll lists the trigger's items and returns the ones newer than the
// cursor of key, oldest first. Outside testing mode the cursor is advanced
// to the newest returned timestamp before Poll returns, so a crash after
// that point loses events rather than duplicating them. In testing mode
// the cursor is neither applied nor written and the newest sample items
// are returned.
func (e *Engine) Poll(ctx context.Context, t plugin.PollTrigger, key Key, args plugin.RunArgs, testing bool) ([]Event, error) {
	triggerID := t.Describe().ID
	events, err := e.poll(ctx, t, triggerID, key, args, testing)
	switch {
	case err != nil:
		e.metrics.ObservePoll(triggerID, "error", 0)
		slog.Warn("trigger poll failed", "trigger", triggerID, "key", key.String(), "error", err)
	case testing:
		e.metrics.ObservePoll(triggerID, "test", 0)
	default:
		e.metrics.ObservePoll(triggerID, "ok", len(events))
		if len(events) > 0 {
			slog.Info("trigger poll", "trigger", triggerID, "key", key.String(), "events", len(events))
		}
	}
	return events, err
}

func (e *Engine) poll(ctx context.Context, t plugin.PollTrigger, triggerID string, key Key, args plugin.RunArgs, testing bool) ([]Event, error) {
	if !testing {
		unlock := e.locks.Lock(key.String())
		defer unlock()
	}

	var cur Cursor
	if !testing {
		var err error
		if cur, err = e.store.GetCursor(ctx, key); err != nil {
			return nil, &PollError{TriggerID: triggerID, Key: key, Err: fmt.Errorf("read cursor: %w", err)}
		}
	}

	w := e.windowFor(triggerID)
	pw := plugin.Window{Since: e.now().Add(-w.Lookback())}
	if testing {
		pw = plugin.Window{Since: e.now().Add(-w.TestLookback), Limit: w.TestLimit, Testing: true}
	}

	items, err := t.List(ctx, args, pw)
	if err != nil {
		return nil, &PollError{TriggerID: triggerID, Key: key, Err: err}
	}
	stamped := stamp(t, items)

	if testing {
		events := stamped
		if pw.Limit > 0 && len(events) > pw.Limit {
			events = events[len(events)-pw.Limit:]
		}
		return events, nil
	}

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		events := fresh(stamped, cur.Millis)
		next := cur.Millis
		if n := len(events); n > 0 {
			next = events[n-1].Timestamp
		}
		if cur.Set && next == cur.Millis {
			return events, nil
		}

		ok, err := e.store.CompareAndSetCursor(ctx, key, cur, next)
		if err != nil {
			return nil, &PollError{TriggerID: triggerID, Key: key, Err: fmt.Errorf("write cursor: %w", err)}
		}
		if ok {
			return events, nil
		}

		e.metrics.CursorConflict(triggerID)
		cur, err = e.store.GetCursor(ctx, key)
		if err != nil {
			return nil, &PollError{TriggerID: triggerID, Key: key, Err: fmt.Errorf("read cursor: %w", err)}
		}
	}
	return nil, &PollError{TriggerID: triggerID, Key: key, Err: ErrCursorContention}
}

// stamp pairs items with their timestamps, dropping items without one, and
// orders them oldest first. Items sharing a timestamp keep provider order.
func stamp(t plugin.PollTrigger, items []any) []Event {
	out := make([]Event, 0, len(items))
	for _, it := range items {
		ts, ok := t.ExtractTimestamp(it)
		if !ok {
			continue
		}
		out = append(out, Event{Timestamp: ts, Payload: it})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// fresh returns the suffix of sorted events strictly newer than cursor.
func fresh(sorted []Event, cursor int64) []Event {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i].Timestamp > cursor })
	out := make([]Event, len(sorted)-i)
	copy(out, sorted[i:])
	return out
}
