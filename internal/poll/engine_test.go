package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flowpilot/flowpilot/internal/flowerr"
	"github.com/flowpilot/flowpilot/internal/plugin"
	"github.com/flowpilot/flowpilot/internal/schema"
)

type item struct {
	ID string
	T  int64 // 0 means no timestamp
}

type fakeTrigger struct {
	mu      sync.Mutex
	items   []item
	err     error
	windows []plugin.Window
	onList  func()
}

func (f *fakeTrigger) Describe() plugin.Descriptor         { return plugin.Descriptor{ID: "fake_poll"} }
func (f *fakeTrigger) Schema() schema.Schema               { return nil }
func (f *fakeTrigger) MockRun(plugin.RunArgs) (any, error) { return nil, nil }
func (f *fakeTrigger) Strategy() plugin.Strategy           { return plugin.StrategyPoll }

func (f *fakeTrigger) List(_ context.Context, _ plugin.RunArgs, w plugin.Window) ([]any, error) {
	f.mu.Lock()
	f.windows = append(f.windows, w)
	items, err, hook := f.items, f.err, f.onList
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out, nil
}

func (f *fakeTrigger) ExtractTimestamp(v any) (int64, bool) {
	it := v.(item)
	return it.T, it.T != 0
}

type memStore struct {
	mu       sync.Mutex
	cursors  map[Key]int64
	casCalls int
	failCAS  int // number of CAS calls to lose before succeeding
	bumpTo   int64
}

func newMemStore() *memStore { return &memStore{cursors: make(map[Key]int64)} }

func (s *memStore) GetCursor(_ context.Context, k Key) (Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cursors[k]
	return Cursor{Millis: v, Set: ok}, nil
}

func (s *memStore) CompareAndSetCursor(_ context.Context, k Key, expected Cursor, next int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.casCalls++
	if s.failCAS > 0 {
		s.failCAS--
		s.cursors[k] = s.bumpTo
		return false, nil
	}
	v, ok := s.cursors[k]
	if ok != expected.Set || (ok && v != expected.Millis) {
		return false, nil
	}
	s.cursors[k] = next
	return true, nil
}

var key = Key{WorkflowID: "wf1", TriggerNodeID: "trigger"}

func ids(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Payload.(item).ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPollFirstThenIdempotent(t *testing.T) {
	store := newMemStore()
	trig := &fakeTrigger{items: []item{{"b", 2000}, {"a", 1000}}}
	e := NewEngine(store)
	ctx := context.Background()

	got, err := e.Poll(ctx, trig, key, plugin.RunArgs{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !equal(ids(got), []string{"a", "b"}) {
		t.Fatalf("first poll = %v, want [a b]", ids(got))
	}
	if c := store.cursors[key]; c != 2000 {
		t.Errorf("cursor = %d, want 2000", c)
	}

	got, err = e.Poll(ctx, trig, key, plugin.RunArgs{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("second poll = %v, want empty", ids(got))
	}
}

func TestPollMonotonicAndNoDuplication(t *testing.T) {
	store := newMemStore()
	trig := &fakeTrigger{}
	e := NewEngine(store)
	ctx := context.Background()

	rounds := []struct {
		items  []item
		want   []string
		cursor int64
	}{
		{[]item{{"a", 100}, {"b", 300}}, []string{"a", "b"}, 300},
		{[]item{{"b", 300}, {"c", 200}, {"d", 400}}, []string{"d"}, 400},
		{[]item{{"e", 350}}, nil, 400},
		{[]item{{"f", 400}, {"g", 401}}, []string{"g"}, 401},
	}
	for i, r := range rounds {
		trig.items = r.items
		got, err := e.Poll(ctx, trig, key, plugin.RunArgs{}, false)
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		if !equal(ids(got), r.want) {
			t.Errorf("round %d events = %v, want %v", i, ids(got), r.want)
		}
		if c := store.cursors[key]; c != r.cursor {
			t.Errorf("round %d cursor = %d, want %d", i, c, r.cursor)
		}
	}
}

func TestPollTiesKeepProviderOrder(t *testing.T) {
	trig := &fakeTrigger{items: []item{{"x", 500}, {"y", 100}, {"z", 500}}}
	got, err := NewEngine(newMemStore()).Poll(context.Background(), trig, key, plugin.RunArgs{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !equal(ids(got), []string{"y", "x", "z"}) {
		t.Errorf("events = %v, want [y x z]", ids(got))
	}
}

func TestPollDropsItemsWithoutTimestamp(t *testing.T) {
	trig := &fakeTrigger{items: []item{{"none", 0}, {"a", 10}}}
	got, err := NewEngine(newMemStore()).Poll(context.Background(), trig, key, plugin.RunArgs{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !equal(ids(got), []string{"a"}) {
		t.Errorf("events = %v, want [a]", ids(got))
	}
}

func TestPollCreatesCursorOnEmptyFirstPoll(t *testing.T) {
	store := newMemStore()
	if _, err := NewEngine(store).Poll(context.Background(), &fakeTrigger{}, key, plugin.RunArgs{}, false); err != nil {
		t.Fatal(err)
	}
	c, ok := store.cursors[key]
	if !ok || c != 0 {
		t.Errorf("cursor = %d, %v; want 0, true", c, ok)
	}
}

func TestPollWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trig := &fakeTrigger{}
	e := NewEngine(newMemStore(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := e.Poll(ctx, trig, key, plugin.RunArgs{}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Poll(ctx, trig, key, plugin.RunArgs{}, true); err != nil {
		t.Fatal(err)
	}

	live, test := trig.windows[0], trig.windows[1]
	if want := now.Add(-16 * time.Minute); !live.Since.Equal(want) || live.Limit != 0 || live.Testing {
		t.Errorf("live window = %+v, want since %v", live, want)
	}
	if want := now.Add(-DefaultTestLookback); !test.Since.Equal(want) || test.Limit != DefaultTestLimit || !test.Testing {
		t.Errorf("test window = %+v, want since %v limit %d", test, want, DefaultTestLimit)
	}
}

func TestPollTriggerWindowOverride(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	w := DefaultWindow()
	w.Interval = 5 * time.Minute
	w.Margin = 30 * time.Second
	trig := &fakeTrigger{}
	e := NewEngine(newMemStore(), WithClock(func() time.Time { return now }), WithTriggerWindow("fake_poll", w))
	if _, err := e.Poll(context.Background(), trig, key, plugin.RunArgs{}, false); err != nil {
		t.Fatal(err)
	}
	if want := now.Add(-5*time.Minute - 30*time.Second); !trig.windows[0].Since.Equal(want) {
		t.Errorf("since = %v, want %v", trig.windows[0].Since, want)
	}
}

func TestPollTestingNeverTouchesCursor(t *testing.T) {
	store := newMemStore()
	store.cursors[key] = 5000
	trig := &fakeTrigger{items: []item{{"old", 1000}, {"older", 500}, {"newer", 2000}}}
	got, err := NewEngine(store).Poll(context.Background(), trig, key, plugin.RunArgs{}, true)
	if err != nil {
		t.Fatal(err)
	}
	if !equal(ids(got), []string{"newer"}) {
		t.Errorf("sample = %v, want [newer]", ids(got))
	}
	if store.casCalls != 0 || store.cursors[key] != 5000 {
		t.Errorf("cursor touched: cas calls %d, cursor %d", store.casCalls, store.cursors[key])
	}
}

func TestPollProviderFailureLeavesCursor(t *testing.T) {
	store := newMemStore()
	store.cursors[key] = 42
	trig := &fakeTrigger{err: errors.New("503 from provider")}
	_, err := NewEngine(store).Poll(context.Background(), trig, key, plugin.RunArgs{}, false)

	var pe *PollError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PollError", err)
	}
	if !pe.Retryable() || !flowerr.IsRetryable(err) || flowerr.KindOf(err) != flowerr.KindTriggerPoll {
		t.Errorf("poll error not classified as retryable trigger_poll: %v", err)
	}
	if store.casCalls != 0 || store.cursors[key] != 42 {
		t.Errorf("cursor touched after failure")
	}
}

func TestPollRefiltersAfterLostRace(t *testing.T) {
	store := newMemStore()
	store.failCAS = 1
	store.bumpTo = 200 // a concurrent poller delivered up to 200
	trig := &fakeTrigger{items: []item{{"a", 100}, {"b", 200}, {"c", 300}}}

	got, err := NewEngine(store).Poll(context.Background(), trig, key, plugin.RunArgs{}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !equal(ids(got), []string{"c"}) {
		t.Errorf("events = %v, want [c]", ids(got))
	}
	if store.cursors[key] != 300 {
		t.Errorf("cursor = %d, want 300", store.cursors[key])
	}
}

func TestPollContentionExhausted(t *testing.T) {
	store := newMemStore()
	store.failCAS = 100
	store.bumpTo = 1
	trig := &fakeTrigger{items: []item{{"a", 100}}}

	_, err := NewEngine(store, WithMaxCASRetries(2)).Poll(context.Background(), trig, key, plugin.RunArgs{}, false)
	if !errors.Is(err, ErrCursorContention) {
		t.Fatalf("err = %v, want ErrCursorContention", err)
	}
	if store.casCalls != 3 {
		t.Errorf("cas calls = %d, want 3", store.casCalls)
	}
}

func TestPollConcurrentSameKeyDeliversOnce(t *testing.T) {
	store := newMemStore()
	trig := &fakeTrigger{items: []item{{"a", 1}, {"b", 2}, {"c", 3}}}
	e := NewEngine(store)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Poll(context.Background(), trig, key, plugin.RunArgs{}, false)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			total += len(got)
			mu.Unlock()
		}()
	}
	wg.Wait()
	if total != 3 {
		t.Errorf("delivered %d events across concurrent polls, want 3", total)
	}
}

func TestPollDifferentKeysIndependent(t *testing.T) {
	store := newMemStore()
	trig := &fakeTrigger{items: []item{{"a", 10}}}
	e := NewEngine(store)
	other := Key{WorkflowID: "wf2", TriggerNodeID: "trigger"}
	for _, k := range []Key{key, other} {
		got, err := e.Poll(context.Background(), trig, k, plugin.RunArgs{}, false)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Errorf("%s: events = %d, want 1", k, len(got))
		}
	}
}

func TestWindowValidate(t *testing.T) {
	if err := DefaultWindow().Validate(); err != nil {
		t.Errorf("default window invalid: %v", err)
	}
	w := DefaultWindow()
	w.Margin = 0
	if err := w.Validate(); err == nil {
		t.Error("zero margin should be rejected")
	}
	if got := DefaultWindow().Lookback(); got != 16*time.Minute {
		t.Errorf("lookback = %v, want 16m", got)
	}
}
