package poller

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"ghwatch/internal/classify"
	"ghwatch/internal/eventbus"
	"ghwatch/internal/feed"
	"ghwatch/internal/notification"
	"ghwatch/internal/tracking"
	logx "ghwatch/pkg/logx"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu     sync.Mutex
	events map[string][]feed.Event
	fail   map[string]bool
	calls  []string
	onCall func(id string)
}

func (f *fakeFetcher) FetchEvents(ctx context.Context, id string) ([]feed.Event, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	hook := f.onCall
	f.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	if f.fail[id] {
		return nil, errors.New("upstream 502")
	}
	return f.events[id], nil
}

func watch(id string, at time.Time) feed.Event {
	return feed.Event{ID: id, Type: feed.TypeWatch, Actor: feed.Actor{Login: "u"}, Repo: feed.Repo{Name: id}, Payload: json.RawMessage(`{}`), CreatedAt: at}
}

type recorder struct {
	mu     sync.Mutex
	titles []string
}

func (r *recorder) emit(ctx context.Context, ps []notification.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range ps {
		r.titles = append(r.titles, p.Title)
	}
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newPoller(store *tracking.Store, f Fetcher, rec *recorder, waits *[]time.Duration, opts ...Option) *Poller {
	p := New(store, f, classify.New(logx.Nop()), rec.emit, Config{CycleInterval: time.Minute}, logx.Nop(), opts...)
	p.wait = func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
	return p
}

func TestCycleDeliversAscendingAndOnlyNewer(t *testing.T) {
	clk := &clock{t: t0}
	store := tracking.NewStore(tracking.WithClock(clk.Now))
	_ = store.Add("alice")

	f := &fakeFetcher{events: map[string][]feed.Event{
		// newest first, as the API returns them
		"alice": {watch("e3", t0.Add(3*time.Second)), watch("e2", t0.Add(2*time.Second)), watch("e1", t0.Add(time.Second)), watch("old", t0.Add(-time.Second))},
	}}
	rec := &recorder{}
	var waits []time.Duration
	p := newPoller(store, f, rec, &waits)

	clk.t = t0.Add(10 * time.Second)
	if err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if want := []string{"e1", "e2", "e3"}; !reflect.DeepEqual(rec.titles, want) {
		t.Fatalf("titles = %v, want %v", rec.titles, want)
	}

	// Second cycle: the cursor moved past every event, nothing is replayed.
	rec.titles = nil
	clk.t = t0.Add(20 * time.Second)
	_ = p.RunCycle(context.Background())
	if len(rec.titles) != 0 {
		t.Fatalf("replayed events: %v", rec.titles)
	}
}

func TestPerEntityDelayBetweenEntitiesOnly(t *testing.T) {
	store := tracking.NewStore()
	for _, id := range []string{"a", "b", "c", "d"} {
		_ = store.Add(id)
	}
	f := &fakeFetcher{}
	var waits []time.Duration
	p := newPoller(store, f, &recorder{}, &waits)

	if err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	want := []time.Duration{15 * time.Second, 15 * time.Second, 15 * time.Second}
	if !reflect.DeepEqual(waits, want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	if !reflect.DeepEqual(f.calls, []string{"a", "b", "c", "d"}) {
		t.Fatalf("calls = %v", f.calls)
	}
}

func TestZeroEntitiesIdlesForInterval(t *testing.T) {
	var waits []time.Duration
	f := &fakeFetcher{}
	p := newPoller(tracking.NewStore(), f, &recorder{}, &waits)
	if err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !reflect.DeepEqual(waits, []time.Duration{time.Minute}) || len(f.calls) != 0 {
		t.Fatalf("waits=%v calls=%v", waits, f.calls)
	}
}

func TestFetchFailureDoesNotAbortCycle(t *testing.T) {
	clk := &clock{t: t0}
	store := tracking.NewStore(tracking.WithClock(clk.Now))
	_ = store.Add("bad")
	_ = store.Add("good")
	clk.t = t0.Add(time.Minute)

	f := &fakeFetcher{
		fail:   map[string]bool{"bad": true},
		events: map[string][]feed.Event{"good": {watch("g1", t0.Add(time.Second))}},
	}
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	rec := &recorder{}
	var waits []time.Duration
	p := newPoller(store, f, rec, &waits, WithBus(bus))
	if err := p.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !reflect.DeepEqual(rec.titles, []string{"g1"}) {
		t.Fatalf("titles = %v", rec.titles)
	}
	if e := <-ch; e.Type != eventbus.FeedFailed || e.Data["entity"] != "bad" {
		t.Fatalf("first bus event = %+v", e)
	}
	// The failed account's cursor still advanced.
	if got := store.Cursors()["bad"]; !got.Equal(clk.t) {
		t.Fatalf("cursor of failed account = %v", got)
	}
}

func TestEntityRemovedMidCycleIsSkipped(t *testing.T) {
	store := tracking.NewStore()
	_ = store.Add("a")
	_ = store.Add("b")
	f := &fakeFetcher{}
	f.onCall = func(id string) {
		if id == "a" {
			_ = store.Remove("b")
		}
	}
	var waits []time.Duration
	p := newPoller(store, f, &recorder{}, &waits)
	_ = p.RunCycle(context.Background())
	if !reflect.DeepEqual(f.calls, []string{"a"}) {
		t.Fatalf("calls = %v", f.calls)
	}
}

func TestRunReturnsNilOnCancel(t *testing.T) {
	store := tracking.NewStore()
	p := New(store, &fakeFetcher{}, classify.New(logx.Nop()), (&recorder{}).emit, Config{CycleInterval: time.Hour}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestNewerThanSortsAscending(t *testing.T) {
	in := []feed.Event{watch("b", t0.Add(2)), watch("c", t0.Add(3)), watch("a", t0.Add(1)), watch("z", t0)}
	out := NewerThan(in, t0)
	var ids []string
	for _, e := range out {
		ids = append(ids, e.ID)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Fatalf("ids = %v", ids)
	}
}
