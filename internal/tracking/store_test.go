package tracking

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	logx "ghwatch/pkg/logx"
)

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fixedClock {
	return &fixedClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestAddThenListSingleSortedEntry(t *testing.T) {
	s := NewStore()
	if err := s.Add("Octocat"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	list := s.List()
	if len(list) != 1 || list[0].ID != "Octocat" {
		t.Fatalf("List = %+v", list)
	}
}

func TestAddDuplicateIsCaseInsensitive(t *testing.T) {
	s := NewStore()
	_ = s.Add("octocat")
	if err := s.Add("OctoCat"); !errors.Is(err, ErrAlreadyTracked) {
		t.Fatalf("err = %v, want ErrAlreadyTracked", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d", s.Len())
	}
}

func TestRemoveUnknown(t *testing.T) {
	s := NewStore()
	_ = s.Add("a")
	if err := s.Remove("b"); !errors.Is(err, ErrNotTracked) {
		t.Fatalf("err = %v, want ErrNotTracked", err)
	}
	if !reflect.DeepEqual(s.IDs(), []string{"a"}) {
		t.Fatalf("IDs = %v", s.IDs())
	}
}

func TestListSorted(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"zed", "Alice", "bob"} {
		_ = s.Add(id)
	}
	want := []string{"Alice", "bob", "zed"}
	if got := s.IDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("IDs = %v, want %v", got, want)
	}
}

func TestMarkFetchStartStrictlyIncreasing(t *testing.T) {
	clk := newClock()
	s := NewStore(WithClock(clk.Now))
	_ = s.Add("octocat")
	start := clk.Now()

	// Clock does not advance between calls.
	c1, err := s.MarkFetchStart("octocat")
	if err != nil {
		t.Fatalf("MarkFetchStart: %v", err)
	}
	c2, _ := s.MarkFetchStart("octocat")
	c3, _ := s.MarkFetchStart("OCTOCAT")

	if !c1.Equal(start) {
		t.Fatalf("first capture = %v, want %v", c1, start)
	}
	if !c2.After(c1) || !c3.After(c2) {
		t.Fatalf("captures not increasing: %v %v %v", c1, c2, c3)
	}

	clk.Advance(time.Minute)
	c4, _ := s.MarkFetchStart("octocat")
	if !c4.After(c3) {
		t.Fatalf("capture after advance not increasing: %v <= %v", c4, c3)
	}
}

func TestMarkFetchStartRemoved(t *testing.T) {
	s := NewStore()
	_ = s.Add("gone")
	_ = s.Remove("gone")
	if _, err := s.MarkFetchStart("gone"); !errors.Is(err, ErrNotTracked) {
		t.Fatalf("err = %v", err)
	}
}

func TestRestoreNeverMovesBackwards(t *testing.T) {
	clk := newClock()
	s := NewStore(WithClock(clk.Now))
	_ = s.Add("a")

	if s.Restore("a", clk.Now().Add(-time.Hour)) {
		t.Fatalf("restore moved cursor backwards")
	}
	later := clk.Now().Add(time.Hour)
	if !s.Restore("a", later) {
		t.Fatalf("restore did not move cursor forward")
	}
	if got := s.Cursors()["a"]; !got.Equal(later) {
		t.Fatalf("cursor = %v", got)
	}
	if s.Restore("missing", later) {
		t.Fatalf("restore added an untracked id")
	}
}

func TestSeedAppliesSavedCursorInEitherDirection(t *testing.T) {
	clk := newClock()
	s := NewStore(WithClock(clk.Now))
	_ = s.Add("octocat")

	saved := clk.Now().Add(-time.Hour)
	if !s.Seed("octocat", saved) {
		t.Fatalf("seed reported no change")
	}
	prev, err := s.MarkFetchStart("octocat")
	if err != nil {
		t.Fatalf("MarkFetchStart: %v", err)
	}
	if !prev.Equal(saved) {
		t.Fatalf("captured cursor = %v, want saved %v", prev, saved)
	}

	if s.Seed("missing", saved) {
		t.Fatalf("seed added an untracked id")
	}
	if s.Seed("octocat", time.Time{}) {
		t.Fatalf("seed accepted a zero cursor")
	}
}

func TestResetKeepsCursors(t *testing.T) {
	clk := newClock()
	s := NewStore(WithClock(clk.Now))
	_ = s.Add("keep")
	_ = s.Add("drop")
	kept := s.Cursors()["keep"]
	clk.Advance(time.Hour)

	added, removed := s.Reset([]string{"Keep", "new"})
	if !reflect.DeepEqual(added, []string{"new"}) || !reflect.DeepEqual(removed, []string{"drop"}) {
		t.Fatalf("added=%v removed=%v", added, removed)
	}
	if got := s.Cursors()["keep"]; !got.Equal(kept) {
		t.Fatalf("cursor of kept id changed: %v != %v", got, kept)
	}
}

func TestValidUsername(t *testing.T) {
	cases := map[string]bool{
		"octocat":      true,
		"a":            true,
		"a-b-c":        true,
		"A1":           true,
		"":             false,
		"-lead":        false,
		"trail-":       false,
		"dou--ble":     false,
		"under_score":  false,
		"sp ace":       false,
		"ünïcode":      false,
		strings.Repeat("a", 40): false,
		"abcdefghijklmnopqrstuvwxyz0123456789abc": true,
	}
	for in, want := range cases {
		if got := ValidUsername(in); got != want {
			t.Errorf("ValidUsername(%q) = %v, want %v", in, got, want)
		}
	}
}

type memSink struct {
	mu    sync.Mutex
	saves int
	last  map[string]time.Time
}

func (m *memSink) SaveCursors(ctx context.Context, c map[string]time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.last = c
	return nil
}

func TestCheckpointerFlushSkipsUnchanged(t *testing.T) {
	clk := newClock()
	s := NewStore(WithClock(clk.Now))
	_ = s.Add("a")
	sink := &memSink{}
	cp, err := NewCheckpointer(s, sink, "@every 1h", logx.Nop())
	if err != nil {
		t.Fatalf("NewCheckpointer: %v", err)
	}

	ctx := context.Background()
	if err := cp.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	_ = cp.Flush(ctx)
	if sink.saves != 1 {
		t.Fatalf("saves = %d, want 1", sink.saves)
	}

	clk.Advance(time.Second)
	_, _ = s.MarkFetchStart("a")
	if err := cp.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sink.saves != 2 || !sink.last["a"].Equal(clk.Now()) {
		t.Fatalf("saves=%d last=%v", sink.saves, sink.last)
	}
}

func TestCheckpointerRejectsBadSpec(t *testing.T) {
	if _, err := NewCheckpointer(NewStore(), &memSink{}, "not a spec", logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}
