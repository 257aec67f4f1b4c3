package command

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"ghwatch/internal/reconf"
	"ghwatch/internal/storage"
	"ghwatch/internal/tracking"
	logx "ghwatch/pkg/logx"
)

type fakeGitHub struct {
	users map[string]bool
	err   error
	calls int
}

func (f *fakeGitHub) Exists(ctx context.Context, user string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.users[strings.ToLower(user)], nil
}

type auditLog struct {
	mu      sync.Mutex
	entries []storage.AuditEntry
}

func (a *auditLog) AppendAudit(ctx context.Context, e storage.AuditEntry) error {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
	return nil
}

type harness struct {
	p       *Processor
	store   *tracking.Store
	gh      *fakeGitHub
	changes []reconf.Change
	audit   *auditLog
}

func newHarness(tracked ...string) *harness {
	h := &harness{
		store: tracking.NewStore(),
		gh:    &fakeGitHub{users: map[string]bool{"octocat": true, "torvalds": true, "gopher": true}},
		audit: &auditLog{},
	}
	for _, id := range tracked {
		_ = h.store.Add(id)
	}
	rb := reconf.New(logx.Nop())
	rb.Subscribe("test", func(ctx context.Context, c reconf.Change) error {
		h.changes = append(h.changes, c)
		return nil
	})
	h.p = New(h.store, h.gh, rb, logx.Nop(), WithAuditor(h.audit))
	return h
}

func (h *harness) run(name string, args ...string) Response {
	return h.p.Handle(context.Background(), Command{Name: name, Args: args})
}

func TestAddThenList(t *testing.T) {
	h := newHarness("torvalds")
	r := h.run("add", "octocat")
	if !r.Changed || !strings.Contains(r.Text, "Started tracking octocat") {
		t.Fatalf("add = %+v", r)
	}
	if !reflect.DeepEqual(h.changes, []reconf.Change{reconf.TrackedSetChanged}) {
		t.Fatalf("changes = %v", h.changes)
	}
	r = h.run("list")
	if r.Text != "Tracked accounts:\n• octocat\n• torvalds" {
		t.Fatalf("list = %q", r.Text)
	}
	if strings.Count(r.Text, "octocat") != 1 {
		t.Fatalf("octocat listed more than once")
	}
}

func TestAddAlreadyTracked(t *testing.T) {
	h := newHarness("Octocat")
	r := h.run("add", "octocat")
	if r.Changed || !strings.Contains(r.Text, "already tracked") {
		t.Fatalf("add = %+v", r)
	}
	if h.store.Len() != 1 || len(h.changes) != 0 || h.gh.calls != 0 {
		t.Fatalf("len=%d changes=%v calls=%d", h.store.Len(), h.changes, h.gh.calls)
	}
}

func TestAddRejections(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"no args", nil, "Command add expects 1 argument, got 0"},
		{"two args", []string{"a", "b"}, "Command add expects 1 argument, got 2"},
		{"bad grammar", []string{"-bad-"}, "is not a valid GitHub username"},
		{"missing user", []string{"ghost"}, "does not exist"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			r := h.run("add", tc.args...)
			if r.Changed || !strings.Contains(r.Text, tc.want) {
				t.Fatalf("add %v = %q, want %q", tc.args, r.Text, tc.want)
			}
			if h.store.Len() != 0 {
				t.Fatalf("store mutated")
			}
		})
	}
}

func TestArgCountCheckedFirst(t *testing.T) {
	h := newHarness()
	h.run("add", "-bad-", "extra")
	if h.gh.calls != 0 {
		t.Fatalf("existence check ran before argument count")
	}
}

func TestAddUpstreamFailure(t *testing.T) {
	h := newHarness()
	h.gh.err = errors.New("502 bad gateway")
	r := h.run("add", "octocat")
	if r.Changed || !strings.Contains(r.Text, "Could not verify") || h.store.Len() != 0 {
		t.Fatalf("add = %+v len=%d", r, h.store.Len())
	}
}

func TestRemove(t *testing.T) {
	h := newHarness("octocat")
	r := h.run("remove", "OCTOCAT")
	if !r.Changed || !strings.Contains(r.Text, "Stopped tracking") || h.store.Len() != 0 {
		t.Fatalf("remove = %+v", r)
	}

	r = h.run("remove", "octocat")
	if r.Changed || !strings.Contains(r.Text, "not tracked") {
		t.Fatalf("second remove = %+v", r)
	}
	if len(h.changes) != 1 {
		t.Fatalf("changes = %v", h.changes)
	}

	r = h.run("remove")
	if r.Text != "Command remove expects 1 argument, got 0" {
		t.Fatalf("remove without args = %q", r.Text)
	}
}

func TestEmptyAndUnknown(t *testing.T) {
	h := newHarness()
	if r := h.run(""); r.Text != emptyPrompt {
		t.Fatalf("empty = %q", r.Text)
	}
	long := strings.Repeat("x", 60)
	r := h.run(long)
	if !strings.Contains(r.Text, "Unknown command") || !strings.Contains(r.Text, strings.Repeat("x", 37)+"...") {
		t.Fatalf("unknown = %q", r.Text)
	}
	if strings.Contains(r.Text, strings.Repeat("x", 38)) {
		t.Fatalf("unknown name not truncated: %q", r.Text)
	}
	if r := h.run("list"); r.Text != "No accounts are tracked." {
		t.Fatalf("empty list = %q", r.Text)
	}
}

func TestEveryCommandAudited(t *testing.T) {
	h := newHarness()
	h.p.Handle(context.Background(), Command{Name: "add", Args: []string{"gopher"}, FromID: 42, ChatID: -100})
	h.run("bogus")
	if len(h.audit.entries) != 2 {
		t.Fatalf("audit entries = %d", len(h.audit.entries))
	}
	e := h.audit.entries[0]
	if e.Command != "add" || e.ActorID != 42 || e.ChatID != -100 || !e.Changed {
		t.Fatalf("audit[0] = %+v", e)
	}
	if h.audit.entries[1].Command != "unknown" {
		t.Fatalf("audit[1] = %+v", h.audit.entries[1])
	}
}

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		ok   bool
		want Command
	}{
		{"!add octocat", true, Command{Name: "add", Args: []string{"octocat"}}},
		{"  !ADD   octocat  ", true, Command{Name: "add", Args: []string{"octocat"}}},
		{`!add "octo cat"`, true, Command{Name: "add", Args: []string{"octo cat"}}},
		{`!add ''`, true, Command{Name: "add", Args: []string{""}}},
		{"!list@ghwatch_bot", true, Command{Name: "list"}},
		{"!", true, Command{}},
		{"hello", false, Command{}},
		{"/add x", false, Command{}},
	}
	for _, tc := range cases {
		got, ok := Parse(tc.in, "!")
		if ok != tc.ok || !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Parse(%q) = %+v, %v; want %+v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
