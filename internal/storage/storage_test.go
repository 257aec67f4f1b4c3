package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"

	logx "ghwatch/pkg/logx"
)

func exercise(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	got, err := st.LoadCursors(ctx)
	if err != nil {
		t.Fatalf("LoadCursors on empty store: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("empty store returned %v", got)
	}

	a := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	if err := st.SaveCursors(ctx, map[string]time.Time{"alice": a, "bob": a.Add(time.Hour)}); err != nil {
		t.Fatalf("SaveCursors: %v", err)
	}
	// Replace-all: bob disappears.
	if err := st.SaveCursors(ctx, map[string]time.Time{"alice": a.Add(time.Minute)}); err != nil {
		t.Fatalf("SaveCursors: %v", err)
	}
	got, err = st.LoadCursors(ctx)
	if err != nil {
		t.Fatalf("LoadCursors: %v", err)
	}
	if len(got) != 1 || !got["alice"].Equal(a.Add(time.Minute)) {
		t.Fatalf("cursors = %v", got)
	}

	if err := st.AppendAudit(ctx, AuditEntry{ActorID: 7, Command: "add", Args: []string{"octocat"}, Result: "ok", Changed: true}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
}

func TestOpenDisabled(t *testing.T) {
	for _, d := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v", d, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "state", "ghwatch.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exercise(t, st)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "state", "ghwatch.audit.jsonl"))
	if err != nil {
		t.Fatalf("audit file: %v", err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatalf("audit file is empty")
	}
	var e AuditEntry
	if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
		t.Fatalf("decode audit line: %v", err)
	}
	if e.Command != "add" || e.At.IsZero() {
		t.Fatalf("audit entry = %+v", e)
	}

	if err := st.SaveCursors(context.Background(), nil); err != ErrDisabled {
		t.Fatalf("SaveCursors after Close = %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ghwatch.sqlite")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exercise(t, st)

	// Reopen sees the same cursors.
	_ = st.Close()
	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, err := st.LoadCursors(context.Background())
	if err != nil || len(got) != 1 {
		t.Fatalf("cursors after reopen = %v, %v", got, err)
	}
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	st, err := Open(Config{Driver: "redis", URL: "redis://" + mr.Addr() + "/0", AuditLimit: 2}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	exercise(t, st)

	ctx := context.Background()
	for _, cmd := range []string{"list", "remove"} {
		if err := st.AppendAudit(ctx, AuditEntry{Command: cmd}); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}
	items, err := mr.List(redisAuditKey)
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("audit list len = %d, want 2", len(items))
	}
	var last AuditEntry
	if err := msgpack.Unmarshal([]byte(items[1]), &last); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if last.Command != "remove" {
		t.Fatalf("last audit = %+v", last)
	}
}

func TestRedisMalformedCursorSkipped(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	mr.HSet(redisCursorsKey, "alice", "yesterday")
	mr.HSet(redisCursorsKey, "bob", "2024-05-01T10:00:00Z")

	st, err := newRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0, logx.Nop())
	if err != nil {
		t.Fatalf("newRedisStore: %v", err)
	}
	defer st.Close()
	got, err := st.LoadCursors(context.Background())
	if err != nil {
		t.Fatalf("LoadCursors: %v", err)
	}
	if _, ok := got["alice"]; ok || len(got) != 1 {
		t.Fatalf("cursors = %v", got)
	}
}
