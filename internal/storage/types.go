package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON cursor snapshot plus an audit JSON Lines file
//   - "sqlite": SQLite database file
//   - "redis": cursors in a hash, audit entries in a capped list
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	URL         string        // redis only
	BusyTimeout time.Duration // sqlite only; 0 means default
	// AuditLimit caps the redis audit list. 0 means 10000.
	AuditLimit int64
}

// AuditEntry records one handled admin command.
type AuditEntry struct {
	At            time.Time `json:"at" msgpack:"at"`
	ActorID       int64     `json:"actor_id" msgpack:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty" msgpack:"actor_username"`
	ChatID        int64     `json:"chat_id" msgpack:"chat_id"`
	Command       string    `json:"command" msgpack:"command"`
	Args          []string  `json:"args,omitempty" msgpack:"args"`
	Result        string    `json:"result" msgpack:"result"`
	Changed       bool      `json:"changed" msgpack:"changed"`
	TookMS        int64     `json:"took_ms" msgpack:"took_ms"`
}

// Store persists freshness cursors and the command audit log.
type Store interface {
	// SaveCursors replaces every stored cursor with cursors.
	SaveCursors(ctx context.Context, cursors map[string]time.Time) error
	LoadCursors(ctx context.Context) (map[string]time.Time, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
