// Package storage persists state that should survive a restart: the
// per-account freshness cursors and an audit log of admin commands.
//
// Storage is optional. Open returns a nil Store when it is disabled and
// callers treat a nil Store as "nothing to persist".
package storage
