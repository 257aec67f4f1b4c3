package tracking

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "ghwatch/pkg/logx"
)

// DefaultCheckpointSpec is used when no spec is configured.
const DefaultCheckpointSpec = "@every 30s"

var checkpointParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCheckpointSpec validates a checkpoint cron spec (seconds optional, descriptors allowed).
func ParseCheckpointSpec(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultCheckpointSpec
	}
	return checkpointParser.Parse(spec)
}

// CursorSink persists a full snapshot of cursors (replace-all).
type CursorSink interface {
	SaveCursors(ctx context.Context, cursors map[string]time.Time) error
}

// Checkpointer periodically saves the store's cursors so a restart can resume
// without replaying or skipping events.
type Checkpointer struct {
	store *Store
	sink  CursorSink
	log   logx.Logger
	cron  *cron.Cron

	mu   sync.Mutex
	last map[string]time.Time
}

func NewCheckpointer(store *Store, sink CursorSink, spec string, log logx.Logger) (*Checkpointer, error) {
	sched, err := ParseCheckpointSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("checkpoint spec: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cp := &Checkpointer{
		store: store,
		sink:  sink,
		log:   log,
		cron:  cron.New(cron.WithParser(checkpointParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	cp.cron.Schedule(sched, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := cp.Flush(ctx); err != nil {
			cp.log.Warn("cursor checkpoint failed", logx.Err(err))
		}
	}))
	return cp, nil
}

func (c *Checkpointer) Start() { c.cron.Start() }

// Stop halts the schedule, waits for a running job (bounded by ctx) and flushes once more.
func (c *Checkpointer) Stop(ctx context.Context) error {
	done := c.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.Flush(ctx)
}

// Flush saves the current cursors unless they match the last saved snapshot.
func (c *Checkpointer) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.store.Cursors()
	if c.last != nil && maps.EqualFunc(snap, c.last, func(a, b time.Time) bool { return a.Equal(b) }) {
		return nil
	}
	if err := c.sink.SaveCursors(ctx, snap); err != nil {
		return err
	}
	c.last = snap
	c.log.Debug("cursors checkpointed", logx.Int("count", len(snap)))
	return nil
}
