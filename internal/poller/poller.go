// Package poller walks the tracked accounts on a fixed cycle and pushes each
// new event through classification and delivery.
//
// One cycle visits every account once. The cycle interval is spread evenly
// over the accounts, so a larger set means a shorter pause between fetches
// rather than a longer cycle. Accounts are handled strictly one at a time and
// each account's events are delivered in ascending creation order before the
// next account is fetched.
//
// The account list is snapshotted when a cycle starts. An account removed
// while the cycle is running is skipped for the rest of that cycle, and one
// added mid-cycle is first visited on the next cycle.
package poller

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"ghwatch/internal/classify"
	"ghwatch/internal/eventbus"
	"ghwatch/internal/feed"
	"ghwatch/internal/metrics"
	"ghwatch/internal/notification"
	"ghwatch/internal/reconf"
	"ghwatch/internal/tracking"
	logx "ghwatch/pkg/logx"
)

// Fetcher returns an account's events, newest first.
type Fetcher interface {
	FetchEvents(ctx context.Context, user string) ([]feed.Event, error)
}

// Classifier maps one event to zero or more payloads.
type Classifier interface {
	Classify(ev *feed.Event) classify.Result
}

// Emit receives the payloads of one event. It must return once they are delivered.
type Emit func(ctx context.Context, payloads []notification.Payload)

type Config struct {
	CycleInterval time.Duration
	// MinEntityDelay is a floor for the per-account pause.
	MinEntityDelay time.Duration
}

type Poller struct {
	store    *tracking.Store
	fetcher  Fetcher
	classify Classifier
	emit     Emit
	log      logx.Logger
	bus      eventbus.Bus
	metrics  *metrics.Metrics

	mu  sync.Mutex
	cfg Config

	// wait is swapped in tests.
	wait func(ctx context.Context, d time.Duration) error
}

type Option func(*Poller)

func WithBus(b eventbus.Bus) Option         { return func(p *Poller) { p.bus = b } }
func WithMetrics(m *metrics.Metrics) Option { return func(p *Poller) { p.metrics = m } }

func New(store *tracking.Store, fetcher Fetcher, c Classifier, emit Emit, cfg Config, log logx.Logger, opts ...Option) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Poller{
		store:    store,
		fetcher:  fetcher,
		classify: c,
		emit:     emit,
		log:      log,
		cfg:      cfg,
		wait:     sleep,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Apply swaps the configuration. It takes effect at the start of the next cycle.
func (p *Poller) Apply(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
}

func (p *Poller) config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Observe logs reconfiguration changes relevant to polling. Changes are picked up
// at the next cycle start.
func (p *Poller) Observe(ctx context.Context, c reconf.Change) error {
	switch c {
	case reconf.TrackedSetChanged:
		p.metrics.SetTracked(p.store.Len())
		p.log.Info("tracked set changed; applies from next cycle", logx.Int("tracked", p.store.Len()))
	case reconf.IntervalChanged:
		p.log.Info("cycle interval changed; applies from next cycle", logx.Duration("interval", p.config().CycleInterval))
	}
	return nil
}

// Run polls until ctx is cancelled. It returns nil on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := p.RunCycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
	return nil
}

// RunCycle visits every account of a fresh snapshot once.
func (p *Poller) RunCycle(ctx context.Context) error {
	cfg := p.config()
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = time.Minute
	}
	entities := p.store.List()
	p.metrics.SetTracked(len(entities))

	if len(entities) == 0 {
		p.log.Debug("no tracked accounts; idling", logx.Duration("interval", cfg.CycleInterval))
		return p.wait(ctx, cfg.CycleInterval)
	}

	delay := cfg.CycleInterval / time.Duration(len(entities))
	if delay < cfg.MinEntityDelay {
		delay = cfg.MinEntityDelay
	}
	cycleID := uuid.NewString()
	log := p.log.With(logx.String("cycle", cycleID))
	log.Debug("cycle started", logx.Int("entities", len(entities)), logx.Duration("delay", delay))
	started := time.Now()

	for i, e := range entities {
		if i > 0 {
			if err := p.wait(ctx, delay); err != nil {
				return err
			}
		}
		p.poll(ctx, log, e.ID)
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	p.metrics.CycleSeconds(time.Since(started).Seconds())
	log.Debug("cycle finished", logx.Duration("took", time.Since(started)))
	return nil
}

// poll handles one account: advance the cursor, fetch, keep only newer events
// and push them through in ascending order.
func (p *Poller) poll(ctx context.Context, log logx.Logger, id string) {
	since, err := p.store.MarkFetchStart(id)
	if err != nil {
		// Removed since the cycle snapshot.
		log.Debug("skipping untracked account", logx.String("entity", id))
		return
	}

	events, err := p.fetcher.FetchEvents(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.Poll(false)
		log.Warn("fetch failed", logx.String("entity", id), logx.Err(err))
		eventbus.Emit(p.bus, eventbus.FeedFailed, map[string]any{"entity": id, "err": err.Error()})
		return
	}
	p.metrics.Poll(true)

	fresh := NewerThan(events, since)
	eventbus.Emit(p.bus, eventbus.FeedFetched, map[string]any{"entity": id, "events": len(events), "new": len(fresh)})
	if len(fresh) > 0 {
		log.Debug("new events", logx.String("entity", id), logx.Int("count", len(fresh)))
	}

	for i := range fresh {
		if ctx.Err() != nil {
			return
		}
		res := p.classify.Classify(&fresh[i])
		switch {
		case res.Unclassified:
			p.metrics.Unclassified()
			continue
		case res.Err != nil:
			continue
		}
		p.metrics.Event(res.Rule)
		if len(res.Payloads) > 0 {
			p.emit(ctx, res.Payloads)
		}
	}
}

// NewerThan returns the events created strictly after since, oldest first.
// events is expected newest first.
func NewerThan(events []feed.Event, since time.Time) []feed.Event {
	out := make([]feed.Event, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].CreatedAt.After(since) {
			out = append(out, events[i])
		}
	}
	// Guard against feeds that are not strictly newest first.
	slices.SortStableFunc(out, func(a, b feed.Event) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
