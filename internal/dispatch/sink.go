// Package dispatch delivers notification payloads to every resolved destination chat.
//
// Delivery is best-effort: each payload is sent once to each destination, and
// a failure is logged and counted without affecting other sends.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ghwatch/internal/eventbus"
	"ghwatch/internal/metrics"
	"ghwatch/internal/notification"
	"ghwatch/internal/transport"
	logx "ghwatch/pkg/logx"
)

type Config struct {
	RatePerSec  int
	SendTimeout time.Duration
}

type Sink struct {
	adapter transport.Adapter
	log     logx.Logger
	bus     eventbus.Bus
	metrics *metrics.Metrics

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	dests   []*transport.Channel

	// applyMu serializes Apply so two resolutions never race on the handle set.
	applyMu sync.Mutex
}

type Option func(*Sink)

func WithBus(b eventbus.Bus) Option { return func(s *Sink) { s.bus = b } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Sink) { s.metrics = m } }
func WithConfig(cfg Config) Option { return func(s *Sink) { s.applyConfigLocked(cfg) } }

func New(adapter transport.Adapter, log logx.Logger, opts ...Option) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sink{adapter: adapter, log: log}
	s.applyConfigLocked(Config{})
	for _, o := range opts {
		o(s)
	}
	return s
}

// ApplyConfig swaps pacing settings.
func (s *Sink) ApplyConfig(cfg Config) {
	s.mu.Lock()
	s.applyConfigLocked(cfg)
	s.mu.Unlock()
}

func (s *Sink) applyConfigLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Destinations returns the current handle set.
func (s *Sink) Destinations() []*transport.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*transport.Channel(nil), s.dests...)
}

// Apply re-resolves the destination set. Handles whose id is unchanged are kept
// as-is; ids that fail to resolve are dropped until the next Apply.
func (s *Sink) Apply(ctx context.Context, ids []string) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	old := make(map[string]*transport.Channel)
	for _, ch := range s.Destinations() {
		old[ch.ID] = ch
	}

	next := make([]*transport.Channel, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if ch, ok := old[id]; ok {
			next = append(next, ch)
			continue
		}
		ch, err := s.adapter.ResolveChannel(ctx, id)
		if err != nil {
			reason := "unreachable"
			switch {
			case errors.Is(err, transport.ErrChannelNotFound):
				reason = "not found"
			case errors.Is(err, transport.ErrChannelKind):
				reason = "incompatible kind"
			}
			s.log.Warn("destination dropped", logx.String("channel", id), logx.String("reason", reason), logx.Err(err))
			continue
		}
		next = append(next, ch)
	}

	s.mu.Lock()
	s.dests = next
	s.mu.Unlock()
	s.metrics.SetDestinations(len(next))
	s.log.Info("destinations applied", logx.Int("configured", len(seen)), logx.Int("resolved", len(next)))
}

// Deliver sends every payload to every destination, one attempt each.
// It returns early only when ctx is cancelled.
func (s *Sink) Deliver(ctx context.Context, payloads ...notification.Payload) (sent, failed int) {
	dests := s.Destinations()
	if len(dests) == 0 || len(payloads) == 0 {
		return 0, 0
	}
	s.mu.Lock()
	lim := s.limiter
	timeout := s.cfg.SendTimeout
	s.mu.Unlock()

	for _, p := range payloads {
		for _, ch := range dests {
			if err := lim.Wait(ctx); err != nil {
				return sent, failed
			}
			sctx, cancel := context.WithTimeout(ctx, timeout)
			err := s.adapter.Send(sctx, ch, p)
			cancel()

			if err != nil {
				failed++
				s.metrics.Delivery(false)
				s.log.Warn("notification delivery failed", logx.String("channel", ch.ID), logx.String("title", p.Title), logx.Err(err))
				eventbus.Emit(s.bus, eventbus.DispatchFailed, map[string]any{"channel": ch.ID, "err": err.Error()})
				continue
			}
			sent++
			s.metrics.Delivery(true)
			eventbus.Emit(s.bus, eventbus.DispatchSent, map[string]any{"channel": ch.ID})
		}
	}
	return sent, failed
}
