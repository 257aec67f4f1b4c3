// Package app wires the watcher together: config, logging, the chat adapter,
// the feed client, polling, classification, delivery and admin commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ghwatch/internal/classify"
	"ghwatch/internal/command"
	"ghwatch/internal/config"
	"ghwatch/internal/dispatch"
	"ghwatch/internal/eventbus"
	"ghwatch/internal/feed"
	"ghwatch/internal/metrics"
	"ghwatch/internal/notification"
	"ghwatch/internal/observability"
	"ghwatch/internal/poller"
	"ghwatch/internal/reconf"
	rtsup "ghwatch/internal/runtime/supervisor"
	"ghwatch/internal/storage"
	"ghwatch/internal/tracking"
	kit "ghwatch/internal/transport"
	"ghwatch/internal/transport/telegram"
	logx "ghwatch/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	reconf  *reconf.Bus
	metrics *metrics.Metrics
	store   storage.Store

	adapter  kit.Adapter
	feed     *feed.Client
	entities *tracking.Store
	ckpt     *tracking.Checkpointer
	sink     *dispatch.Sink
	classify *classify.Chain
	poller   *poller.Poller
	proc     *command.Processor
	obs      *observability.Server

	notifyMu sync.RWMutex
	notify   poller.Emit

	updates chan kit.Update
}

// NewApp loads cfgPath and builds every component. Nothing runs until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Tokens.Telegram,
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
	}, bootLog)
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, ad)
}

// newApp builds the app around an already loaded manager and a chat adapter.
func newApp(cfgm *config.Manager, ad kit.Adapter) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	// Enable the chat sink only after its target is set.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetChatTarget(kit.ChatTarget{ChatID: parseChatID(cfg.Logging.Chat.ChatID)})
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		reconf:  reconf.New(log.With(logx.String("comp", "reconf"))),
		metrics: metrics.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}

	if sc, ok := mapStorageConfig(cfg); ok {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
	}

	a.entities = tracking.NewStore()
	for _, id := range cfg.Tracked {
		if err := a.entities.Add(id); err != nil {
			log.Warn("duplicate tracked account ignored", logx.String("entity", id))
		}
	}
	a.metrics.SetTracked(a.entities.Len())

	if a.store != nil {
		ck, err := tracking.NewCheckpointer(a.entities, a.store, cfg.Tracking.CheckpointSpec(), log.With(logx.String("comp", "checkpoint")))
		if err != nil {
			_ = a.store.Close()
			return nil, err
		}
		a.ckpt = ck
	}

	a.feed = feed.New(cfg.GitHub.URL(), cfg.Tokens.GitHub,
		feed.WithTimeout(config.DurationOr(cfg.GitHub.Timeout, 15*time.Second)),
		feed.WithRequestsPerHour(cfg.GitHub.Budget()),
		feed.WithLogger(log.With(logx.String("comp", "feed"))),
	)
	a.classify = classify.New(log.With(logx.String("comp", "classify")), classify.WithBus(a.bus))
	a.sink = dispatch.New(ad, log.With(logx.String("comp", "dispatch")),
		dispatch.WithConfig(mapDispatchConfig(cfg)),
		dispatch.WithBus(a.bus),
		dispatch.WithMetrics(a.metrics),
	)
	a.notify = a.deliver
	a.poller = poller.New(a.entities, a.feed, a.classify, a.emit, mapPollerConfig(cfg),
		log.With(logx.String("comp", "poller")),
		poller.WithBus(a.bus),
		poller.WithMetrics(a.metrics),
	)

	var auditor command.Auditor
	if a.store != nil {
		auditor = a.store
	}
	a.proc = command.New(a.entities, a.feed, a.reconf, log.With(logx.String("comp", "commands")),
		command.WithBus(a.bus),
		command.WithMetrics(a.metrics),
		command.WithAuditor(auditor),
	)
	a.obs = observability.New(mapObservabilityConfig(cfg), a.metrics.Handler(),
		log.With(logx.String("comp", "observability")),
		observability.WithStatus(a.status),
	)

	a.wireReconf()
	return a, nil
}

// wireReconf registers the observers that keep derived state in sync and the
// write-back of the tracked set.
func (a *App) wireReconf() {
	a.reconf.Subscribe("poller", func(ctx context.Context, c reconf.Change) error {
		if c == reconf.IntervalChanged {
			a.poller.Apply(mapPollerConfig(a.cfgm.Get()))
		}
		return a.poller.Observe(ctx, c)
	})
	a.reconf.Subscribe("dispatch", func(ctx context.Context, c reconf.Change) error {
		if c == reconf.DestinationSetChanged {
			a.sink.Apply(ctx, a.cfgm.Get().Destinations)
		}
		return nil
	})
	a.reconf.Subscribe("commands", func(ctx context.Context, c reconf.Change) error {
		if c == reconf.CommandChannelChanged {
			cfg := a.cfgm.Get()
			a.log.Info("command channel changed",
				logx.String("channel", cfg.CommandChannel),
				logx.String("prefix", cfg.Prefix()),
				logx.Int("admins", len(cfg.Admins)),
			)
		}
		return nil
	})
	a.reconf.SetPersister(func(ctx context.Context, c reconf.Change) error {
		if c != reconf.TrackedSetChanged {
			return nil
		}
		ids := a.entities.IDs()
		if sameFold(a.cfgm.Get().Tracked, ids) {
			return nil
		}
		_, err := a.cfgm.Update(func(cfg *config.Config) error {
			cfg.Tracked = ids
			return nil
		})
		return err
	})
}

// Start launches every background loop. The returned error is only for
// failures before anything is running.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	runCtx := a.sup.Context()

	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if raw := strings.TrimSpace(cfg.CommandChannel); raw != "" && parseChatID(raw) == 0 {
			return fmt.Errorf("command_channel: %q is not a chat id", raw)
		}
		return nil
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}

	cfg := a.cfgm.Get()
	a.sink.Apply(runCtx, cfg.Destinations)
	if cfg.Tracking.ResumeCursors {
		a.restoreCursors(runCtx)
	}
	if a.ckpt != nil {
		a.ckpt.Start()
	}

	a.sup.Go("poller", a.poller.Run)
	a.sup.Go("commands.dispatch", a.commandLoop)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.obs.Start(runCtx)

	a.log.Info("app started",
		logx.Int("tracked", a.entities.Len()),
		logx.Int("destinations", len(a.sink.Destinations())),
		logx.Duration("cycle_interval", cfg.CycleInterval()),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

func (a *App) restoreCursors(ctx context.Context) {
	if a.store == nil {
		a.log.Warn("tracking.resume_cursors is set but storage is disabled")
		return
	}
	saved, err := a.store.LoadCursors(ctx)
	if err != nil {
		a.log.Warn("cursor restore failed", logx.Err(err))
		return
	}
	n := 0
	for id, at := range saved {
		if a.entities.Seed(id, at) {
			n++
		}
	}
	a.log.Info("cursors restored", logx.Int("restored", n), logx.Int("saved", len(saved)))
}

// HandleCommand runs one admin command and returns the response text.
func (a *App) HandleCommand(ctx context.Context, c command.Command) string {
	return a.proc.Handle(ctx, c).Text
}

// OnNotification replaces the target that receives each event's payloads.
// The default target delivers to the destination chats.
func (a *App) OnNotification(fn poller.Emit) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()
	if fn == nil {
		fn = a.deliver
	}
	a.notify = fn
}

func (a *App) emit(ctx context.Context, payloads []notification.Payload) {
	a.notifyMu.RLock()
	fn := a.notify
	a.notifyMu.RUnlock()
	fn(ctx, payloads)
}

func (a *App) deliver(ctx context.Context, payloads []notification.Payload) {
	a.sink.Deliver(ctx, payloads...)
}

// Done is closed when the app stops or a background loop fails.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) status() any {
	st := map[string]any{
		"tracked":      a.entities.Len(),
		"destinations": len(a.sink.Destinations()),
		"storage":      a.store != nil,
	}
	if a.sup != nil {
		st["tasks"] = a.sup.Tasks()
	}
	return st
}

// Stop shuts down in order. Every step is bounded so one stuck component
// cannot hold up the rest.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			limit = min(limit, time.Until(dl))
		}
		if limit <= 0 {
			a.log.Warn("stop step skipped (deadline)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Loops first so the final checkpoint sees the last cursors.
	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("checkpoint", 2*time.Second, func(c context.Context) error {
		if a.ckpt == nil {
			return nil
		}
		return a.ckpt.Stop(c)
	})
	step("observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", time.Second, func(c context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
