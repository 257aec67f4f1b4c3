package app

import (
	"context"
	"slices"
	"strings"

	"ghwatch/internal/command"
	"ghwatch/internal/config"
	"ghwatch/internal/reconf"
	kit "ghwatch/internal/transport"
	logx "ghwatch/pkg/logx"
)

// restartSections cannot be applied to running components.
var restartSections = []string{"github", "storage", "telegram", "tokens"}

// reloadLoop applies configs published by the file watcher. Bursts are
// coalesced to the newest config.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	prev := a.cfgm.Get().Clone()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			next = c
		}
	drain:
		for {
			select {
			case c, ok := <-sub:
				if !ok {
					break drain
				}
				next = c
			default:
				break drain
			}
		}
		a.applyReload(ctx, prev, next)
		prev = next.Clone()
	}
}

func (a *App) applyReload(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 && sameFold(a.entities.IDs(), newCfg.Tracked) {
		return
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.Strs("sections", sections)}, attrs...)...)

	if slices.Contains(sections, "logging") {
		a.logs.SetChatTarget(kit.ChatTarget{ChatID: parseChatID(newCfg.Logging.Chat.ChatID)})
		a.logs.Apply(mapLogConfig(newCfg))
	}
	if slices.Contains(sections, "notifier") {
		a.sink.ApplyConfig(mapDispatchConfig(newCfg))
	}
	if slices.Contains(sections, "observability") {
		a.obs.Reconfigure(ctx, mapObservabilityConfig(newCfg))
	}

	// The tracked set is compared against the live store: commands update
	// the committed config without going through this loop.
	for _, c := range config.Diff(oldCfg, newCfg) {
		if c == reconf.TrackedSetChanged {
			continue
		}
		a.reconf.Emit(ctx, c)
	}
	if !sameFold(a.entities.IDs(), newCfg.Tracked) {
		added, removed := a.entities.Reset(newCfg.Tracked)
		a.log.Info("tracked set replaced from config",
			logx.Strs("added", added),
			logx.Strs("removed", removed),
		)
		a.reconf.Emit(ctx, reconf.TrackedSetChanged)
	}

	var restart []string
	for _, s := range sections {
		if slices.Contains(restartSections, s) {
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.Strs("sections", restart))
	}
}

// commandLoop reads inbound messages and runs admin commands one at a time.
// Replies go to the same chat and thread as the command.
func (a *App) commandLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up := <-a.updates:
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			a.onMessage(ctx, up.Message)
		}
	}
}

func (a *App) onMessage(ctx context.Context, m *kit.Message) {
	cfg := a.cfgm.Get()
	if m.ChatID == 0 || m.ChatID != parseChatID(cfg.CommandChannel) {
		return
	}
	c, ok := command.Parse(m.Text, cfg.Prefix())
	if !ok {
		return
	}
	if !cfg.IsAdmin(m.FromID) {
		a.log.Debug("command from non-admin ignored",
			logx.Int64("from", m.FromID),
			logx.String("username", m.FromUsername),
		)
		return
	}
	c.FromID = m.FromID
	c.FromUsername = m.FromUsername
	c.ChatID = m.ChatID

	resp := a.proc.Handle(ctx, c)
	if strings.TrimSpace(resp.Text) == "" {
		return
	}
	to := kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
	if _, err := a.adapter.SendText(ctx, to, resp.Text, &kit.SendOptions{DisablePreview: true}); err != nil {
		a.log.Warn("command reply failed", logx.String("command", c.Name), logx.Err(err))
	}
}
