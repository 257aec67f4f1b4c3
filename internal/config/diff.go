package config

import (
	"slices"
	"sort"
	"strings"

	"ghwatch/internal/reconf"
	logx "ghwatch/pkg/logx"
)

// Diff maps a config transition to reconfiguration change tags, in a fixed order.
func Diff(oldCfg, newCfg *Config) []reconf.Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var out []reconf.Change
	if !sameFold(oldCfg.Tracked, newCfg.Tracked) {
		out = append(out, reconf.TrackedSetChanged)
	}
	if !slices.Equal(trimAll(oldCfg.Destinations), trimAll(newCfg.Destinations)) {
		out = append(out, reconf.DestinationSetChanged)
	}
	if strings.TrimSpace(oldCfg.CommandChannel) != strings.TrimSpace(newCfg.CommandChannel) ||
		oldCfg.Prefix() != newCfg.Prefix() ||
		!slices.Equal(oldCfg.Admins, newCfg.Admins) {
		out = append(out, reconf.CommandChannelChanged)
	}
	if oldCfg.CycleIntervalMS != newCfg.CycleIntervalMS {
		out = append(out, reconf.IntervalChanged)
	}
	return out
}

// sameFold compares two tracked lists as case-insensitive sets.
func sameFold(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	norm := func(in []string) []string {
		out := make([]string, len(in))
		for i, s := range in {
			out[i] = strings.ToLower(strings.TrimSpace(s))
		}
		sort.Strings(out)
		return out
	}
	return slices.Equal(norm(a), norm(b))
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

// SummarizeChange returns the changed sections and safe log fields.
// Tokens are never included; only whether they changed.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Tokens != newCfg.Tokens {
		changed = append(changed, "tokens")
		attrs = append(attrs,
			logx.Bool("tokens.telegram_changed", oldCfg.Tokens.Telegram != newCfg.Tokens.Telegram),
			logx.Bool("tokens.github_changed", oldCfg.Tokens.GitHub != newCfg.Tokens.GitHub),
		)
	}
	for _, c := range Diff(oldCfg, newCfg) {
		switch c {
		case reconf.TrackedSetChanged:
			changed = append(changed, "tracked")
			attrs = append(attrs, logx.Int("tracked.count", len(newCfg.Tracked)))
		case reconf.DestinationSetChanged:
			changed = append(changed, "destinations")
			attrs = append(attrs, logx.Int("destinations.count", len(newCfg.Destinations)))
		case reconf.CommandChannelChanged:
			changed = append(changed, "commands")
			attrs = append(attrs,
				logx.String("commands.prefix", newCfg.Prefix()),
				logx.Int("commands.admin_count", len(newCfg.Admins)),
			)
		case reconf.IntervalChanged:
			changed = append(changed, "cycle_interval")
			attrs = append(attrs, logx.Duration("cycle_interval", newCfg.CycleInterval()))
		}
	}
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout))
	}
	if oldCfg.GitHub != newCfg.GitHub {
		changed = append(changed, "github")
		attrs = append(attrs,
			logx.String("github.base_url", newCfg.GitHub.URL()),
			logx.Int("github.requests_per_hour", newCfg.GitHub.Budget()),
		)
	}
	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs, logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec))
	}
	if oldCfg.Tracking != newCfg.Tracking {
		changed = append(changed, "tracking")
		attrs = append(attrs, logx.String("tracking.checkpoint", newCfg.Tracking.CheckpointSpec()))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", nS.Driver), logx.Bool("storage.url_set", nS.URL != ""))
	}
	if oldCfg.Observability.Enabled != newCfg.Observability.Enabled ||
		oldCfg.Observability.Addr != newCfg.Observability.Addr ||
		oldCfg.Observability.Token != newCfg.Observability.Token {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", newCfg.Observability.Enabled),
			logx.String("observability.addr", newCfg.Observability.ListenAddr()),
			logx.Bool("observability.token_set", newCfg.Observability.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
