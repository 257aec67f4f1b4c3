package app

import (
	"strconv"
	"strings"
	"time"

	"ghwatch/internal/config"
	"ghwatch/internal/dispatch"
	"ghwatch/internal/observability"
	"ghwatch/internal/poller"
	"ghwatch/internal/storage"
	logx "ghwatch/pkg/logx"
)

// Durations are already validated by config.Validate, so the defaults below
// only apply to omitted fields.

func mapStorageConfig(cfg *config.Config) (storage.Config, bool) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		URL:         strings.TrimSpace(sc.URL),
		BusyTimeout: config.DurationOr(sc.BusyTimeout, time.Second),
	}, true
}

func mapDispatchConfig(cfg *config.Config) dispatch.Config {
	return dispatch.Config{
		RatePerSec:  cfg.Notifier.RatePerSec,
		SendTimeout: config.DurationOr(cfg.Notifier.SendTimeout, 10*time.Second),
	}
}

func mapPollerConfig(cfg *config.Config) poller.Config {
	return poller.Config{
		CycleInterval:  cfg.CycleInterval(),
		MinEntityDelay: 100 * time.Millisecond,
	}
}

func mapObservabilityConfig(cfg *config.Config) observability.Config {
	return observability.Config{
		Enabled: cfg.Observability.Enabled,
		Addr:    cfg.Observability.ListenAddr(),
		Token:   strings.TrimSpace(cfg.Observability.Token),
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

// parseChatID returns 0 for an empty or malformed id.
func parseChatID(raw string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// sameFold reports whether a and b name the same accounts, ignoring case and order.
func sameFold(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[strings.ToLower(strings.TrimSpace(s))]++
	}
	for _, s := range b {
		k := strings.ToLower(strings.TrimSpace(s))
		if seen[k] == 0 {
			return false
		}
		seen[k]--
	}
	return true
}
