package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ghwatch/internal/tracking"
)

// Validate checks a decoded config. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Tokens.Telegram) == "" {
		bad("tokens.telegram is required")
	}
	if strings.TrimSpace(cfg.Tokens.GitHub) == "" {
		bad("tokens.github is required")
	}
	if cfg.CycleIntervalMS <= 0 {
		bad("cycle_interval_ms must be > 0")
	}

	seen := make(map[string]struct{}, len(cfg.Tracked))
	for i, name := range cfg.Tracked {
		if !tracking.ValidUsername(name) {
			bad("tracked[%d]: %q is not a valid GitHub username", i, name)
			continue
		}
		k := strings.ToLower(name)
		if _, dup := seen[k]; dup {
			bad("tracked[%d]: %q is listed twice", i, name)
		}
		seen[k] = struct{}{}
	}
	for i, id := range cfg.Destinations {
		if strings.TrimSpace(id) == "" {
			bad("destinations[%d] is empty", i)
		}
	}

	for path, raw := range map[string]string{
		"telegram.poll_timeout": cfg.Telegram.PollTimeout,
		"github.timeout":        cfg.GitHub.Timeout,
		"notifier.send_timeout": cfg.Notifier.SendTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Notifier.RatePerSec < 0 {
		bad("notifier.rate_per_sec must be >= 0")
	}
	if cfg.GitHub.RequestsPerHour < 0 {
		bad("github.requests_per_hour must be >= 0")
	}

	if _, err := tracking.ParseCheckpointSpec(cfg.Tracking.Checkpoint); err != nil {
		bad("tracking.checkpoint: %v", err)
	}

	if cfg.Logging.Chat.Enabled && strings.TrimSpace(cfg.Logging.Chat.ChatID) != "" {
		if _, err := strconv.ParseInt(strings.TrimSpace(cfg.Logging.Chat.ChatID), 10, 64); err != nil {
			bad("logging.chat.chat_id: %q is not a chat id", cfg.Logging.Chat.ChatID)
		}
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		case "redis":
			if strings.TrimSpace(s.URL) == "" {
				bad("storage.url is required for the redis driver")
			}
		default:
			bad("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
