package config

import (
	"encoding/json"
	"strings"
	"time"

	"ghwatch/internal/tracking"
)

type Config struct {
	Tokens TokensConfig `json:"tokens"`

	// Tracked lists GitHub usernames in the spelling they were added with.
	Tracked []string `json:"tracked"`
	// Destinations are chat ids (as strings) that receive notifications.
	Destinations []string `json:"destinations"`

	CommandChannel  string  `json:"command_channel"`
	CommandPrefix   string  `json:"command_prefix"`
	CycleIntervalMS int64   `json:"cycle_interval_ms"`
	Admins          []int64 `json:"admins,omitempty"`

	Telegram      TelegramConfig      `json:"telegram"`
	GitHub        GitHubConfig        `json:"github"`
	Notifier      NotifierConfig      `json:"notifier"`
	Tracking      TrackingConfig      `json:"tracking"`
	Logging       LoggingConfig       `json:"logging"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
	Observability ObservabilityConfig `json:"observability"`
}

type TokensConfig struct {
	Telegram string `json:"telegram"`
	GitHub   string `json:"github"`
}

type TelegramConfig struct {
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type GitHubConfig struct {
	BaseURL         string `json:"base_url,omitempty"`
	Timeout         string `json:"timeout,omitempty"`
	RequestsPerHour int    `json:"requests_per_hour,omitempty"`
}

// NotifierConfig paces outgoing notifications.
type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

type TrackingConfig struct {
	ResumeCursors bool `json:"resume_cursors,omitempty"`
	// Checkpoint is a cron spec; empty means "@every 30s".
	Checkpoint string `json:"checkpoint,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LogFileConfig  `json:"file"`
	Chat    ChatLogsConfig `json:"chat"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type ChatLogsConfig struct {
	Enabled    bool   `json:"enabled"`
	ChatID     string `json:"chat_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig enables persistence of cursors and the command audit log.
// Driver is one of "file", "sqlite", "redis" or "none".
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	URL         string `json:"url,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type ObservabilityConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
}

const (
	DefaultCommandPrefix   = "!"
	DefaultGitHubBaseURL   = "https://api.github.com"
	DefaultRequestsPerHour = 4000
	DefaultObservability   = "127.0.0.1:9090"
)

// CycleInterval is the total time budget for visiting every tracked entity once.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalMS) * time.Millisecond
}

func (c *Config) Prefix() string {
	if p := strings.TrimSpace(c.CommandPrefix); p != "" {
		return p
	}
	return DefaultCommandPrefix
}

// IsAdmin reports whether userID may issue commands. An empty admin list allows
// every member of the command channel.
func (c *Config) IsAdmin(userID int64) bool {
	if len(c.Admins) == 0 {
		return true
	}
	for _, id := range c.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

func (g GitHubConfig) URL() string {
	if s := strings.TrimRight(strings.TrimSpace(g.BaseURL), "/"); s != "" {
		return s
	}
	return DefaultGitHubBaseURL
}

func (g GitHubConfig) Budget() int {
	if g.RequestsPerHour > 0 {
		return g.RequestsPerHour
	}
	return DefaultRequestsPerHour
}

func (t TrackingConfig) CheckpointSpec() string {
	if s := strings.TrimSpace(t.Checkpoint); s != "" {
		return s
	}
	return tracking.DefaultCheckpointSpec
}

func (o ObservabilityConfig) ListenAddr() string {
	if s := strings.TrimSpace(o.Addr); s != "" {
		return s
	}
	return DefaultObservability
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		cp := *c
		return &cp
	}
	var out Config
	if err := json.Unmarshal(b, &out); err != nil {
		cp := *c
		return &cp
	}
	return &out
}
