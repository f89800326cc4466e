package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
	Telegram  TelegramConfig  `json:"telegram"`
	Pprof     PprofConfig     `json:"pprof,omitempty"`
	Autostart AutostartConfig `json:"autostart"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards log lines at or above MinLevel to the owner chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the tick and the elevated lane.
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
type SchedulerConfig struct {
	Tick          string `json:"tick"`
	ElevatedDelay string `json:"elevated_delay"`
	ElevatedQueue int    `json:"elevated_queue,omitempty"`
	// Timezone for calendar schedules; empty means the host zone.
	Timezone string `json:"timezone,omitempty"`
	// WatchTasks reloads the task file after it is edited by hand.
	WatchTasks  bool `json:"watch_tasks"`
	HistorySize int  `json:"history_size,omitempty"`
}

// StorageConfig selects the task store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./backman.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// ChatID receives failure notices and forwarded logs; defaults to the first owner.
	ChatID int64 `json:"chat_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout    string `json:"poll_timeout"`
	NotifyFailures bool   `json:"notify_failures"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Prefer binding to localhost. A non-loopback address needs a token or
// allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// AutostartConfig registers the binary to start at user logon.
type AutostartConfig struct {
	Enabled bool   `json:"enabled"`
	Name    string `json:"name,omitempty"`
}

// Default returns the configuration used for omitted fields and for a
// missing config file.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level:    "info",
			Console:  true,
			Telegram: LoggingTelegram{MinLevel: "warn", RatePerSec: 1},
		},
		Scheduler: SchedulerConfig{
			Tick:          "30s",
			ElevatedDelay: "3s",
			ElevatedQueue: 64,
			WatchTasks:    true,
			HistorySize:   200,
		},
		Storage: StorageConfig{
			Driver: "file",
			Path:   DefaultTasksPath(),
		},
		Telegram: TelegramConfig{
			PollTimeout:    "10s",
			NotifyFailures: true,
		},
		Autostart: AutostartConfig{Name: "BackMan"},
	}
}

// DefaultTasksPath is the machine-wide task document on Windows and the
// per-user one elsewhere.
func DefaultTasksPath() string {
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			return filepath.Join(pd, "BackMan", "tasks.json")
		}
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "backman", "tasks.json")
	}
	return "tasks.json"
}

// DefaultConfigPath sits next to the default task document.
func DefaultConfigPath() string {
	return filepath.Join(filepath.Dir(DefaultTasksPath()), "backman.yaml")
}

// Validate checks every field that is parsed later, so a bad hot reload is
// rejected before anything is applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	tick, err := ParseDurationField("scheduler.tick", cfg.Scheduler.Tick)
	if err != nil {
		errs = append(errs, err)
	} else if tick != 0 && tick < time.Second {
		errs = append(errs, fmt.Errorf("scheduler.tick: must be at least 1s"))
	}
	if _, err := ParseDurationField("scheduler.elevated_delay", cfg.Scheduler.ElevatedDelay); err != nil {
		errs = append(errs, err)
	}
	if _, err := LoadLocation(cfg.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}
	if cfg.Scheduler.ElevatedQueue < 0 {
		errs = append(errs, errors.New("scheduler.elevated_queue: must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if cfg.Telegram.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, errors.New("telegram.token: required when telegram is enabled"))
		}
		if len(cfg.Telegram.OwnerUserIDs) == 0 {
			errs = append(errs, errors.New("telegram.owner_user_ids: at least one owner is required"))
		}
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
