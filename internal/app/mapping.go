package app

import (
	"strings"
	"time"

	"backman/internal/autostart"
	"backman/internal/config"
	"backman/internal/observability/pprof"
	rtsup "backman/internal/runtime/supervisor"
	"backman/internal/shell/telegram"
	"backman/internal/storage"
	"backman/internal/task/engine"
	"backman/internal/task/scheduler"
)

// Config is validated before it reaches these mappers, so parse errors are
// returned only for configs built by hand.

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = config.DefaultTasksPath()
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	delay, err := config.ParseDurationField("scheduler.elevated_delay", cfg.Scheduler.ElevatedDelay)
	if err != nil {
		return engine.Config{}, err
	}
	if strings.TrimSpace(cfg.Scheduler.ElevatedDelay) == "" {
		delay = engine.DefaultElevatedDelay
	}
	return engine.Config{
		ElevatedDelay: delay,
		QueueSize:     cfg.Scheduler.ElevatedQueue,
		HistorySize:   cfg.Scheduler.HistorySize,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tick, err := config.ParseDurationOrDefault("scheduler.tick", cfg.Scheduler.Tick, scheduler.DefaultTick)
	if err != nil {
		return scheduler.Config{}, err
	}
	loc, err := config.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Tick:       tick,
		Location:   loc,
		WatchTasks: cfg.Scheduler.WatchTasks,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:          cfg.Telegram.Token,
		OwnerUserIDs:   append([]int64(nil), cfg.Telegram.OwnerUserIDs...),
		ChatID:         cfg.Telegram.ChatID,
		PollTimeout:    poll,
		NotifyFailures: cfg.Telegram.NotifyFailures,
	}, nil
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	return pprof.Config{
		Enabled:       cfg.Pprof.Enabled,
		Addr:          cfg.Pprof.Addr,
		Prefix:        cfg.Pprof.Prefix,
		Token:         cfg.Pprof.Token,
		AllowInsecure: cfg.Pprof.AllowInsecure,
	}
}

func mapAutostartConfig(cfg *config.Config, args []string) autostart.Config {
	return autostart.Config{
		Enabled: cfg.Autostart.Enabled,
		Name:    cfg.Autostart.Name,
		Args:    args,
	}
}

// status is the JSON document served by the debug server.
type status struct {
	Summary          string         `json:"summary"`
	Phase            string         `json:"phase"`
	Timezone         string         `json:"timezone"`
	Tick             string         `json:"tick"`
	Tasks            []string       `json:"tasks"`
	PersistSuspended bool           `json:"persist_suspended"`
	QueueLen         int            `json:"elevated_queue_len"`
	QueueCap         int            `json:"elevated_queue_cap"`
	Dropped          uint64         `json:"elevated_dropped"`
	ElevatedDelay    string         `json:"elevated_delay"`
	Goroutines       rtsup.Counters `json:"goroutines"`
	Recent           []recentLaunch `json:"recent"`
}

type recentLaunch struct {
	At       time.Time `json:"at"`
	Name     string    `json:"name"`
	Elevated bool      `json:"elevated"`
	Error    string    `json:"error,omitempty"`
}

const recentLaunches = 20

func statusOf(snap scheduler.Snapshot, goroutines rtsup.Counters) status {
	d := snap.Dispatcher
	st := status{
		Summary:          snap.Summary(),
		Phase:            snap.Phase.String(),
		Timezone:         snap.Timezone,
		Tick:             snap.Tick.String(),
		Tasks:            snap.Lines(),
		PersistSuspended: snap.PersistSuspended,
		QueueLen:         d.QueueLen,
		QueueCap:         d.QueueCap,
		Dropped:          d.Dropped,
		ElevatedDelay:    d.ElevatedDelay.String(),
		Goroutines:       goroutines,
	}
	hist := d.History
	if len(hist) > recentLaunches {
		hist = hist[len(hist)-recentLaunches:]
	}
	for _, h := range hist {
		st.Recent = append(st.Recent, recentLaunch{At: h.Started, Name: h.Name, Elevated: h.Elevated, Error: h.Error})
	}
	return st
}
