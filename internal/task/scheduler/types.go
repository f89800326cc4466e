package scheduler

import (
	"context"
	"time"

	"backman/internal/task"
	"backman/internal/task/engine"
)

// Config controls the scheduler loop.
type Config struct {
	Tick time.Duration
	// Location is the zone calendar schedules are evaluated in.
	Location *time.Location
	// WatchTasks reloads after the tasks file is edited outside the scheduler.
	WatchTasks bool
	// WatchDebounce defaults to 500ms.
	WatchDebounce time.Duration
}

const (
	DefaultTick          = 30 * time.Second
	defaultWatchDebounce = 500 * time.Millisecond
	persistTimeout       = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.WatchDebounce <= 0 {
		c.WatchDebounce = defaultWatchDebounce
	}
	return c
}

// Dispatcher launches tasks. *engine.Service implements it.
type Dispatcher interface {
	Start(ctx context.Context)
	Stop(ctx context.Context)
	Execute(ctx context.Context, t task.Task) error
	Submit(t task.Task, onDone func(error)) error
	Snapshot() engine.Snapshot
}

type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseStartupPass
	PhaseTicking
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStartupPass:
		return "startup"
	case PhaseTicking:
		return "ticking"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type commandKind int

const (
	cmdReload commandKind = iota
	cmdRestart
	cmdTerminate
	cmdApply
)

func (k commandKind) String() string {
	switch k {
	case cmdReload:
		return "reload"
	case cmdRestart:
		return "restart"
	case cmdTerminate:
		return "terminate"
	case cmdApply:
		return "apply"
	default:
		return "unknown"
	}
}

type command struct {
	kind  commandKind
	cfg   Config
	reply chan error
}

// ReloadEvent is the payload of eventbus.TasksReloaded.
type ReloadEvent struct {
	Reason    string
	Tasks     int
	Suspended bool
}
