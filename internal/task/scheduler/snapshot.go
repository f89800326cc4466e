package scheduler

import (
	"context"
	"fmt"
	"time"

	"backman/internal/storage"
	"backman/internal/task"
	"backman/internal/task/engine"
)

type TaskInfo struct {
	ID       string
	Name     string
	Schedule task.ScheduleKind
	NextRun  time.Time
	LastRun  time.Time
	Enabled  bool
	Elevated bool
}

type Snapshot struct {
	Phase    Phase
	Timezone string
	Tick     time.Duration
	At       time.Time

	Tasks            []TaskInfo
	Enabled          int
	Due              int
	PersistSuspended bool

	Dispatcher engine.Snapshot
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	now := s.clock().In(cfg.Location)
	tasks := make([]task.Task, len(s.tasks))
	copy(tasks, s.tasks)
	suspended := s.suspended
	s.mu.Unlock()

	snap := Snapshot{
		Phase:            s.Phase(),
		Timezone:         cfg.Location.String(),
		Tick:             cfg.Tick,
		At:               now,
		Tasks:            make([]TaskInfo, 0, len(tasks)),
		Due:              task.Due(tasks, now).Len(),
		PersistSuspended: suspended,
		Dispatcher:       s.disp.Snapshot(),
	}
	for _, t := range tasks {
		if t.Enabled {
			snap.Enabled++
		}
		snap.Tasks = append(snap.Tasks, TaskInfo{
			ID:       t.ID,
			Name:     t.Name,
			Schedule: t.Schedule,
			NextRun:  t.NextRun,
			LastRun:  t.LastRun,
			Enabled:  t.Enabled,
			Elevated: t.RunAsAdmin,
		})
	}
	return snap
}

// Summary is the one-line status, e.g. "3 tasks (1 due)".
func (s Snapshot) Summary() string {
	return fmt.Sprintf("%d tasks (%d due)", s.Enabled, s.Due)
}

// Lines lists every task as "name: next run", marking disabled ones.
func (s Snapshot) Lines() []string {
	out := make([]string, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		line := t.Name + ": " + FormatRun(t.NextRun)
		if !t.Enabled {
			line += " (Disabled)"
		}
		out = append(out, line)
	}
	return out
}

// FormatRun renders a run time for people; the sentinels get words.
func FormatRun(t time.Time) string {
	switch {
	case task.IsNever(t):
		return "pending"
	case task.IsForever(t):
		return "never"
	default:
		return t.Format("2006-01-02 15:04:05")
	}
}

// Runs returns the most recent launch attempts, oldest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	if s.Phase() == PhaseStopped {
		return nil, ErrTerminated
	}
	return s.store.Runs(ctx, limit)
}
