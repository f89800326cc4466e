package task

import (
	"runtime"
	"time"

	"github.com/google/uuid"
)

// Kind selects how an elevated launch interprets ProgramPath.
type Kind int

const (
	KindProgram Kind = iota
	KindBatch
	KindPowerShell
)

// ScheduleKind selects the next-run rule of a task.
type ScheduleKind int

const (
	ScheduleStartup ScheduleKind = iota
	ScheduleDaily
	ScheduleWeekly
	ScheduleMonthly
	ScheduleInterval
)

var (
	// Never marks a timestamp that was never set.
	Never = time.Time{}
	// Forever marks a task that will not fire again on its own.
	Forever = time.Date(9999, time.December, 31, 23, 59, 59, 999999999, time.UTC)
)

// Task is one schedulable job.
//
// Interval is only read for ScheduleInterval; nil means unset. A present zero
// interval is kept as is and makes the task due on every tick.
// ScheduledTime is the offset from local midnight used by the calendar kinds.
type Task struct {
	ID          string
	Name        string
	Description string

	ProgramPath string
	Arguments   string
	Kind        Kind

	StartMinimized  bool
	RunInBackground bool
	RunAsAdmin      bool

	Schedule      ScheduleKind
	Interval      *time.Duration
	ScheduledTime time.Duration

	NextRun time.Time
	LastRun time.Time
	Enabled bool
}

// IsDue reports whether the task should fire at now.
func (t Task) IsDue(now time.Time) bool {
	return t.Enabled && !t.NextRun.After(now)
}

// IsNever reports whether ts is the Never sentinel.
func IsNever(ts time.Time) bool { return ts.IsZero() }

// IsForever reports whether ts is the Forever sentinel.
func IsForever(ts time.Time) bool { return !ts.Before(Forever) }

// Every returns d as a present Interval.
func Every(d time.Duration) *time.Duration { return &d }

// NewID returns a fresh task id.
func NewID() string { return uuid.NewString() }

// Example is the task written when no store exists yet.
func Example() Task {
	t := Task{
		ID:          NewID(),
		Name:        "Example Task - Edit Me",
		Description: "This is an example task. Edit the tasks file to configure your own.",
		ProgramPath: "notepad.exe",
		Kind:        KindProgram,
		Schedule:    ScheduleStartup,
		Enabled:     true,
	}
	if runtime.GOOS != "windows" {
		t.ProgramPath = "echo"
		t.Arguments = "backman example task"
		t.RunInBackground = true
	}
	return t
}
