package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"backman/internal/eventbus"
	"backman/internal/storage"
	"backman/internal/task/engine"
	"backman/internal/task/scheduler"
	logx "backman/pkg/logx"
)

type command struct {
	Name string
	Help string
}

var commands = []command{
	{"tasks", "list tasks and their next run"},
	{"status", "scheduler and elevated lane status"},
	{"history", "recent launches: /history [n]"},
	{"reload", "reload the task list"},
	{"restart", "restart scheduling"},
	{"terminate", "stop BackMan"},
	{"help", "this message"},
}

const defaultHistory = 10

// respond runs one command and returns the reply text.
func (s *Shell) respond(ctx context.Context, name, payload string) string {
	switch name {
	case "tasks":
		return renderTasks(s.ctl.Snapshot())
	case "status":
		return renderStatus(s.ctl.Snapshot())
	case "history":
		n := defaultHistory
		if v, err := strconv.Atoi(strings.TrimSpace(payload)); err == nil && v > 0 {
			n = min(v, 100)
		}
		runs, err := s.ctl.Runs(ctx, n)
		if err != nil {
			return "history unavailable: " + err.Error()
		}
		return renderHistory(runs)
	case "reload":
		if err := s.ctl.Reload(ctx); err != nil {
			return "reload failed: " + err.Error()
		}
		return "Reloaded. " + s.ctl.Snapshot().Summary()
	case "restart":
		if err := s.ctl.Restart(ctx); err != nil {
			return "restart failed: " + err.Error()
		}
		return "Restarted. " + s.ctl.Snapshot().Summary()
	case "terminate":
		// Reply first; the loop stops the shell as part of terminating.
		go func() {
			tctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := s.ctl.Terminate(tctx); err != nil {
				s.log.Warn("terminate failed", logx.Err(err))
			}
		}()
		return "Terminating."
	default:
		return renderHelp()
	}
}

func renderHelp() string {
	var b strings.Builder
	b.WriteString("BackMan commands:")
	for _, c := range commands {
		fmt.Fprintf(&b, "\n/%s - %s", c.Name, c.Help)
	}
	return b.String()
}

func renderTasks(snap scheduler.Snapshot) string {
	lines := snap.Lines()
	if len(lines) == 0 {
		return snap.Summary() + "\nNo tasks configured."
	}
	return snap.Summary() + "\n" + strings.Join(lines, "\n")
}

func renderStatus(snap scheduler.Snapshot) string {
	d := snap.Dispatcher
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", snap.Summary())
	fmt.Fprintf(&b, "phase: %s, tick: %s, tz: %s\n", snap.Phase, snap.Tick, snap.Timezone)
	fmt.Fprintf(&b, "elevated lane: %d/%d queued, %d pending, %d dropped, delay %s",
		d.QueueLen, d.QueueCap, d.Pending, d.Dropped, d.ElevatedDelay)
	if snap.PersistSuspended {
		b.WriteString("\nwarning: tasks file could not be read; changes are not saved until it is fixed")
	}
	return b.String()
}

func renderHistory(runs []storage.RunRecord) string {
	if len(runs) == 0 {
		return "No launches recorded."
	}
	var b strings.Builder
	for i, r := range runs {
		if i > 0 {
			b.WriteByte('\n')
		}
		status := "ok"
		if r.Error != "" {
			status = "failed: " + r.Error
		}
		admin := ""
		if r.Elevated {
			admin = " [admin]"
		}
		fmt.Fprintf(&b, "%s %s%s %s", r.At.Format("2006-01-02 15:04:05"), r.Name, admin, status)
	}
	return b.String()
}

// formatEvent renders the bus events worth a notice; others yield "".
func formatEvent(e eventbus.Event) string {
	switch e.Type {
	case eventbus.TaskLaunchFailed, eventbus.TaskDropped:
		ev, ok := e.Data.(engine.TaskEvent)
		if !ok {
			return ""
		}
		verb := "launch failed"
		if e.Type == eventbus.TaskDropped {
			verb = "dropped"
		}
		return fmt.Sprintf("[WARN] %s %s\n- path=%s\n- error=%s", ev.Name, verb, ev.Path, ev.Error)
	case eventbus.StoreFailed:
		return fmt.Sprintf("[WARN] tasks not saved\n- error=%v", e.Data)
	default:
		return ""
	}
}
