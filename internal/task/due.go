package task

import "time"

// DueSet is the result of one evaluation, split by launch privilege.
// Order within each group follows the input list.
type DueSet struct {
	Normal   []Task
	Elevated []Task
}

func (d DueSet) Len() int { return len(d.Normal) + len(d.Elevated) }

// Due picks the tasks that should fire at now. Startup tasks are left to the
// startup pass and never appear here.
func Due(tasks []Task, now time.Time) DueSet {
	var out DueSet
	for _, t := range tasks {
		if t.Schedule == ScheduleStartup || !t.IsDue(now) {
			continue
		}
		if t.RunAsAdmin {
			out.Elevated = append(out.Elevated, t)
		} else {
			out.Normal = append(out.Normal, t)
		}
	}
	return out
}

// Reschedule stamps a completed attempt on t.
func Reschedule(t *Task, now time.Time) {
	t.LastRun = now
	if t.Schedule == ScheduleStartup {
		t.NextRun = Forever
		return
	}
	t.NextRun = NextRun(*t, now)
}

// Normalize applies the load-time adjustments: enabled tasks that were never
// scheduled, or whose non-startup slot is already in the past, become due now.
// It reports whether any task changed.
func Normalize(tasks []Task, now time.Time) bool {
	changed := false
	for i := range tasks {
		t := &tasks[i]
		if !t.Enabled {
			continue
		}
		if IsNever(t.NextRun) || (t.Schedule != ScheduleStartup && t.NextRun.Before(now)) {
			t.NextRun = now
			changed = true
		}
	}
	return changed
}
