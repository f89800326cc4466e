package task

import "time"

// NextRun computes when t should fire next, seen from now.
//
// Calendar math happens in now's location using wall-clock offsets, so a
// ScheduledTime of 08:00 stays 08:00 across DST changes. Daily and Weekly
// return now once the slot has passed and keep doing so until the slot moves
// (the next local day, or the next Monday).
func NextRun(t Task, now time.Time) time.Time {
	if IsNever(t.LastRun) && IsNever(t.NextRun) {
		return now
	}

	switch t.Schedule {
	case ScheduleStartup:
		return Forever

	case ScheduleDaily:
		return notBefore(atOffset(now, 0, t.ScheduledTime), now)

	case ScheduleWeekly:
		ahead := (int(time.Monday) - int(now.Weekday()) + 7) % 7
		return notBefore(atOffset(now, ahead, t.ScheduledTime), now)

	case ScheduleMonthly:
		if now.Day() == 1 && timeOfDay(now) <= t.ScheduledTime {
			return atOffset(now, 0, t.ScheduledTime)
		}
		y, m, _ := now.Date()
		first := time.Date(y, m+1, 1, 0, 0, 0, 0, now.Location())
		return notBefore(atOffset(first, 0, t.ScheduledTime), now)

	case ScheduleInterval:
		if t.Interval != nil {
			return now.Add(*t.Interval)
		}
	}
	return Forever
}

// notBefore collapses a slot that has already passed to now.
func notBefore(slot, now time.Time) time.Time {
	if !slot.After(now) {
		return now
	}
	return slot
}

// atOffset returns local midnight of day+days plus offset in wall-clock terms.
func atOffset(day time.Time, days int, offset time.Duration) time.Time {
	y, m, d := day.Date()
	h := offset / time.Hour
	offset -= h * time.Hour
	mi := offset / time.Minute
	offset -= mi * time.Minute
	s := offset / time.Second
	ns := offset - s*time.Second
	return time.Date(y, m, d+days, int(h), int(mi), int(s), int(ns), day.Location())
}

func timeOfDay(ts time.Time) time.Duration {
	h, m, s := ts.Clock()
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(ts.Nanosecond())
}
