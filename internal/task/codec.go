package task

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is returned when a task document cannot be decoded.
var ErrMalformed = errors.New("malformed task document")

// document is the on-disk wrapper. A bare array is accepted on decode.
type document struct {
	Tasks []Task `json:"tasks"`
}

type wireTask struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	ProgramPath     string       `json:"programPath"`
	Arguments       string       `json:"arguments"`
	Kind            Kind         `json:"type"`
	StartMinimized  bool         `json:"startMinimized"`
	RunInBackground bool         `json:"runInBackground"`
	RunAsAdmin      bool         `json:"runAsAdmin"`
	Schedule        ScheduleKind `json:"scheduleType"`
	Interval        *clock       `json:"interval"`
	ScheduledTime   clock        `json:"scheduledTime"`
	NextRun         stamp        `json:"nextRun"`
	LastRun         stamp        `json:"lastRun"`
	Enabled         *bool        `json:"isEnabled"`
}

func (t Task) MarshalJSON() ([]byte, error) {
	w := wireTask{
		ID:              t.ID,
		Name:            t.Name,
		Description:     t.Description,
		ProgramPath:     t.ProgramPath,
		Arguments:       t.Arguments,
		Kind:            t.Kind,
		StartMinimized:  t.StartMinimized,
		RunInBackground: t.RunInBackground,
		RunAsAdmin:      t.RunAsAdmin,
		Schedule:        t.Schedule,
		ScheduledTime:   clock(t.ScheduledTime),
		NextRun:         stamp(t.NextRun),
		LastRun:         stamp(t.LastRun),
		Enabled:         &t.Enabled,
	}
	if t.Interval != nil {
		iv := clock(*t.Interval)
		w.Interval = &iv
	}
	return json.Marshal(w)
}

func (t *Task) UnmarshalJSON(b []byte) error {
	var w wireTask
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*t = Task{
		ID:              strings.TrimSpace(w.ID),
		Name:            w.Name,
		Description:     w.Description,
		ProgramPath:     w.ProgramPath,
		Arguments:       w.Arguments,
		Kind:            w.Kind,
		StartMinimized:  w.StartMinimized,
		RunInBackground: w.RunInBackground,
		RunAsAdmin:      w.RunAsAdmin,
		Schedule:        w.Schedule,
		ScheduledTime:   time.Duration(w.ScheduledTime),
		NextRun:         time.Time(w.NextRun),
		LastRun:         time.Time(w.LastRun),
		Enabled:         true,
	}
	if w.Interval != nil {
		t.Interval = Every(time.Duration(*w.Interval))
	}
	if w.Enabled != nil {
		t.Enabled = *w.Enabled
	}
	if t.ID == "" {
		t.ID = NewID()
	}
	return nil
}

// Decode parses a task document. Field names match case-insensitively and
// unknown fields are ignored.
func Decode(data []byte) ([]Task, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if data[0] == '[' {
		var list []Task
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return list, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return doc.Tasks, nil
}

// Encode writes the canonical indented document.
func Encode(tasks []Task) ([]byte, error) {
	if tasks == nil {
		tasks = []Task{}
	}
	b, err := json.MarshalIndent(document{Tasks: tasks}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// ---- durations ----

// clock is a duration written as [d.]hh:mm:ss[.fffffff].
type clock time.Duration

func (c clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatClock(time.Duration(c)))
}

func (c *clock) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = 0
		return nil
	}
	if len(b) > 0 && b[0] != '"' {
		secs, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		*c = clock(time.Duration(secs * float64(time.Second)))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	d, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = clock(d)
	return nil
}

// FormatClock renders d as hh:mm:ss, prefixed with days when d spans a day
// or more and suffixed with 100ns ticks when d has a fractional second.
func FormatClock(d time.Duration) string {
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	frac := d - s*time.Second

	if days > 0 {
		fmt.Fprintf(&b, "%d.", days)
	}
	fmt.Fprintf(&b, "%02d:%02d:%02d", h, m, s)
	if ticks := frac / 100; ticks > 0 {
		fmt.Fprintf(&b, ".%07d", ticks)
	}
	return b.String()
}

// ParseClock accepts [-][d.]hh:mm[:ss[.fraction]] or a Go duration string
// such as "90m".
func ParseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if !strings.Contains(s, ":") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("duration %q: %w", s, err)
		}
		return d, nil
	}

	orig := s
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	var days int64
	if colon := strings.IndexByte(s, ':'); colon > 0 {
		if dot := strings.IndexByte(s[:colon], '.'); dot >= 0 {
			n, err := strconv.ParseInt(s[:dot], 10, 64)
			if err != nil || n < 0 {
				return 0, fmt.Errorf("duration %q: bad days", orig)
			}
			days = n
			s = s[dot+1:]
		}
	}

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("duration %q: want hh:mm[:ss]", orig)
	}
	h, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || h < 0 {
		return 0, fmt.Errorf("duration %q: bad hours", orig)
	}
	m, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("duration %q: bad minutes", orig)
	}

	var sec, frac time.Duration
	if len(parts) == 3 {
		whole, fraction, hasFrac := strings.Cut(parts[2], ".")
		n, err := strconv.ParseInt(whole, 10, 64)
		if err != nil || n < 0 || n > 59 {
			return 0, fmt.Errorf("duration %q: bad seconds", orig)
		}
		sec = time.Duration(n) * time.Second
		if hasFrac {
			if fraction == "" || len(fraction) > 9 {
				return 0, fmt.Errorf("duration %q: bad fraction", orig)
			}
			f, err := strconv.ParseInt(fraction+strings.Repeat("0", 9-len(fraction)), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("duration %q: bad fraction", orig)
			}
			frac = time.Duration(f)
		}
	}

	d := time.Duration(days)*24*time.Hour +
		time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		sec + frac
	if neg {
		d = -d
	}
	return d, nil
}

// ---- timestamps ----

type stamp time.Time

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (s stamp) MarshalJSON() ([]byte, error) {
	ts := time.Time(s)
	switch {
	case IsNever(ts):
		ts = Never
	case IsForever(ts):
		ts = Forever
	}
	return json.Marshal(ts.Format(time.RFC3339Nano))
}

func (s *stamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = stamp(Never)
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	ts, err := ParseStamp(raw)
	if err != nil {
		return err
	}
	*s = stamp(ts)
	return nil
}

// ParseStamp accepts RFC 3339 or a zone-less local timestamp. Values at the
// ends of the calendar collapse to Never and Forever.
func ParseStamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Never, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		var lerr error
		for _, layout := range localLayouts {
			if ts, lerr = time.ParseInLocation(layout, raw, time.Local); lerr == nil {
				break
			}
		}
		if lerr != nil {
			return Never, fmt.Errorf("timestamp %q: %w", raw, err)
		}
	}
	switch {
	case ts.Year() <= 1:
		return Never, nil
	case ts.Year() >= 9999:
		return Forever, nil
	}
	return ts, nil
}
