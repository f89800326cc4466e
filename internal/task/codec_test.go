package task

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

const legacyDocument = `{
  "Tasks": [
    {
      "Id": "6f1c1b9e-0000-4000-8000-000000000001",
      "Name": "Backup",
      "ProgramPath": "C:\\Tools\\backup.bat",
      "Arguments": "--full",
      "Type": "Batch",
      "RunAsAdmin": true,
      "ScheduleType": "daily",
      "Interval": null,
      "ScheduledTime": "02:30:00",
      "NextRun": "0001-01-01T00:00:00",
      "LastRun": "9999-12-31T23:59:59.9999999",
      "IsEnabled": false,
      "SomethingNew": 1
    },
    {
      "Name": "Sync",
      "ProgramPath": "sync.exe",
      "Type": 0,
      "ScheduleType": 4,
      "Interval": "1.02:03:04.5000000",
      "NextRun": "2024-03-04T08:00:00Z"
    }
  ]
}`

func TestDecodeLegacyDocument(t *testing.T) {
	t.Parallel()
	tasks, err := Decode([]byte(legacyDocument))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("len = %d", len(tasks))
	}

	b := tasks[0]
	if b.ID != "6f1c1b9e-0000-4000-8000-000000000001" || b.Name != "Backup" || b.Arguments != "--full" {
		t.Fatalf("unexpected identity fields: %+v", b)
	}
	if b.Kind != KindBatch || b.Schedule != ScheduleDaily || !b.RunAsAdmin || b.Enabled {
		t.Fatalf("unexpected flags: %+v", b)
	}
	if b.ScheduledTime != 2*time.Hour+30*time.Minute {
		t.Fatalf("scheduledTime = %s", b.ScheduledTime)
	}
	if !IsNever(b.NextRun) || !IsForever(b.LastRun) {
		t.Fatalf("sentinels not normalized: next=%s last=%s", b.NextRun, b.LastRun)
	}

	s := tasks[1]
	if s.ID == "" {
		t.Fatal("missing id should be generated")
	}
	if !s.Enabled {
		t.Fatal("enabled should default to true")
	}
	if s.Kind != KindProgram || s.Schedule != ScheduleInterval {
		t.Fatalf("ordinal enums not decoded: %+v", s)
	}
	want := 26*time.Hour + 3*time.Minute + 4*time.Second + 500*time.Millisecond
	if s.Interval == nil || *s.Interval != want {
		t.Fatalf("interval = %v, want %s", s.Interval, want)
	}
	if !s.NextRun.Equal(at(2024, time.March, 4, 8, 0)) {
		t.Fatalf("nextRun = %s", s.NextRun)
	}
}

func TestEncodeIsByteStable(t *testing.T) {
	t.Parallel()
	tasks, err := Decode([]byte(legacyDocument))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	first, err := Encode(tasks)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	again, err := Decode(first)
	if err != nil {
		t.Fatalf("Decode(Encode): %v", err)
	}
	second, err := Encode(again)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("not byte-stable:\n%s\n---\n%s", first, second)
	}
	for _, want := range []string{`"scheduleType": "Daily"`, `"type": "Batch"`, `"interval": null`, `"scheduledTime": "02:30:00"`} {
		if !strings.Contains(string(first), want) {
			t.Fatalf("encoded document misses %s:\n%s", want, first)
		}
	}
}

func TestZeroIntervalIsKept(t *testing.T) {
	t.Parallel()
	tasks, err := Decode([]byte(`{"tasks":[{"name":"tight","scheduleType":"Interval","interval":"00:00:00","lastRun":"2024-03-01T00:00:00Z","nextRun":"2024-03-01T00:00:00Z"}]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	iv := tasks[0].Interval
	if iv == nil || *iv != 0 {
		t.Fatalf("interval = %v, want present zero", iv)
	}
	now := at(2024, time.March, 4, 10, 0)
	if got := NextRun(tasks[0], now); !got.Equal(now) {
		t.Fatalf("NextRun = %s, want %s", got, now)
	}

	out, err := Encode(tasks)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(out), `"interval": "00:00:00"`) {
		t.Fatalf("zero interval not written back:\n%s", out)
	}
}

func TestDecodeBareArrayAndErrors(t *testing.T) {
	t.Parallel()
	tasks, err := Decode([]byte(`[{"name":"x","scheduleType":"Startup"}]`))
	if err != nil || len(tasks) != 1 || tasks[0].Name != "x" {
		t.Fatalf("bare array: %v %+v", err, tasks)
	}

	for _, doc := range []string{"", "{", `{"tasks":[{"type":"Shell"}]}`, `{"tasks":[{"scheduledTime":"25:99"}]}`} {
		if _, err := Decode([]byte(doc)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Decode(%q) err = %v, want ErrMalformed", doc, err)
		}
	}
}

func TestClockFormatAndParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want time.Duration
		out  string
	}{
		{"08:00:00", 8 * time.Hour, "08:00:00"},
		{"8:05", 8*time.Hour + 5*time.Minute, "08:05:00"},
		{"00:00:01.25", time.Second + 250*time.Millisecond, "00:00:01.2500000"},
		{"2.00:00:00", 48 * time.Hour, "2.00:00:00"},
		{"90m", 90 * time.Minute, "01:30:00"},
		{"-00:10:00", -10 * time.Minute, "-00:10:00"},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if err != nil {
			t.Fatalf("ParseClock(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseClock(%q) = %s, want %s", tt.in, got, tt.want)
		}
		if s := FormatClock(got); s != tt.out {
			t.Fatalf("FormatClock(%s) = %q, want %q", got, s, tt.out)
		}
	}

	for _, bad := range []string{"12", "aa:bb", "01:60", "01:00:61", "1:2:3:4", "x.01:00"} {
		if _, err := ParseClock(bad); err == nil {
			t.Fatalf("ParseClock(%q) should fail", bad)
		}
	}
}

func TestParseStampLocal(t *testing.T) {
	t.Parallel()
	ts, err := ParseStamp("2024-03-04T08:00:00.5")
	if err != nil {
		t.Fatalf("ParseStamp: %v", err)
	}
	want := time.Date(2024, time.March, 4, 8, 0, 0, 5e8, time.Local)
	if !ts.Equal(want) {
		t.Fatalf("got %s, want %s", ts, want)
	}
}
