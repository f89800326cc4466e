package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestParseMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	m := NewConfigManager(filepath.Join(t.TempDir(), "absent.json"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.Tick != "30s" || cfg.Scheduler.ElevatedDelay != "3s" {
		t.Fatalf("defaults not applied: %+v", cfg.Scheduler)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Path == "" {
		t.Fatalf("storage defaults not applied: %+v", cfg.Storage)
	}
	if m.Get() != cfg {
		t.Fatalf("Load did not commit")
	}
}

func TestParseOverlaysDefaults(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		file string
		body string
	}{
		{"json", "backman.json", `{"scheduler":{"tick":"1m"},"storage":{"driver":"sqlite","path":"x.db"}}`},
		{"yaml", "backman.yaml", "scheduler:\n  tick: 1m\nstorage:\n  driver: sqlite\n  path: x.db\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, t.TempDir(), tc.file, tc.body)
			cfg, err := NewConfigManager(p).Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Scheduler.Tick != "1m" {
				t.Fatalf("tick = %q", cfg.Scheduler.Tick)
			}
			// untouched fields keep their defaults
			if cfg.Scheduler.ElevatedDelay != "3s" || !cfg.Scheduler.WatchTasks {
				t.Fatalf("defaults lost: %+v", cfg.Scheduler)
			}
			if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "x.db" {
				t.Fatalf("storage = %+v", cfg.Storage)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", `{"sheduler":{}}`, "unknown field"},
		{"trailing data", `{} {}`, "trailing data"},
		{"bad duration", `{"scheduler":{"tick":"soon"}}`, "scheduler.tick"},
		{"tick too small", `{"scheduler":{"tick":"10ms"}}`, "at least 1s"},
		{"bad driver", `{"storage":{"driver":"mongo"}}`, "unknown driver"},
		{"bad timezone", `{"scheduler":{"timezone":"Mars/Olympus"}}`, "scheduler.timezone"},
		{"telegram without token", `{"telegram":{"enabled":true,"owner_user_ids":[1]}}`, "telegram.token"},
		{"telegram without owners", `{"telegram":{"enabled":true,"token":"t"}}`, "owner_user_ids"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, t.TempDir(), "backman.json", tc.body)
			_, err := NewConfigManager(p).Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestLoadLocation(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "Local", "local"} {
		loc, err := LoadLocation(name)
		if err != nil || loc != time.Local {
			t.Fatalf("LoadLocation(%q) = %v, %v", name, loc, err)
		}
	}
	loc, err := LoadLocation("UTC")
	if err != nil || loc.String() != "UTC" {
		t.Fatalf("LoadLocation(UTC) = %v, %v", loc, err)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 5 * time.Second, false},
		{"0s", 5 * time.Second, false},
		{"2m", 2 * time.Minute, false},
		{"-1s", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationOrDefault("x", tc.raw, 5*time.Second)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: err = %v", tc.raw, err)
		}
		if !tc.wantErr && got != tc.want {
			t.Fatalf("%q: got %v want %v", tc.raw, got, tc.want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	a := Default()
	b := Default()
	b.Scheduler.Tick = "1m"
	b.Telegram.Token = "secret"

	changed, attrs := SummarizeConfigChange(&a, &b)
	if strings.Join(changed, ",") != "scheduler,telegram" {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}

	changed, _ = SummarizeConfigChange(&a, &a)
	if len(changed) != 0 {
		t.Fatalf("identical configs reported %v", changed)
	}
}

func TestWatchPublishesValidEdits(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "backman.json", `{"scheduler":{"tick":"30s"}}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(200 * time.Millisecond)

	// invalid edit is rejected and never published
	writeFile(t, filepath.Dir(p), "backman.json", `{"scheduler":{"tick":"nope"}}`)
	select {
	case cfg := <-sub:
		t.Fatalf("published invalid config %+v", cfg.Scheduler)
	case <-time.After(700 * time.Millisecond):
	}

	writeFile(t, filepath.Dir(p), "backman.json", `{"scheduler":{"tick":"45s"}}`)
	select {
	case cfg := <-sub:
		if cfg.Scheduler.Tick != "45s" {
			t.Fatalf("tick = %q", cfg.Scheduler.Tick)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no config published")
	}
	if m.Get().Scheduler.Tick != "45s" {
		t.Fatalf("Get not updated")
	}
}
