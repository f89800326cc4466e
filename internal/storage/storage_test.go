package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"backman/internal/task"
	logx "backman/pkg/logx"
)

func sampleTasks() []task.Task {
	next := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	return []task.Task{
		{
			ID: "a", Name: "Backup", ProgramPath: `C:\Tools\backup.bat`, Arguments: "--full",
			Kind: task.KindBatch, RunAsAdmin: true, Schedule: task.ScheduleDaily,
			ScheduledTime: 9 * time.Hour, NextRun: next, LastRun: task.Never, Enabled: true,
		},
		{
			ID: "b", Name: "Sync", ProgramPath: "sync.exe", Schedule: task.ScheduleInterval,
			Interval: task.Every(10 * time.Minute), NextRun: task.Forever, LastRun: next, Enabled: false,
		},
	}
}

func openStore(t *testing.T, driver string) Store {
	t.Helper()
	name := "tasks.json"
	if driver == "sqlite" {
		name = "backman.db"
	}
	st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), name)}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openStore(t, driver)

			_, err := st.Load(ctx)
			var se *StoreError
			if !errors.Is(err, ErrNotFound) || !errors.As(err, &se) {
				t.Fatalf("first Load err = %v, want StoreError wrapping ErrNotFound", err)
			}

			want := sampleTasks()
			if err := st.Save(ctx, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err := st.Load(ctx)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if len(got) != len(want) {
				t.Fatalf("len = %d, want %d", len(got), len(want))
			}
			for i := range want {
				g, w := got[i], want[i]
				if g.ID != w.ID || g.Name != w.Name || g.Kind != w.Kind || g.Schedule != w.Schedule ||
					!sameInterval(g.Interval, w.Interval) || g.ScheduledTime != w.ScheduledTime || g.Enabled != w.Enabled ||
					!g.NextRun.Equal(w.NextRun) || !g.LastRun.Equal(w.LastRun) {
					t.Fatalf("task %d mismatch:\n got %+v\nwant %+v", i, g, w)
				}
			}

			if err := st.Save(ctx, nil); err != nil {
				t.Fatalf("Save(nil): %v", err)
			}
			got, err = st.Load(ctx)
			if err != nil || len(got) != 0 {
				t.Fatalf("empty Load = %v, %v", got, err)
			}
		})
	}
}

func TestRunsKeepsMostRecent(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openStore(t, driver)
			base := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				r := RunRecord{At: base.Add(time.Duration(i) * time.Minute), TaskID: "a", Name: "Backup"}
				if i == 4 {
					r.Error = "access denied"
					r.Elevated = true
				}
				if err := st.AppendRun(ctx, r); err != nil {
					t.Fatalf("AppendRun: %v", err)
				}
			}
			runs, err := st.Runs(ctx, 2)
			if err != nil {
				t.Fatalf("Runs: %v", err)
			}
			if len(runs) != 2 {
				t.Fatalf("len = %d, want 2", len(runs))
			}
			last := runs[1]
			if !last.At.Equal(base.Add(4*time.Minute)) || last.Error != "access denied" || !last.Elevated {
				t.Fatalf("unexpected last record: %+v", last)
			}
		})
	}
}

func TestFileSaveIsByteStable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t, "file")
	path := st.(Watchable).WatchPath()

	if err := st.Save(ctx, sampleTasks()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tasks, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := st.Save(ctx, tasks); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("document changed across Save(Load()):\n%s\n---\n%s", first, second)
	}
}

func TestFileMalformedAndExternalEdits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := openStore(t, "file")
	w := st.(Watchable)

	if err := st.Save(ctx, sampleTasks()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if changed, err := w.ExternallyModified(); err != nil || changed {
		t.Fatalf("own write reported as external: %v %v", changed, err)
	}

	if err := os.WriteFile(w.WatchPath(), []byte(`{"tasks": [`), 0o644); err != nil {
		t.Fatal(err)
	}
	if changed, _ := w.ExternallyModified(); !changed {
		t.Fatal("hand edit not detected")
	}
	if _, err := st.Load(ctx); !errors.Is(err, task.ErrMalformed) {
		t.Fatalf("Load err = %v, want ErrMalformed", err)
	}
	if changed, _ := w.ExternallyModified(); changed {
		t.Fatal("file that was just read should not count as modified")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop())
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StoreError", err)
	}
}

func sameInterval(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
