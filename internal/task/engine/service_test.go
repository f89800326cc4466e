package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"backman/internal/eventbus"
	"backman/internal/storage"
	"backman/internal/task"
	"backman/pkg/launcher"
	logx "backman/pkg/logx"
)

type launchLog struct {
	mu     sync.Mutex
	starts []time.Time
	specs  []launcher.Spec
}

func (l *launchLog) launcher(err error) launcher.Launcher {
	return launcher.Func(func(_ context.Context, s launcher.Spec) error {
		l.mu.Lock()
		l.starts = append(l.starts, time.Now())
		l.specs = append(l.specs, s)
		l.mu.Unlock()
		return err
	})
}

func (l *launchLog) snapshot() ([]time.Time, []launcher.Spec) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Time(nil), l.starts...), append([]launcher.Spec(nil), l.specs...)
}

type runSink struct {
	mu   sync.Mutex
	runs []storage.RunRecord
}

func (r *runSink) AppendRun(_ context.Context, rec storage.RunRecord) error {
	r.mu.Lock()
	r.runs = append(r.runs, rec)
	r.mu.Unlock()
	return nil
}

func (r *runSink) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func startService(t *testing.T, cfg Config, l launcher.Launcher, runs RunRecorder, bus eventbus.Bus) *Service {
	t.Helper()
	s := New(cfg, logx.Nop(), bus, l, runs)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func admin(id string) task.Task {
	return task.Task{ID: id, Name: id, ProgramPath: id + ".exe", RunAsAdmin: true, Enabled: true}
}

func TestElevatedLaunchesAreSpacedByDelay(t *testing.T) {
	t.Parallel()
	var ll launchLog
	s := startService(t, Config{ElevatedDelay: DefaultElevatedDelay}, ll.launcher(nil), nil, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	for _, id := range []string{"first", "second"} {
		if err := s.Submit(admin(id), func(error) { wg.Done() }); err != nil {
			t.Fatalf("Submit(%s): %v", id, err)
		}
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("lane did not finish")
	}

	starts, specs := ll.snapshot()
	if len(starts) != 2 {
		t.Fatalf("launches = %d, want 2", len(starts))
	}
	if specs[0].Path != "first.exe" || specs[1].Path != "second.exe" {
		t.Fatalf("launch order = %s, %s", specs[0].Path, specs[1].Path)
	}
	if gap := starts[1].Sub(starts[0]); gap < DefaultElevatedDelay {
		t.Fatalf("gap between elevated launches = %s, want >= %s", gap, DefaultElevatedDelay)
	}
}

func TestExecuteElevatedWaitsForSettlingDelay(t *testing.T) {
	t.Parallel()
	var ll launchLog
	s := startService(t, Config{ElevatedDelay: 150 * time.Millisecond}, ll.launcher(nil), nil, nil)

	start := time.Now()
	if err := s.Execute(context.Background(), admin("a")); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if took := time.Since(start); took < 150*time.Millisecond {
		t.Fatalf("Execute returned after %s, before the settling delay", took)
	}

	if err := s.Execute(context.Background(), task.Task{ID: "n", Name: "n", ProgramPath: "n.exe"}); err != nil {
		t.Fatalf("Execute normal: %v", err)
	}
	_, specs := ll.snapshot()
	if len(specs) != 2 || !specs[0].Elevated || specs[1].Elevated {
		t.Fatalf("unexpected specs: %+v", specs)
	}
}

func TestElevatedBatchUsesPlatformInterpreter(t *testing.T) {
	t.Parallel()
	var ll launchLog
	s := New(Config{ElevatedDelay: time.Millisecond}, logx.Nop(), nil, ll.launcher(nil), nil)
	s.SetPlatform(WindowsPlatform)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})

	bat := task.Task{ID: "b", Name: "b", ProgramPath: "backup.bat", Arguments: "--full", RunAsAdmin: true, Enabled: true}
	if err := s.Execute(context.Background(), bat); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	_, specs := ll.snapshot()
	if len(specs) != 1 {
		t.Fatalf("launches = %d, want 1", len(specs))
	}
	if got := specs[0]; got.Path != "cmd.exe" || got.Args != "/c backup.bat --full" || !got.Elevated {
		t.Fatalf("spec = %+v", got)
	}
}

func TestLaunchFailureIsRecordedNotRaised(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()
	runs := &runSink{}
	var ll launchLog
	boom := errors.New("file not found")
	s := startService(t, Config{ElevatedDelay: time.Millisecond}, ll.launcher(boom), runs, bus)

	err := s.Execute(context.Background(), task.Task{ID: "x", Name: "broken", ProgramPath: "missing.exe"})
	if !errors.Is(err, boom) {
		t.Fatalf("Execute err = %v, want launch error for inspection", err)
	}

	snap := s.Snapshot()
	if len(snap.History) != 1 || snap.History[0].Error != boom.Error() {
		t.Fatalf("history = %+v", snap.History)
	}
	if runs.len() != 1 {
		t.Fatalf("persisted runs = %d, want 1", runs.len())
	}
	select {
	case e := <-events:
		if e.Type != eventbus.TaskLaunchFailed {
			t.Fatalf("event type = %s", e.Type)
		}
		if data, ok := e.Data.(TaskEvent); !ok || data.Name != "broken" {
			t.Fatalf("event data = %+v", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestSubmitSkipsDuplicatesAndDropsWhenFull(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	started := make(chan string, 4)
	blocking := launcher.Func(func(_ context.Context, s launcher.Spec) error {
		started <- s.Path
		<-release
		return nil
	})
	s := startService(t, Config{ElevatedDelay: time.Millisecond, QueueSize: 1}, blocking, nil, nil)
	defer close(release)

	if err := s.Submit(admin("a"), nil); err != nil {
		t.Fatalf("Submit(a): %v", err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("lane never picked up a")
	}

	if err := s.Submit(admin("a"), nil); !errors.Is(err, ErrAlreadyBusy) {
		t.Fatalf("duplicate Submit err = %v, want ErrAlreadyBusy", err)
	}
	if err := s.Submit(admin("b"), nil); err != nil {
		t.Fatalf("Submit(b): %v", err)
	}
	if err := s.Submit(admin("c"), nil); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit(c) err = %v, want ErrQueueFull", err)
	}
	if snap := s.Snapshot(); snap.Dropped != 1 || snap.Pending != 2 {
		t.Fatalf("snapshot dropped=%d pending=%d", snap.Dropped, snap.Pending)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	t.Parallel()
	var ll launchLog
	s := New(Config{}, logx.Nop(), nil, ll.launcher(nil), nil)
	if err := s.Submit(admin("a"), nil); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit before Start err = %v", err)
	}
	s.Start(context.Background())
	s.Stop(context.Background())
	if err := s.Execute(context.Background(), admin("a")); !errors.Is(err, ErrStopped) {
		t.Fatalf("Execute after Stop err = %v", err)
	}
}
