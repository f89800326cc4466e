package fswatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "backman/pkg/logx"
)

func TestWatchDebouncesWrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 50*time.Millisecond, logx.Nop(), func() { fired <- struct{}{} })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("[ ]"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatalf("onChange not called")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Watch did not return after cancel")
	}
}

func TestWatchIgnoresSiblings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 1)
	go func() { _ = Watch(ctx, path, 20*time.Millisecond, logx.Nop(), func() { fired <- struct{}{} }) }()

	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "other.json"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-fired:
		t.Fatalf("onChange called for unrelated file")
	case <-time.After(400 * time.Millisecond):
	}
}
