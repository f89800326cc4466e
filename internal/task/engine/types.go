package engine

import (
	"context"
	"sync"
	"time"

	"backman/internal/storage"
)

// Config controls the execution dispatcher.
type Config struct {
	// ElevatedDelay is the settling pause after every elevated launch, so
	// consecutive consent prompts stay separate.
	ElevatedDelay time.Duration
	// QueueSize bounds the elevated lane; submissions beyond it are dropped.
	QueueSize   int
	HistorySize int
}

const (
	DefaultElevatedDelay = 3 * time.Second
	defaultQueueSize     = 64
	defaultHistorySize   = 200
)

func (c Config) withDefaults() Config {
	if c.ElevatedDelay < 0 {
		c.ElevatedDelay = 0
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	return c
}

// RunRecorder persists launch attempts. storage.Store satisfies it.
type RunRecorder interface {
	AppendRun(ctx context.Context, r storage.RunRecord) error
}

// RunState tracks whether a task is already queued or in flight on the lane.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Elevated   bool
	Path       string
	Error      string
}

// TaskEvent is emitted on the event bus for launch outcomes.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Elevated   bool          `json:"elevated"`
	Path       string        `json:"path"`
	Error      string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running       bool
	QueueLen      int
	QueueCap      int
	Pending       int
	Dropped       uint64
	ElevatedDelay time.Duration
	History       []HistoryItem
}
