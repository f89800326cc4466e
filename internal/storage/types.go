package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means the store has never been written.
	ErrNotFound = errors.New("task store not found")
	ErrClosed   = errors.New("task store closed")
)

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON task document at Path
//   - "sqlite": SQLite database at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// StoreError wraps every failure returned by a Store so callers can tell
// persistence problems apart from everything else.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Path: path, Err: err}
}

// RunRecord is one launch attempt.
type RunRecord struct {
	At       time.Time `json:"at"`
	TaskID   string    `json:"task_id"`
	Name     string    `json:"name"`
	Path     string    `json:"path,omitempty"`
	Elevated bool      `json:"elevated,omitempty"`
	Error    string    `json:"error,omitempty"`
}
