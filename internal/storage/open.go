package storage

import (
	"context"
	"errors"
	"strings"

	"backman/internal/task"
	logx "backman/pkg/logx"
)

// Store loads and saves the ordered task list and keeps the run history.
// Every error it returns is a *StoreError.
type Store interface {
	Load(ctx context.Context) ([]task.Task, error)
	Save(ctx context.Context, tasks []task.Task) error
	AppendRun(ctx context.Context, r RunRecord) error
	// Runs returns up to limit of the most recent records, oldest first.
	Runs(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// Watchable is implemented by stores backed by a file that users edit by hand.
type Watchable interface {
	WatchPath() string
	// ExternallyModified reports whether the file differs from what the store
	// last read or wrote.
	ExternallyModified() (bool, error)
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, storeErr("open", cfg.Path, errors.New("unknown storage driver: "+driver))
	}
}
