package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"backman/internal/task"
	logx "backman/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const metaInitialized = "initialized_at"

type sqliteStore struct {
	db   *sql.DB
	path string
	log  logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, storeErr("open", "", errors.New("sqlite path is required"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storeErr("open", path, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storeErr("open", path, err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, path: path, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, storeErr("migrate", path, err)
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return storeErr("close", s.path, s.db.Close())
}

func (s *sqliteStore) Load(ctx context.Context) ([]task.Task, error) {
	var at string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaInitialized).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeErr("load", s.path, ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("load", s.path, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM tasks ORDER BY position`)
	if err != nil {
		return nil, storeErr("load", s.path, err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, storeErr("load", s.path, err)
		}
		var t task.Task
		if err := json.Unmarshal([]byte(doc), &t); err != nil {
			return nil, storeErr("load", s.path, fmt.Errorf("%w: %v", task.ErrMalformed, err))
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("load", s.path, err)
	}
	return out, nil
}

// Save replaces the whole list in one transaction.
func (s *sqliteStore) Save(ctx context.Context, tasks []task.Task) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("save", s.path, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return storeErr("save", s.path, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tasks(position, id, doc) VALUES(?,?,?)`)
	if err != nil {
		return storeErr("save", s.path, err)
	}
	defer stmt.Close()

	for i, t := range tasks {
		doc, merr := json.Marshal(t)
		if merr != nil {
			err = merr
			return storeErr("save", s.path, err)
		}
		if _, err = stmt.ExecContext(ctx, i, t.ID, string(doc)); err != nil {
			return storeErr("save", s.path, err)
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES(?, ?) ON CONFLICT(key) DO NOTHING`,
		metaInitialized, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return storeErr("save", s.path, err)
	}
	if err = tx.Commit(); err != nil {
		return storeErr("save", s.path, err)
	}
	return nil
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(at, task_id, name, path, elevated, err) VALUES(?,?,?,?,?,?)`,
		r.At.Format(time.RFC3339Nano), r.TaskID, r.Name, nullStr(r.Path), boolInt(r.Elevated), nullStr(r.Error),
	)
	return storeErr("append run", s.path, err)
}

func (s *sqliteStore) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, task_id, name, COALESCE(path, ''), elevated, COALESCE(err, '')
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storeErr("runs", s.path, err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r        RunRecord
			at       string
			elevated int
		)
		if err := rows.Scan(&at, &r.TaskID, &r.Name, &r.Path, &elevated, &r.Error); err != nil {
			return nil, storeErr("runs", s.path, err)
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		r.Elevated = elevated != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("runs", s.path, err)
	}
	// Oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
