package storage

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"backman/internal/task"
	logx "backman/pkg/logx"
)

// fileStore keeps the tasks in one JSON document that users may edit.
//
// Files:
//   - <path>                (task document, rewritten atomically)
//   - <prefix>.runs.jsonl   (append-only run log)
type fileStore struct {
	log  logx.Logger
	path string

	mu       sync.Mutex
	runsPath string
	runsFile *os.File
	// Hash of the document as last read or written; zero when unknown.
	seen [32]byte
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, storeErr("open", "", errors.New("storage.path is required for file driver"))
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storeErr("open", dir, err)
	}

	runsPath := prefix + ".runs.jsonl"
	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, storeErr("open", runsPath, err)
	}

	return &fileStore{log: log, path: path, runsPath: runsPath, runsFile: rf}, nil
}

func (s *fileStore) WatchPath() string { return s.path }

func (s *fileStore) ExternallyModified() (bool, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("stat", s.path, err)
	}
	sum := sha256.Sum256(b)
	s.mu.Lock()
	defer s.mu.Unlock()
	return sum != s.seen, nil
}

func (s *fileStore) Load(ctx context.Context) ([]task.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("load", s.path, err)
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storeErr("load", s.path, ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("load", s.path, err)
	}

	s.mu.Lock()
	s.seen = sha256.Sum256(b)
	s.mu.Unlock()

	tasks, err := task.Decode(b)
	if err != nil {
		return nil, storeErr("load", s.path, err)
	}
	return tasks, nil
}

func (s *fileStore) Save(ctx context.Context, tasks []task.Task) error {
	if err := ctx.Err(); err != nil {
		return storeErr("save", s.path, err)
	}
	b, err := task.Encode(tasks)
	if err != nil {
		return storeErr("save", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.path, b, 0o644); err != nil {
		return storeErr("save", s.path, err)
	}
	s.seen = sha256.Sum256(b)
	return nil
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return storeErr("append run", s.runsPath, ErrClosed)
	}
	if err := json.NewEncoder(s.runsFile).Encode(r); err != nil {
		return storeErr("append run", s.runsPath, err)
	}
	return nil
}

func (s *fileStore) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	_ = ctx
	f, err := os.Open(s.runsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("runs", s.runsPath, err)
	}
	defer f.Close()

	var out []RunRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) > 2*limit {
			out = append(out[:0:0], out[len(out)-limit:]...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, storeErr("runs", s.runsPath, err)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return nil
	}
	err := s.runsFile.Close()
	s.runsFile = nil
	return storeErr("close", s.runsPath, err)
}

// writeFileAtomic replaces path with data via temp file, fsync and rename.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.ReadFrom(bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	syncDir(dir)
	return nil
}

// Directories cannot be synced on every platform; ignore failures.
func syncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = f.Sync()
	_ = f.Close()
}
