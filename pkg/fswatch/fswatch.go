// Package fswatch watches a single file for edits.
//
// The parent directory is watched rather than the file itself so editors that
// save via rename keep being observed. When fsnotify gets into a bad state
// (common on Windows with certain editors) the watcher is recreated with a
// small jittered backoff.
package fswatch

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "backman/pkg/logx"
)

const (
	DefaultDebounce = 250 * time.Millisecond

	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// Watch calls onChange (debounced) after path is written, created, renamed
// or removed. It blocks until ctx is done and always returns nil then.
func Watch(ctx context.Context, path string, debounce time.Duration, log logx.Logger, onChange func()) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	dir := filepath.Dir(path)
	file := filepath.Base(path)
	log = log.With(logx.String("path", path))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	trigger := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if ctx.Err() != nil {
				return
			}
			onChange()
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	b := newBackoff()
	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			log.Warn("watch init failed", logx.Err(err), logx.String("dir", dir))
			if !b.sleep(ctx) {
				return nil
			}
			continue
		}

		b.reset()
		log.Debug("watcher started", logx.String("dir", dir))
		broken := run(ctx, w, file, log, trigger)
		_ = w.Close()
		if !broken || ctx.Err() != nil {
			return nil
		}
		log.Warn("watcher stopped; restarting", logx.Duration("backoff", b.cur))
		if !b.sleep(ctx) {
			return nil
		}
	}
}

// run drains w until ctx is done (false) or the watcher breaks (true).
func run(ctx context.Context, w *fsnotify.Watcher, file string, log logx.Logger, trigger func()) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-w.Events:
			if !ok {
				return true
			}
			// Compare by basename (more robust across absolute/relative paths and OS quirks).
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				log.Debug("change detected", logx.String("op", ev.Op.String()))
				trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return true
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			// Overflow means events may have been missed; reload once and keep going.
			if strings.Contains(msg, "overflow") {
				log.Warn("watch overflow; forcing reload", logx.Err(err))
				trigger()
				continue
			}
			log.Warn("watch error", logx.Err(err))
			if strings.Contains(msg, "closed") {
				return true
			}
		}
	}
}

type backoff struct {
	cur time.Duration
	rng *rand.Rand
}

func newBackoff() *backoff {
	return &backoff{cur: restartBackoffBase, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (b *backoff) reset() { b.cur = restartBackoffBase }

// sleep waits for the jittered backoff and doubles it; false means ctx ended.
func (b *backoff) sleep(ctx context.Context) bool {
	wait := b.cur + time.Duration(b.rng.Int63n(int64(b.cur/2)+1))
	b.cur = min(b.cur*2, restartBackoffMax)
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
