package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"backman/internal/task"
	logx "backman/pkg/logx"
)

func (s *Service) lane(ctx context.Context, stopCh <-chan struct{}, queue chan laneJob) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			err := s.launch(ctx, j.task, time.Since(j.enqueuedAt))
			if !s.settle(ctx, stopCh) {
				j.state.release()
				return
			}
			j.state.release()
			if j.done != nil {
				j.done(err)
			}
		}
	}
}

// settle waits the elevated delay. It reports false when the lane is stopping.
func (s *Service) settle(ctx context.Context, stopCh <-chan struct{}) bool {
	d := s.delay()
	if d <= 0 {
		return true
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stopCh:
		return false
	case <-tmr.C:
		return true
	}
}

// launch starts t once. Failures are logged and recorded, never retried.
func (s *Service) launch(ctx context.Context, t task.Task, queueDelay time.Duration) (err error) {
	s.mu.Lock()
	platform, cwd, l := s.platform, s.cwd, s.launcher
	s.mu.Unlock()

	spec := Plan(t, cwd, platform)
	start := time.Now()

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("launch panicked", logx.String("task", t.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = l.Start(ctx, spec)
	}()

	item := HistoryItem{
		ID:         t.ID,
		Name:       t.Name,
		Started:    start,
		QueueDelay: queueDelay,
		Elevated:   spec.Elevated,
		Path:       spec.Path,
	}
	if err != nil {
		item.Error = err.Error()
		s.log.Warn("task launch failed",
			logx.String("task", t.Name),
			logx.String("id", t.ID),
			logx.String("path", spec.Path),
			logx.Bool("elevated", spec.Elevated),
			logx.Err(err),
		)
	} else {
		s.log.Info("task launched",
			logx.String("task", t.Name),
			logx.String("path", spec.Path),
			logx.String("args", spec.Args),
			logx.String("window", spec.Window.String()),
			logx.Bool("elevated", spec.Elevated),
		)
	}
	s.record(item)
	return err
}
