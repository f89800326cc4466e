package scheduler

import (
	"errors"
	"time"

	"backman/internal/task/engine"
	logx "backman/pkg/logx"
)

const submitWarnThrottle = 5 * time.Minute

// reportSubmitError logs a failed elevated hand-off, at most once per task
// per throttle window.
func (s *Service) reportSubmitError(name string, err error) {
	if err == nil {
		return
	}
	// Still queued from an earlier tick; happens during normal operation.
	if errors.Is(err, engine.ErrAlreadyBusy) {
		s.log.Debug("elevated task still pending", logx.String("task", name))
		return
	}

	now := time.Now()
	s.submitMu.Lock()
	last := s.lastWarnedAt[name]
	if !last.IsZero() && now.Sub(last) < submitWarnThrottle {
		s.submitMu.Unlock()
		return
	}
	s.lastWarnedAt[name] = now
	s.submitMu.Unlock()

	s.log.Warn("elevated task not submitted", logx.String("task", name), logx.Err(err))
}
