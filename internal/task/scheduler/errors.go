package scheduler

import "errors"

var (
	ErrTerminated = errors.New("scheduler terminated")
	ErrNotRunning = errors.New("scheduler not running")
)
