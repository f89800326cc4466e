package engine

import "errors"

var (
	ErrStopped     = errors.New("dispatcher stopped")
	ErrQueueFull   = errors.New("elevated queue full")
	ErrAlreadyBusy = errors.New("task already queued or running")
)
