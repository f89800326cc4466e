package app

// StopReason is logged when the app shuts down.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopTerminated StopReason = "terminated"
	StopFatalError StopReason = "fatal_error"
)
