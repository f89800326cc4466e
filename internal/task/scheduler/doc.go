// Package scheduler owns the task list and decides when tasks fire.
//
// It loads the list from the store, runs the startup pass once per process,
// then evaluates the due set on every tick and hands launches to the
// dispatcher. Reload, Restart and Terminate are messages processed by Run.
package scheduler
