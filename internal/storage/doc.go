// Package storage persists the task list and the launch history.
//
// Drivers:
//   - file: one JSON document for the tasks plus a JSON Lines run log
//   - sqlite: a single database file (tasks, runs and meta tables)
package storage
