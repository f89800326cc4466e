// Package logx configures backman's structured logging.
//
// It wraps zerolog behind a small Logger value so that:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - An optional chat sink (min-level + rate limiting) can mirror warnings to the operator
package logx
