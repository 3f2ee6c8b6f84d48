// Package tools runs the per-rank child processes started by the launcher.
//
// Ownership boundary:
// - process execution with context cancellation
// - exit code mapping
// - line-prefixed output fan-in
package tools
