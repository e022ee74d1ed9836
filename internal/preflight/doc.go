// Package preflight provides readiness checks for the directories and
// external services autorename depends on.
//
// The CLI "autorename status" and "autorename config validate" commands run
// RunAll to report problems before the daemon is started. CheckAPI probes a
// running daemon's health endpoint.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
