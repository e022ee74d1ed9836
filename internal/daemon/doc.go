// Package daemon coordinates the long-running autorename process.
//
// It wires configuration, the preference store, the credit ledger, the
// admission controller, the rename pipeline, the sequence aggregator, and
// the dispatcher into a single lifecycle, then runs the HTTP API, the inbox
// watcher, and the janitor side by side with flock-based locking to prevent
// multiple instances.
//
// Keep orchestration logic here: pipeline steps live in their respective
// packages while the daemon focuses on startup, shutdown, and high level
// coordination. Shutdown stops intake first, lets in-flight jobs finish,
// and closes storage last.
package daemon
