// Package notifications publishes operator alerts to ntfy.
//
// The daemon announces start and stop, and the pipeline reports jobs that
// fail after admission. With no topic configured NewService returns a no-op,
// so callers never check whether alerts are enabled.
package notifications
