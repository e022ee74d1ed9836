// Package services defines shared utilities consumed by the rename pipeline,
// the sequence aggregator, and the transport integrations.
//
// Key responsibilities:
//   - Context helpers that stamp user IDs, job IDs, file IDs, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can classify a
//     failure (configuration, denial, transient, external tool) without
//     parsing error strings.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// stays uniform across components.
package services
