// Package config loads, normalizes, and validates autorename configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// AUTORENAME_REDIS_PASSWORD. The Config type centralizes every knob the daemon
// and CLI need so work directories, admission limits, and ledger credentials
// are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
