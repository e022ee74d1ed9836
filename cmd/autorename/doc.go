// Package main hosts the autorename CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon in the foreground, renames single
// files through the same pipeline the daemon uses, explains how the filename
// cascade reads a name, manages per-user preferences and credits, and
// scaffolds configuration.
//
// Keep this package lean: behavior belongs in internal packages and is only
// surfaced here.
package main
