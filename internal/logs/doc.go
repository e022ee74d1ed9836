// Package logs reads the daemon log for "autorename logs": the last N lines
// with bounded memory, then optionally every line appended afterwards.
//
// Following watches the log directory with fsnotify because autorename.log is
// a link that daemonrun re-points at a fresh file on every start.
package logs
