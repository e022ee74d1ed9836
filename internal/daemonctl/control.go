// Package daemonctl starts and stops a background autorename daemon from the
// CLI. The daemon's flock tells whether it is running and its PID file says
// which process to signal.
package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"autorename/internal/config"
	"autorename/internal/daemon"
)

// ErrDaemonNotRunning indicates no process holds the daemon lock.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

// StartState describes what EnsureStarted did.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// Launch starts a detached "autorename serve" process in its own session.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"serve"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// EnsureStarted launches the daemon unless one already holds the lock, then
// waits for the lock to be taken.
func EnsureStarted(cfg *config.Config, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartState, error) {
	status, err := daemon.Probe(cfg)
	if err != nil {
		return "", err
	}
	if status.Running {
		return StartStateAlreadyRunning, nil
	}
	if err := Launch(executablePath, opts); err != nil {
		return "", err
	}
	if err := WaitForRunning(cfg, waitTimeout); err != nil {
		return "", err
	}
	return StartStateStarted, nil
}

// WaitForRunning polls the daemon lock until it is held or timeout elapses.
func WaitForRunning(cfg *config.Config, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		status, err := daemon.Probe(cfg)
		if err != nil {
			return err
		}
		if status.Running {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon failed to start within %s; check %s", timeout, cfg.Paths.LogDir)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// ReadPID parses the daemon PID file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("daemon pid file %q is malformed", path)
	}
	return pid, nil
}

// Stop sends SIGTERM to the daemon and escalates to SIGKILL when it is still
// alive after gracePeriod. A stale PID file left by a dead daemon is removed.
func Stop(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	pidPath := cfg.PIDPath()
	status, err := daemon.Probe(cfg)
	if err != nil {
		return StopResult{}, err
	}
	if !status.Running {
		_ = os.Remove(pidPath)
		return StopResult{}, ErrDaemonNotRunning
	}

	pid, err := ReadPID(pidPath)
	if err != nil {
		return StopResult{}, err
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	result := StopResult{PID: pid}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			_ = os.Remove(pidPath)
			return result, nil
		}
		return result, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}

	deadline := time.Now().Add(gracePeriod)
	for processAlive(pid) {
		if time.Now().After(deadline) {
			if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
				return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
			}
			result.ForcedKill = true
			_ = os.Remove(pidPath)
			return result, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return result, nil
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
