// Package janitor runs the periodic sweeps that keep in-memory admission
// state and on-disk working directories bounded.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"autorename/internal/logging"
	"autorename/internal/metrics"
)

// Sweep kinds, used as metric labels.
const (
	KindDuplicates = "duplicates"
	KindSessions   = "sessions"
	KindOrphans    = "orphans"
)

// DuplicateSweeper drops expired duplicate-suppression entries.
type DuplicateSweeper interface {
	SweepDuplicates(now time.Time) int
}

// SessionSweeper closes idle sequence sessions.
type SessionSweeper interface {
	Sweep(ctx context.Context, now time.Time, idle time.Duration) int
}

// Options configures a Janitor. Nil sweepers and zero ages disable the
// matching sweep.
type Options struct {
	Schedule string

	Duplicates  DuplicateSweeper
	Sessions    SessionSweeper
	SessionIdle time.Duration

	// OrphanDirs hold one subdirectory per job.
	OrphanDirs   []string
	OrphanMaxAge time.Duration
	// Live reports whether a job directory belongs to a running job.
	Live func(jobID string) bool

	Now    func() time.Time
	Logger *slog.Logger
}

// Report counts what one pass removed.
type Report struct {
	Duplicates int
	Sessions   int
	Orphans    int
}

// Janitor schedules sweeps with cron. Passes never overlap.
type Janitor struct {
	opts   Options
	logger *slog.Logger
	cron   *cron.Cron
	mu     sync.Mutex
}

// New validates the schedule and constructs a Janitor.
func New(opts Options) (*Janitor, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	j := &Janitor{
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "janitor"),
	}
	if strings.TrimSpace(opts.Schedule) != "" {
		if _, err := cron.ParseStandard(opts.Schedule); err != nil {
			return nil, fmt.Errorf("janitor schedule %q: %w", opts.Schedule, err)
		}
		j.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	}
	return j, nil
}

// Run starts the schedule and blocks until ctx is cancelled, then waits for
// a pass in progress to finish. Without a schedule it only waits for ctx.
func (j *Janitor) Run(ctx context.Context) error {
	if j.cron == nil {
		<-ctx.Done()
		return nil
	}
	if _, err := j.cron.AddFunc(j.opts.Schedule, func() { j.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("janitor schedule %q: %w", j.opts.Schedule, err)
	}
	j.cron.Start()
	j.logger.Debug("janitor started", logging.String("schedule", j.opts.Schedule))
	<-ctx.Done()
	<-j.cron.Stop().Done()
	return nil
}

// RunOnce performs every enabled sweep immediately.
func (j *Janitor) RunOnce(ctx context.Context) Report {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.opts.Now()
	var r Report
	if j.opts.Duplicates != nil {
		r.Duplicates = j.opts.Duplicates.SweepDuplicates(now)
		metrics.RecordSwept(KindDuplicates, r.Duplicates)
	}
	if j.opts.Sessions != nil && j.opts.SessionIdle > 0 {
		r.Sessions = j.opts.Sessions.Sweep(ctx, now, j.opts.SessionIdle)
		metrics.RecordSwept(KindSessions, r.Sessions)
	}
	if j.opts.OrphanMaxAge > 0 {
		r.Orphans = j.sweepOrphans(now)
		metrics.RecordSwept(KindOrphans, r.Orphans)
	}
	if r.Duplicates+r.Sessions+r.Orphans > 0 {
		j.logger.Info("janitor sweep",
			logging.String(logging.FieldEventType, "janitor_sweep"),
			logging.Int("duplicates", r.Duplicates),
			logging.Int("sessions", r.Sessions),
			logging.Int("orphans", r.Orphans),
		)
	}
	return r
}

// sweepOrphans removes job directories (and stray files) whose newest
// modification is older than OrphanMaxAge and which no live job owns.
func (j *Janitor) sweepOrphans(now time.Time) int {
	cutoff := now.Add(-j.opts.OrphanMaxAge)
	removed := 0
	for _, dir := range j.opts.OrphanDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				j.logger.Warn("janitor read failed", logging.String("dir", dir), logging.Error(err))
			}
			continue
		}
		for _, entry := range entries {
			if j.opts.Live != nil && j.opts.Live(entry.Name()) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			newest, err := newestModTime(path)
			if err != nil || newest.After(cutoff) {
				continue
			}
			if err := os.RemoveAll(path); err != nil {
				logging.WarnWithContext(j.logger, "orphan removal failed", "janitor_remove_failed",
					logging.String("path", path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check permissions on the work directory"),
				)
				continue
			}
			removed++
		}
	}
	return removed
}

func newestModTime(root string) (time.Time, error) {
	var newest time.Time
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest, err
}
