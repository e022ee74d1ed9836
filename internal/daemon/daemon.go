package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"autorename/internal/admission"
	"autorename/internal/api"
	"autorename/internal/config"
	"autorename/internal/deps"
	"autorename/internal/dispatch"
	"autorename/internal/inbox"
	"autorename/internal/janitor"
	"autorename/internal/ledger"
	"autorename/internal/logging"
	"autorename/internal/mux"
	"autorename/internal/notifications"
	"autorename/internal/pipeline"
	"autorename/internal/sequence"
	"autorename/internal/services"
	"autorename/internal/store"
	"autorename/internal/transport"
	"autorename/internal/transport/localfs"
)

// DrainTimeout bounds how long shutdown waits for in-flight jobs before
// cancelling them.
const DrainTimeout = 30 * time.Second

// Daemon owns every long-lived component and enforces single-instance
// execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *store.Store
	redis      *redis.Client
	ledger     ledger.Ledger
	admission  *admission.Controller
	transport  *localfs.Transport
	pipeline   *pipeline.Pipeline
	aggregator *sequence.Aggregator
	dispatcher *dispatch.Dispatcher
	notifier   notifications.Service

	lockPath string
	lock     *flock.Flock
	started  atomic.Bool
	running  atomic.Bool
}

// Status represents daemon runtime information.
type Status struct {
	Running         bool
	PID             int
	DatabasePath    string
	LockFilePath    string
	LedgerBackend   string
	JobsRunning     int
	ActiveSequences int
	TrackedFiles    int
	Dependencies    []deps.Status
}

// New opens storage and wires the processing components. Nothing runs
// until Run is called; Close releases what New opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, services.Wrap(services.ErrStoreUnavailable, "daemon", "open store", "open preference store", err)
	}
	d.store = st
	if err := st.EnablePreferenceCache(cfg.Cache.PreferencesMaxEntries, cfg.PreferencesTTL()); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("preference cache: %w", err)
	}

	switch cfg.Ledger.Backend {
	case "redis":
		client, err := ledger.DialRedis(ctx, cfg.Ledger.RedisAddr, cfg.Ledger.RedisPassword, cfg.Ledger.RedisDB)
		if err != nil {
			_ = d.Close()
			return nil, services.Wrap(services.ErrStoreUnavailable, "daemon", "dial redis", "connect credit ledger", err)
		}
		d.redis = client
		d.ledger = ledger.NewRedisLedger(client, cfg.Ledger.KeyPrefix, cfg.Admission.DefaultCredits)
	default:
		d.ledger = st
	}

	d.admission = admission.New(admission.Options{
		Ledger: d.ledger,
		Limits: admission.Limits{
			Admin:    cfg.Admission.CapacityAdmin,
			Premium:  cfg.Admission.CapacityPremium,
			Standard: cfg.Admission.CapacityStandard,
		},
		Admins:          cfg.Admission.Admins,
		DuplicateWindow: cfg.DuplicateWindow(),
		Logger:          logger,
	})

	d.transport, err = localfs.New(localfs.Options{
		BlobDir:       cfg.Paths.BlobDir,
		OutboxDir:     cfg.Paths.OutboxDir,
		RatePerSecond: cfg.Transport.RatePerSecond,
		Burst:         cfg.Transport.Burst,
		Logger:        logger,
	})
	if err != nil {
		_ = d.Close()
		return nil, err
	}

	d.notifier = notifications.NewService(cfg)
	muxer := mux.New(mux.Options{
		Enabled: cfg.Mux.Enabled,
		Binary:  cfg.Mux.FFmpegBinary,
		Timeout: cfg.MuxTimeout(),
		Logger:  logger,
	})
	d.pipeline, err = pipeline.New(pipeline.Options{
		Preferences:   st,
		Admission:     d.admission,
		Transport:     d.transport,
		Muxer:         muxer,
		Notifier:      d.notifier,
		WorkDir:       cfg.Paths.WorkDir,
		MuxDir:        cfg.Paths.MuxDir,
		MaxGlobalJobs: cfg.Admission.MaxGlobalJobs,
		Logger:        logger,
	})
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	d.aggregator = sequence.New(d.transport, logger, nil)
	d.dispatcher = dispatch.New(d.pipeline, d.aggregator, logger)
	return d, nil
}

// Run acquires the daemon lock and serves until ctx is cancelled or a
// component fails. On the way out it stops intake, drains in-flight jobs
// for up to DrainTimeout, and releases the lock.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	defer d.started.Store(false)

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another autorename daemon instance is already running")
	}
	d.running.Store(true)
	defer func() {
		d.running.Store(false)
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	server, watcher, sweeper, err := d.services()
	if err != nil {
		return err
	}

	bind := ""
	if server != nil {
		if err := server.Listen(); err != nil {
			return err
		}
		bind = server.Addr()
	}

	d.logger.Info("autorename daemon started",
		logging.String("lock", d.lockPath),
		logging.String("ledger", d.cfg.Ledger.Backend),
		logging.String("api_bind", bind),
		logging.Bool("inbox", watcher != nil),
	)
	d.alert(ctx, notifications.EventDaemonStarted, notifications.Payload{"bind": bind})
	defer d.alert(ctx, notifications.EventDaemonStopped, nil)

	group, groupCtx := errgroup.WithContext(ctx)
	if server != nil {
		group.Go(func() error { return server.Serve(groupCtx) })
	}
	if watcher != nil {
		group.Go(func() error { return watcher.Run(groupCtx) })
	}
	group.Go(func() error { return sweeper.Run(groupCtx) })
	runErr := group.Wait()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DrainTimeout)
	defer cancel()
	if err := d.dispatcher.Close(drainCtx); err != nil {
		logging.WarnWithContext(d.logger, "in-flight jobs cancelled at shutdown", "shutdown_drain_timeout",
			logging.Error(err),
			logging.String(logging.FieldImpact, "jobs still running after the drain timeout were aborted"),
		)
	}
	d.logger.Info("autorename daemon stopped")
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func (d *Daemon) services() (*api.Server, *inbox.Watcher, *janitor.Janitor, error) {
	var server *api.Server
	if d.cfg.API.Enabled {
		var err error
		server, err = api.New(api.Options{
			Bind:              d.cfg.API.Bind,
			RequestsPerMinute: d.cfg.API.RequestsPerMinute,
			MaxUploadBytes:    d.cfg.MaxUploadBytes(),
			Token:             d.cfg.API.Token,
			Preferences:       d.store,
			Ledger:            d.ledger,
			Limits:            d.admission,
			Ingester:          d.transport,
			Dispatcher:        d.dispatcher,
			Ready:             d.Ready,
			Logger:            d.logger,
		})
		if err != nil {
			return nil, nil, nil, err
		}
	}

	var watcher *inbox.Watcher
	if d.cfg.Inbox.Enabled {
		settle := time.Duration(d.cfg.Inbox.SettleMillis) * time.Millisecond
		watcher = inbox.New(d.cfg.Paths.InboxDir, settle, d.transport, d.handleInbox, d.logger)
	}

	sweeper, err := janitor.New(janitor.Options{
		Schedule:     d.cfg.Janitor.Schedule,
		Duplicates:   d.admission,
		Sessions:     d.aggregator,
		SessionIdle:  d.cfg.SessionIdleTimeout(),
		OrphanDirs:   []string{d.cfg.Paths.WorkDir, d.cfg.Paths.MuxDir},
		OrphanMaxAge: d.cfg.OrphanMaxAge(),
		Live:         d.pipeline.Live,
		Logger:       d.logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return server, watcher, sweeper, nil
}

func (d *Daemon) alert(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := d.notifier.Publish(alertCtx, event, payload); err != nil {
		d.logger.Warn("operator alert not sent", logging.String("event", string(event)), logging.Error(err))
	}
}

func (d *Daemon) handleInbox(ctx context.Context, ev transport.FileEvent) error {
	_, err := d.dispatcher.HandleFile(ctx, ev)
	return err
}

// Ready reports whether storage is reachable.
func (d *Daemon) Ready(ctx context.Context) error {
	if err := d.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if d.redis != nil {
		if err := d.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Rename ingests the file at sourcePath for userID and runs it through the
// pipeline on the caller's goroutine. Open sequences are bypassed.
func (d *Daemon) Rename(ctx context.Context, userID int64, kind transport.MediaKind, sourcePath string) (pipeline.Outcome, error) {
	trimmed := strings.TrimSpace(sourcePath)
	if trimmed == "" {
		return "", errors.New("source path is required")
	}
	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve source path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("stat source file: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("source path %q is a directory", absPath)
	}
	f, err := os.Open(absPath)
	if err != nil {
		return "", fmt.Errorf("open source file: %w", err)
	}
	fileID, size, err := d.transport.Ingest(f)
	_ = f.Close()
	if err != nil {
		return "", err
	}
	ev := transport.FileEvent{
		UserID:   userID,
		ChatID:   transport.ChatID(userID),
		FileID:   fileID,
		FileName: info.Name(),
		Kind:     kind,
		Size:     size,
	}
	return d.dispatcher.RunSync(ctx, ev)
}

// Store exposes the preference store for administrative commands.
func (d *Daemon) Store() *store.Store {
	return d.store
}

// Ledger exposes the configured credit ledger.
func (d *Daemon) Ledger() ledger.Ledger {
	return d.ledger
}

// Transport exposes the local transport, mainly to read message logs.
func (d *Daemon) Transport() *localfs.Transport {
	return d.transport
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:         d.running.Load(),
		PID:             os.Getpid(),
		DatabasePath:    d.store.Path(),
		LockFilePath:    d.lockPath,
		LedgerBackend:   d.cfg.Ledger.Backend,
		JobsRunning:     d.pipeline.Running(),
		ActiveSequences: d.aggregator.Sessions(),
		TrackedFiles:    d.admission.TrackedFiles(),
		Dependencies:    dependencies(d.cfg),
	}
}

// Probe inspects an installation from outside the daemon process: whether
// another process holds the lock and which dependencies resolve.
func Probe(cfg *config.Config) (Status, error) {
	status := Status{
		DatabasePath:  cfg.Paths.DatabasePath,
		LockFilePath:  cfg.LockPath(),
		LedgerBackend: cfg.Ledger.Backend,
		Dependencies:  dependencies(cfg),
	}
	if _, err := os.Stat(status.LockFilePath); errors.Is(err, os.ErrNotExist) {
		return status, nil
	}
	lock := flock.New(status.LockFilePath)
	ok, err := lock.TryRLock()
	if err != nil {
		return status, fmt.Errorf("probe lock: %w", err)
	}
	if ok {
		_ = lock.Unlock()
		return status, nil
	}
	status.Running = true
	return status, nil
}

func dependencies(cfg *config.Config) []deps.Status {
	if !cfg.Mux.Enabled {
		return nil
	}
	return []deps.Status{deps.CheckFFmpeg(cfg.Mux.FFmpegBinary)}
}

// Close releases the resources New opened. Run must have returned.
func (d *Daemon) Close() error {
	var errs []error
	if d.redis != nil {
		errs = append(errs, d.redis.Close())
		d.redis = nil
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
		d.store = nil
	}
	return errors.Join(errs...)
}
