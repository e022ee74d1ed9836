// Package pipeline runs one inbound file through admission, template
// resolution, download, optional metadata mux, upload, and cleanup.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/sync/semaphore"

	"autorename/internal/admission"
	"autorename/internal/cascade"
	"autorename/internal/fileutil"
	"autorename/internal/logging"
	"autorename/internal/metrics"
	"autorename/internal/mux"
	"autorename/internal/naming"
	"autorename/internal/notifications"
	"autorename/internal/services"
	"autorename/internal/store"
	"autorename/internal/transport"
)

// PreferenceSource supplies per-user settings.
type PreferenceSource interface {
	CachedPreferences(ctx context.Context, userID int64) (store.Preferences, error)
	RecordRename(ctx context.Context, userID int64) error
}

// Muxer rewrites metadata tags.
type Muxer interface {
	Apply(ctx context.Context, req mux.Request) mux.Result
}

// Notifier receives operator alerts for failed jobs.
type Notifier interface {
	Publish(ctx context.Context, event notifications.Event, payload notifications.Payload) error
}

// Options configures a Pipeline.
type Options struct {
	Preferences PreferenceSource
	Admission   *admission.Controller
	Transport   transport.Transport
	Muxer       Muxer
	Notifier    Notifier
	WorkDir     string
	MuxDir      string
	// MaxGlobalJobs caps jobs holding a user slot across all users. Zero
	// leaves concurrency to the per-user gates.
	MaxGlobalJobs int
	Logger        *slog.Logger
	// NewJobID overrides job ID generation in tests.
	NewJobID func() string
}

// Pipeline is safe for concurrent use; each Run is one job.
type Pipeline struct {
	prefs     PreferenceSource
	admission *admission.Controller
	transport transport.Transport
	muxer     Muxer
	notifier  Notifier
	workDir   string
	muxDir    string
	logger    *slog.Logger
	newJobID  func() string
	live      *xsync.Map[string, time.Time]
	global    *semaphore.Weighted
}

// New validates opts and constructs a Pipeline.
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Preferences == nil:
		return nil, errors.New("pipeline: preference source is required")
	case opts.Admission == nil:
		return nil, errors.New("pipeline: admission controller is required")
	case opts.Transport == nil:
		return nil, errors.New("pipeline: transport is required")
	case opts.WorkDir == "" || opts.MuxDir == "":
		return nil, errors.New("pipeline: work and mux directories are required")
	}
	muxer := opts.Muxer
	if muxer == nil {
		muxer = mux.New(mux.Options{Enabled: false})
	}
	newJobID := opts.NewJobID
	if newJobID == nil {
		newJobID = func() string { return uuid.NewString() }
	}
	p := &Pipeline{
		prefs:     opts.Preferences,
		admission: opts.Admission,
		transport: opts.Transport,
		muxer:     muxer,
		notifier:  opts.Notifier,
		workDir:   opts.WorkDir,
		muxDir:    opts.MuxDir,
		logger:    logging.NewComponentLogger(opts.Logger, "pipeline"),
		newJobID:  newJobID,
		live:      xsync.NewMap[string, time.Time](),
	}
	if opts.MaxGlobalJobs > 0 {
		p.global = semaphore.NewWeighted(int64(opts.MaxGlobalJobs))
	}
	return p, nil
}

// job carries per-run state.
type job struct {
	id       string
	ev       transport.FileEvent
	state    State
	status   transport.MessageID
	hasMsg   bool
	download string
	muxed    string
	dirs     []string
	logger   *slog.Logger
}

// Run processes ev. Rejections that are reported to the user (no template,
// no credit, duplicate) return a nil error; the Outcome says what happened.
// Transport failures and ledger outages return the underlying error too.
func (p *Pipeline) Run(ctx context.Context, ev transport.FileEvent) (Outcome, error) {
	if ev.FileName == "" {
		ev.FileName = naming.DefaultFileName(ev.Kind, ev.FileID)
	}
	j := &job{id: p.newJobID(), ev: ev, state: StateAdmitted}
	ctx = services.WithUserID(ctx, ev.UserID)
	ctx = services.WithFileID(ctx, ev.FileID)
	ctx = services.WithJobID(ctx, j.id)
	j.logger = logging.WithContext(ctx, p.logger)

	p.live.Store(j.id, time.Now())
	defer p.live.Delete(j.id)
	outcome, err := p.run(ctx, j)
	metrics.RecordJob(string(outcome))
	return outcome, err
}

// Live reports whether jobID is still running. Job working directories are
// named after their job ID.
func (p *Pipeline) Live(jobID string) bool {
	_, ok := p.live.Load(jobID)
	return ok
}

// Running returns the number of jobs inside Run.
func (p *Pipeline) Running() int {
	return p.live.Size()
}

func (p *Pipeline) run(ctx context.Context, j *job) (Outcome, error) {
	ev := j.ev
	if p.admission.IsDuplicate(ev.FileID) {
		metrics.RecordDuplicate()
		j.logger.Debug("duplicate submission ignored",
			logging.String(logging.FieldEventType, "duplicate_suppressed"),
		)
		return OutcomeDuplicate, nil
	}

	prefs, err := p.prefs.CachedPreferences(ctx, ev.UserID)
	if err != nil {
		p.admission.Forget(ev.FileID)
		p.reply(ctx, j, StoreUnavailableMessage)
		return OutcomeStoreUnavailable, services.Wrap(services.ErrStoreUnavailable, "admission", "load preferences", "preference store unavailable", err)
	}
	if !prefs.HasTemplate() {
		p.admission.Forget(ev.FileID)
		p.reply(ctx, j, NoTemplateMessage)
		j.logger.Info("rename template missing",
			logging.String(logging.FieldEventType, "job_rejected"),
			logging.String("reason", "no_template"),
		)
		return OutcomeNoTemplate, nil
	}

	decision, err := p.admission.CheckAndReserve(ctx, ev.UserID)
	if err != nil {
		metrics.RecordAdmission("unavailable")
		p.admission.Forget(ev.FileID)
		p.reply(ctx, j, StoreUnavailableMessage)
		return OutcomeStoreUnavailable, err
	}
	if !decision.Allowed {
		metrics.RecordAdmission(decisionLabel(decision))
		p.admission.Forget(ev.FileID)
		p.reply(ctx, j, OutOfCreditsMessage)
		j.logger.Info("no credit left",
			logging.String(logging.FieldEventType, "job_rejected"),
			logging.String("reason", "denied"),
		)
		return OutcomeDenied, nil
	}
	metrics.RecordAdmission(decisionLabel(decision))

	capacity := p.admission.CapacityFor(ev.UserID, decision.Premium)
	permit, err := p.admission.AcquireSlot(ctx, ev.UserID, capacity)
	if err != nil {
		p.admission.Forget(ev.FileID)
		return OutcomeCancelled, err
	}
	// Global tokens are only ever held by jobs that already own a user slot.
	if p.global != nil {
		if err := p.global.Acquire(ctx, 1); err != nil {
			permit.Release()
			p.admission.Forget(ev.FileID)
			return OutcomeCancelled, err
		}
	}
	metrics.JobsInFlight.Inc()
	defer func() {
		p.cleanup(j)
		p.admission.Forget(ev.FileID)
		if p.global != nil {
			p.global.Release(1)
		}
		permit.Release()
		metrics.JobsInFlight.Dec()
	}()

	j.logger.Info("job admitted",
		logging.String(logging.FieldEventType, "job_admitted"),
		logging.String("file_name", ev.FileName),
		logging.Bool("premium", decision.Premium),
		logging.Int64("credits_remaining", decision.Remaining),
		logging.Int("capacity", capacity),
	)

	outName := p.resolve(ctx, j, prefs)

	if err := p.download(ctx, j, outName); err != nil {
		p.edit(ctx, j, fmt.Sprintf(downloadErrorFormat, err))
		return p.fail(ctx, j, OutcomeDownloadFailed, services.Wrap(services.ErrTransient, string(StateDownloading), "download", "transport download failed", err))
	}

	path := p.applyMetadata(ctx, j, prefs, outName)

	if err := p.upload(ctx, j, prefs, path, outName); err != nil {
		p.edit(ctx, j, fmt.Sprintf(uploadErrorFormat, err))
		return p.fail(ctx, j, OutcomeUploadFailed, services.Wrap(services.ErrTransient, string(StateUploading), "upload", "transport upload failed", err))
	}

	j.state = StateDone
	if j.hasMsg {
		if err := p.transport.Retract(ctx, ev.ChatID, j.status); err != nil {
			j.logger.Debug("retract status message", logging.Error(err))
		}
	}
	if err := p.prefs.RecordRename(ctx, ev.UserID); err != nil {
		j.logger.Debug("record rename count", logging.Error(err))
	}
	j.logger.Info("file delivered",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("output_name", outName),
	)
	return OutcomeDelivered, nil
}

func (p *Pipeline) resolve(ctx context.Context, j *job, prefs store.Preferences) string {
	analysis := cascade.Analyze(j.ev.FileName)
	res := naming.Resolve(prefs.Template, analysis)
	outName := naming.OutputFileName(res.Name, j.ev.FileName)
	j.state = StateTemplateResolved
	j.logger.Debug("template resolved",
		logging.String(logging.FieldEventType, "template_resolved"),
		logging.String("episode", analysis.Episode),
		logging.String("episode_rule", analysis.EpisodeRule),
		logging.String("quality", analysis.Quality),
		logging.String("output_name", outName),
	)
	if res.QualityAdvisory {
		metrics.RecordQualityAdvisory()
		p.reply(ctx, j, QualityAdvisoryMessage)
	}

	id := filepath.Base(j.id)
	j.download = filepath.Join(p.workDir, id, outName)
	j.muxed = filepath.Join(p.muxDir, id, outName)
	j.dirs = []string{filepath.Join(p.workDir, id), filepath.Join(p.muxDir, id)}
	return outName
}

func (p *Pipeline) download(ctx context.Context, j *job, outName string) error {
	j.state = StateDownloading
	start := time.Now()
	if id, err := p.transport.Reply(ctx, j.ev.ChatID, DownloadingMessage); err != nil {
		j.logger.Debug("send status message", logging.Error(err))
	} else {
		j.status, j.hasMsg = id, true
	}
	if err := os.MkdirAll(filepath.Dir(j.download), 0o755); err != nil {
		return fmt.Errorf("prepare download directory: %w", err)
	}
	written, err := p.transport.Download(ctx, j.ev, j.download)
	if err != nil {
		return err
	}
	if written != "" {
		j.download = written
	}
	metrics.ObserveStage(string(StateDownloading), start)
	j.logger.Debug("download complete",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String(logging.FieldStage, string(StateDownloading)),
		logging.String("path", j.download),
		logging.String("output_name", outName),
	)
	return nil
}

// applyMetadata returns the path to upload: the muxed copy when the mux
// step applied, the download otherwise.
func (p *Pipeline) applyMetadata(ctx context.Context, j *job, prefs store.Preferences, outName string) string {
	j.state = StateMetadataMux
	p.edit(ctx, j, ProcessingMessage)
	if !prefs.Metadata.Enabled {
		metrics.RecordMux(mux.OutcomeSkipped.String())
		return j.download
	}
	start := time.Now()
	md := prefs.Metadata
	res := p.muxer.Apply(ctx, mux.Request{
		Input:  j.download,
		Output: j.muxed,
		Tags: mux.Tags{
			Title:     md.Title,
			Author:    md.Author,
			Artist:    md.Artist,
			Video:     md.Video,
			Audio:     md.Audio,
			Subtitle:  md.Subtitle,
			EncodedBy: md.EncodedBy,
			CustomTag: md.CustomTag,
		},
	})
	metrics.RecordMux(res.Outcome.String())
	metrics.ObserveStage(string(StateMetadataMux), start)
	if res.Outcome == mux.OutcomeDegraded {
		j.logger.Info("continuing without metadata",
			logging.String(logging.FieldEventType, "mux_degraded"),
			logging.String("output_name", outName),
			logging.Error(res.Err),
		)
	}
	if res.Path == "" {
		return j.download
	}
	return res.Path
}

func (p *Pipeline) upload(ctx context.Context, j *job, prefs store.Preferences, path, outName string) error {
	j.state = StateUploading
	p.edit(ctx, j, UploadingMessage)
	start := time.Now()

	var (
		size      int64
		sizeKnown bool
	)
	if info, err := os.Stat(path); err == nil {
		size, sizeKnown = info.Size(), true
	}
	kind := naming.DeliveryKind(j.ev.Kind, prefs.MediaPreference)
	err := transport.Deliver(ctx, p.transport, j.ev.ChatID, kind, transport.Delivery{
		Path:      path,
		FileName:  outName,
		Caption:   naming.Caption(prefs.Caption, outName, size, sizeKnown),
		Thumbnail: prefs.Thumbnail,
	})
	if err != nil {
		return err
	}
	metrics.ObserveStage(string(StateUploading), start)
	return nil
}

// cleanup removes the job's working files. It runs exactly once per
// admitted job, whatever state the job ended in.
func (p *Pipeline) cleanup(j *job) {
	paths := []string{j.download}
	if j.muxed != j.download {
		paths = append(paths, j.muxed)
	}
	paths = append(paths, j.dirs...)
	if err := fileutil.RemoveAll(paths...); err != nil {
		logging.WarnWithContext(j.logger, "cleanup incomplete", "cleanup_failed",
			logging.Error(err),
			logging.String("state", string(j.state)),
			logging.String(logging.FieldImpact, "working files left on disk until the janitor sweep"),
			logging.String(logging.FieldErrorHint, "check permissions on the work and mux directories"),
		)
	}
}

func (p *Pipeline) fail(ctx context.Context, j *job, outcome Outcome, err error) (Outcome, error) {
	failedIn := j.state
	j.state = StateFailed
	logging.ErrorWithContext(j.logger, "job failed", "job_failed",
		logging.String("state", string(failedIn)),
		logging.String("outcome", string(outcome)),
		logging.Error(err),
	)
	if p.notifier != nil {
		alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if nerr := p.notifier.Publish(alertCtx, notifications.EventJobFailed, notifications.Payload{
			"user":    j.ev.UserID,
			"file":    j.ev.FileName,
			"outcome": string(outcome),
			"error":   err,
		}); nerr != nil {
			j.logger.Warn("job failure alert not sent", logging.Error(nerr))
		}
	}
	return outcome, err
}

func (p *Pipeline) reply(ctx context.Context, j *job, text string) {
	if _, err := p.transport.Reply(ctx, j.ev.ChatID, text); err != nil {
		j.logger.Debug("send message", logging.Error(err))
	}
}

// edit updates the job's status message, or sends a new one when the
// status message could not be created.
func (p *Pipeline) edit(ctx context.Context, j *job, text string) {
	if !j.hasMsg {
		p.reply(ctx, j, text)
		return
	}
	if err := p.transport.Edit(ctx, j.ev.ChatID, j.status, text); err != nil {
		j.logger.Debug("edit status message", logging.Error(err))
	}
}

func decisionLabel(d admission.Decision) string {
	switch {
	case !d.Allowed:
		return "denied"
	case d.Premium:
		return "premium"
	default:
		return "credit"
	}
}
