// Package mux rewrites container metadata tags with an out-of-process
// ffmpeg stream copy. Every failure is soft: callers get a Degraded result
// that points back at the untouched input.
package mux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"autorename/internal/deps"
	"autorename/internal/logging"
	"autorename/internal/services"
)

// Outcome classifies a mux attempt.
type Outcome int

const (
	// OutcomeSkipped means the step was not attempted.
	OutcomeSkipped Outcome = iota
	// OutcomeApplied means the tagged copy was written.
	OutcomeApplied
	// OutcomeDegraded means the tool was missing or failed; the input stands.
	OutcomeDegraded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDegraded:
		return "degraded"
	default:
		return "skipped"
	}
}

// Tags are the values written into the container.
type Tags struct {
	Title     string
	Author    string
	Artist    string
	Video     string
	Audio     string
	Subtitle  string
	EncodedBy string
	CustomTag string
}

// Request names the input to read and the side path to write.
type Request struct {
	Input  string
	Output string
	Tags   Tags
}

// Result reports what the pipeline should upload. Path is always usable.
type Result struct {
	Outcome Outcome
	Path    string
	Err     error
	Stderr  string
}

type commandRunner func(ctx context.Context, name string, args ...string) (stderr []byte, err error)

// Muxer invokes ffmpeg. The zero value is not usable; call New.
type Muxer struct {
	logger  *slog.Logger
	binary  string
	enabled bool
	timeout time.Duration
	run     commandRunner
	resolve func(string) (string, error)
}

// Options configures a Muxer.
type Options struct {
	Enabled bool
	Binary  string
	// Timeout bounds one ffmpeg run; zero leaves it to the caller's context.
	Timeout time.Duration
	Logger  *slog.Logger
}

// New constructs a Muxer.
func New(opts Options) *Muxer {
	binary := strings.TrimSpace(opts.Binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Muxer{
		logger:  logging.NewComponentLogger(opts.Logger, "mux"),
		binary:  binary,
		enabled: opts.Enabled,
		timeout: opts.Timeout,
		run:     defaultCommandRunner,
		resolve: deps.ResolveFFmpeg,
	}
}

// WithCommandRunner allows injecting a custom command runner for tests.
func (m *Muxer) WithCommandRunner(r commandRunner) {
	if m != nil && r != nil {
		m.run = r
	}
}

// Enabled reports whether the muxer will attempt to run at all.
func (m *Muxer) Enabled() bool {
	return m != nil && m.enabled
}

// Apply writes a tagged copy of req.Input to req.Output. The input file is
// never modified. On any failure the partial output is removed and the
// result points at the input.
func (m *Muxer) Apply(ctx context.Context, req Request) Result {
	if !m.Enabled() {
		return Result{Outcome: OutcomeSkipped, Path: req.Input}
	}
	logger := logging.WithContext(ctx, m.logger)

	binary, err := m.resolve(m.binary)
	if err != nil {
		logging.WarnWithContext(logger, "ffmpeg not found; skipping metadata", "mux_degraded",
			logging.Error(err),
			logging.String(logging.FieldImpact, "file delivered without rewritten metadata"),
			logging.String(logging.FieldErrorHint, "install ffmpeg or set mux.ffmpeg_binary"),
		)
		return m.degraded(req, services.Wrap(services.ErrExternalTool, "mux", "resolve ffmpeg", "ffmpeg unavailable", err), "")
	}
	if strings.TrimSpace(req.Output) == "" || filepath.Clean(req.Output) == filepath.Clean(req.Input) {
		return m.degraded(req, services.Wrap(services.ErrValidation, "mux", "plan", "output must differ from input", nil), "")
	}
	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return m.degraded(req, services.Wrap(services.ErrExternalTool, "mux", "prepare output", "create output directory", err), "")
	}

	runCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	args := BuildArgs(req)
	logger.Debug("executing ffmpeg",
		logging.String("input", req.Input),
		logging.String("output", req.Output),
	)
	stderr, err := m.run(runCtx, binary, args...)
	if err != nil {
		tail := tailLines(string(stderr), 20)
		logging.WarnWithContext(logger, "ffmpeg metadata rewrite failed; using original file", "mux_degraded",
			logging.Error(err),
			logging.String("stderr", tail),
			logging.String(logging.FieldImpact, "file delivered without rewritten metadata"),
			logging.String(logging.FieldErrorHint, "inspect ffmpeg stderr for the failing stream"),
		)
		return m.degraded(req, services.Wrap(services.ErrExternalTool, "mux", "run ffmpeg", "ffmpeg exited with error", err), tail)
	}
	if _, statErr := os.Stat(req.Output); statErr != nil {
		return m.degraded(req, services.Wrap(services.ErrExternalTool, "mux", "verify output", "ffmpeg produced no output", statErr), "")
	}

	logger.Info("metadata applied",
		logging.String(logging.FieldEventType, "mux_applied"),
		logging.String("output", req.Output),
	)
	return Result{Outcome: OutcomeApplied, Path: req.Output}
}

func (m *Muxer) degraded(req Request, err error, stderr string) Result {
	if req.Output != "" && filepath.Clean(req.Output) != filepath.Clean(req.Input) {
		if rmErr := os.Remove(req.Output); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			m.logger.Debug("remove partial mux output", logging.Error(rmErr))
		}
	}
	return Result{Outcome: OutcomeDegraded, Path: req.Input, Err: err, Stderr: stderr}
}

// BuildArgs returns the ffmpeg argument list for req, without the binary.
func BuildArgs(req Request) []string {
	t := req.Tags
	args := []string{
		"-y",
		"-i", req.Input,
		"-metadata", "title=" + t.Title,
		"-metadata", "artist=" + t.Artist,
		"-metadata", "author=" + t.Author,
		"-metadata:s:v", "title=" + t.Video,
		"-metadata:s:a", "title=" + t.Audio,
		"-metadata:s:s", "title=" + t.Subtitle,
	}
	if t.EncodedBy != "" {
		args = append(args, "-metadata", "encoded_by="+t.EncodedBy)
	}
	if t.CustomTag != "" {
		args = append(args, "-metadata", "comment="+t.CustomTag)
	}
	return append(args, "-c", "copy", req.Output)
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stderr.Bytes(), fmt.Errorf("%s: %w", filepath.Base(name), err)
	}
	return stderr.Bytes(), nil
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
