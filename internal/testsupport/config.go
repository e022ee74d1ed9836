package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"autorename/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths = config.Paths{
		DataDir:      filepath.Join(base, "data"),
		WorkDir:      filepath.Join(base, "downloads"),
		MuxDir:       filepath.Join(base, "metadata"),
		InboxDir:     filepath.Join(base, "inbox"),
		OutboxDir:    filepath.Join(base, "outbox"),
		BlobDir:      filepath.Join(base, "blobs"),
		LogDir:       filepath.Join(base, "logs"),
		DatabasePath: filepath.Join(base, "data", "autorename.db"),
	}
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Transport.RatePerSecond = 0
	cfgVal.Cache.PreferencesTTLSeconds = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithCredits sets the starting balance of newly provisioned users.
func WithCredits(n int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Admission.DefaultCredits = n
	}
}

// WithAdmins marks user IDs as admins.
func WithAdmins(ids ...int64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Admission.Admins = append([]int64(nil), ids...)
	}
}

// WithMuxDisabled turns the ffmpeg step off.
func WithMuxDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Mux.Enabled = false
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			WriteStubBinary(b.t, binDir, name, "exit 0\n")
		}
		PrependPath(b.t, binDir)
	}
}

// PrependPath puts dir first on PATH for the rest of the test.
func PrependPath(t testing.TB, dir string) {
	t.Helper()
	oldPath := os.Getenv("PATH")
	if err := os.Setenv("PATH", dir+string(os.PathListSeparator)+oldPath); err != nil {
		t.Fatalf("set PATH: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Setenv("PATH", oldPath)
	})
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.WorkDir)
}
