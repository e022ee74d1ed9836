package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"autorename/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantWork := filepath.Join(tempHome, ".local", "share", "autorename", "downloads")
	if cfg.Paths.WorkDir != wantWork {
		t.Fatalf("unexpected work dir: got %q want %q", cfg.Paths.WorkDir, wantWork)
	}
	if cfg.Admission.DuplicateWindowSeconds != 10 {
		t.Fatalf("unexpected duplicate window: %d", cfg.Admission.DuplicateWindowSeconds)
	}
	if cfg.Admission.DefaultCredits != 69 {
		t.Fatalf("unexpected default credits: %d", cfg.Admission.DefaultCredits)
	}
	for name, got := range map[string]int{
		"admin":    cfg.Admission.CapacityAdmin,
		"premium":  cfg.Admission.CapacityPremium,
		"standard": cfg.Admission.CapacityStandard,
	} {
		if got != 3 {
			t.Fatalf("expected %s capacity 3, got %d", name, got)
		}
	}
	if cfg.Ledger.Backend != "sqlite" {
		t.Fatalf("unexpected ledger backend: %q", cfg.Ledger.Backend)
	}
	if !cfg.Mux.Enabled {
		t.Fatal("expected mux enabled by default")
	}
	if cfg.API.Bind != "127.0.0.1:7490" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
}

func TestLoadCustomConfigOverridesDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("AUTORENAME_REDIS_PASSWORD", "secret")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"work_dir": "~/work",
		},
		"admission": map[string]any{
			"admins":            []int64{7, 9},
			"capacity_standard": 1,
		},
		"ledger": map[string]any{
			"backend":    "REDIS",
			"redis_addr": "cache:6379",
		},
		"logging": map[string]any{
			"format": "JSON",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected explicit path to resolve, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.WorkDir != filepath.Join(tempHome, "work") {
		t.Fatalf("unexpected work dir: %q", cfg.Paths.WorkDir)
	}
	if cfg.Ledger.Backend != "redis" || cfg.Ledger.RedisAddr != "cache:6379" {
		t.Fatalf("unexpected ledger config: %+v", cfg.Ledger)
	}
	if cfg.Ledger.RedisPassword != "secret" {
		t.Fatalf("expected redis password from env, got %q", cfg.Ledger.RedisPassword)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected normalized log format, got %q", cfg.Logging.Format)
	}
	if cfg.Admission.CapacityStandard != 1 || cfg.Admission.CapacityPremium != 3 {
		t.Fatalf("unexpected capacities: %+v", cfg.Admission)
	}
	if !cfg.IsAdmin(9) || cfg.IsAdmin(8) {
		t.Fatalf("unexpected admin resolution for %v", cfg.Admission.Admins)
	}
}

func TestLoadRejectsUnknownLedgerBackend(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[ledger]\nbackend = \"mongo\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, _, err := config.Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "ledger.backend") {
		t.Fatalf("expected ledger backend error, got %v", err)
	}
}

func TestValidateRejectsZeroCapacity(t *testing.T) {
	cfg := config.Default()
	cfg.Admission.CapacityPremium = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for negative capacity")
	}
}

func TestValidateJanitorSchedule(t *testing.T) {
	cfg := config.Default()
	cfg.Janitor.Schedule = "every minute please"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "janitor.schedule") {
		t.Fatalf("expected schedule error, got %v", err)
	}
	cfg.Janitor.Schedule = "*/5 * * * *"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("standard cron expression rejected: %v", err)
	}
	cfg.Janitor.Schedule = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty schedule rejected: %v", err)
	}
}

func TestSampleConfigParses(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.Janitor.Schedule != "@every 1m" {
		t.Fatalf("unexpected janitor schedule: %q", cfg.Janitor.Schedule)
	}
	if cfg.DuplicateWindow().Seconds() != 10 {
		t.Fatalf("unexpected duplicate window: %s", cfg.DuplicateWindow())
	}
}

func TestEnsureDirectoriesCreatesPaths(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths = config.Paths{
		DataDir:      filepath.Join(base, "data"),
		WorkDir:      filepath.Join(base, "work"),
		MuxDir:       filepath.Join(base, "mux"),
		InboxDir:     filepath.Join(base, "inbox"),
		OutboxDir:    filepath.Join(base, "outbox"),
		BlobDir:      filepath.Join(base, "blobs"),
		LogDir:       filepath.Join(base, "logs"),
		DatabasePath: filepath.Join(base, "db", "autorename.db"),
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.WorkDir, cfg.Paths.InboxDir, filepath.Join(base, "db")} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}

func TestLoadReadsSecretsFromEnvironment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("AUTORENAME_API_TOKEN", " s3cret ")
	t.Setenv("AUTORENAME_NTFY_TOPIC", "https://ntfy.sh/autorename-ops")
	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte("[notifications]\nrequest_timeout_seconds = 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Token != "s3cret" {
		t.Fatalf("api token = %q", cfg.API.Token)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.sh/autorename-ops" {
		t.Fatalf("ntfy topic = %q", cfg.Notifications.NtfyTopic)
	}
	if cfg.Notifications.RequestTimeoutSeconds != 10 {
		t.Fatalf("ntfy timeout = %d", cfg.Notifications.RequestTimeoutSeconds)
	}
}

func TestValidateRejectsNegativeNotificationTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.RequestTimeoutSeconds = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for negative ntfy timeout")
	}
}
