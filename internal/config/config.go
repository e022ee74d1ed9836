package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	WorkDir      string `toml:"work_dir"`
	MuxDir       string `toml:"mux_dir"`
	InboxDir     string `toml:"inbox_dir"`
	OutboxDir    string `toml:"outbox_dir"`
	BlobDir      string `toml:"blob_dir"`
	LogDir       string `toml:"log_dir"`
	DatabasePath string `toml:"database_path"`
}

// Admission contains credit, concurrency, and duplicate suppression settings.
type Admission struct {
	DuplicateWindowSeconds int     `toml:"duplicate_window_seconds"`
	DefaultCredits         int64   `toml:"default_credits"`
	Admins                 []int64 `toml:"admins"`
	CapacityAdmin          int     `toml:"capacity_admin"`
	CapacityPremium        int     `toml:"capacity_premium"`
	CapacityStandard       int     `toml:"capacity_standard"`
	MaxGlobalJobs          int     `toml:"max_global_jobs"`
}

// Ledger selects where credit balances live.
type Ledger struct {
	Backend       string `toml:"backend"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	KeyPrefix     string `toml:"key_prefix"`
}

// Mux contains configuration for the ffmpeg metadata step.
type Mux struct {
	Enabled        bool   `toml:"enabled"`
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Transport contains outbound flood control settings.
type Transport struct {
	RatePerSecond float64 `toml:"rate_per_second"`
	Burst         int     `toml:"burst"`
}

// Inbox contains configuration for the drop-folder watcher.
type Inbox struct {
	Enabled      bool `toml:"enabled"`
	SettleMillis int  `toml:"settle_millis"`
}

// API contains HTTP surface configuration.
type API struct {
	Enabled           bool   `toml:"enabled"`
	Bind              string `toml:"bind"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	MaxUploadMiB      int64  `toml:"max_upload_mib"`
	Token             string `toml:"token"`
}

// Janitor contains configuration for periodic sweeps.
type Janitor struct {
	Schedule            string `toml:"schedule"`
	SessionIdleMinutes  int    `toml:"session_idle_minutes"`
	OrphanMaxAgeMinutes int    `toml:"orphan_max_age_minutes"`
}

// Cache contains preference cache sizing.
type Cache struct {
	PreferencesTTLSeconds int `toml:"preferences_ttl_seconds"`
	PreferencesMaxEntries int `toml:"preferences_max_entries"`
}

// Notifications contains ntfy alert settings.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for autorename.
//
// Configuration sections by subsystem:
//   - Paths: work, inbox/outbox, blob, log, and database locations
//   - Admission: credits, per-role concurrency, duplicate window
//   - Ledger: sqlite or redis credit ledger
//   - Mux: ffmpeg metadata rewrite
//   - Transport: outbound rate limiting
//   - Inbox: drop-folder watcher
//   - API: HTTP intake and metrics
//   - Janitor: cron sweeps
//   - Cache: preference read cache
//   - Notifications: ntfy operator alerts
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Admission Admission `toml:"admission"`
	Ledger    Ledger    `toml:"ledger"`
	Mux       Mux       `toml:"mux"`
	Transport Transport `toml:"transport"`
	Inbox     Inbox     `toml:"inbox"`
	API       API       `toml:"api"`
	Janitor   Janitor   `toml:"janitor"`
	Cache     Cache     `toml:"cache"`
	Logging   Logging   `toml:"logging"`

	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("autorename.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.WorkDir,
		c.Paths.MuxDir,
		c.Paths.OutboxDir,
		c.Paths.BlobDir,
		c.Paths.LogDir,
		filepath.Dir(c.Paths.DatabasePath),
	}
	if c.Inbox.Enabled {
		dirs = append(dirs, c.Paths.InboxDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DuplicateWindow returns the duplicate suppression window.
func (c *Config) DuplicateWindow() time.Duration {
	return time.Duration(c.Admission.DuplicateWindowSeconds) * time.Second
}

// SessionIdleTimeout returns how long a sequence session may stay idle before
// the janitor abandons it.
func (c *Config) SessionIdleTimeout() time.Duration {
	return time.Duration(c.Janitor.SessionIdleMinutes) * time.Minute
}

// OrphanMaxAge returns the age after which stray work files are removed.
func (c *Config) OrphanMaxAge() time.Duration {
	return time.Duration(c.Janitor.OrphanMaxAgeMinutes) * time.Minute
}

// PreferencesTTL returns the preference cache entry lifetime.
func (c *Config) PreferencesTTL() time.Duration {
	return time.Duration(c.Cache.PreferencesTTLSeconds) * time.Second
}

// MuxTimeout returns the ffmpeg timeout, zero meaning none.
func (c *Config) MuxTimeout() time.Duration {
	return time.Duration(c.Mux.TimeoutSeconds) * time.Second
}

// MaxUploadBytes returns the upload size limit in bytes, zero meaning none.
func (c *Config) MaxUploadBytes() int64 {
	if c.API.MaxUploadMiB <= 0 {
		return 0
	}
	return c.API.MaxUploadMiB << 20
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "autorename.lock")
}

// PIDPath returns the file the foreground daemon writes its PID to.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "autorename.pid")
}

// IsAdmin reports whether the user is listed as an administrator.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Admission.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
