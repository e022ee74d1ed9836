package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAdmission()
	c.normalizeLedger()
	c.normalizeMux()
	c.normalizeAPI()
	c.normalizeLogging()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		key      string
		value    *string
		fallback string
	}{
		{"paths.data_dir", &c.Paths.DataDir, defaultDataDir},
		{"paths.work_dir", &c.Paths.WorkDir, defaultWorkDir},
		{"paths.mux_dir", &c.Paths.MuxDir, defaultMuxDir},
		{"paths.inbox_dir", &c.Paths.InboxDir, defaultInboxDir},
		{"paths.outbox_dir", &c.Paths.OutboxDir, defaultOutboxDir},
		{"paths.blob_dir", &c.Paths.BlobDir, defaultBlobDir},
		{"paths.log_dir", &c.Paths.LogDir, defaultLogDir},
		{"paths.database_path", &c.Paths.DatabasePath, defaultDatabasePath},
	}
	for _, field := range fields {
		if strings.TrimSpace(*field.value) == "" {
			*field.value = field.fallback
		}
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeAdmission() {
	if c.Admission.DuplicateWindowSeconds == 0 {
		c.Admission.DuplicateWindowSeconds = defaultDuplicateWindowSeconds
	}
	if c.Admission.CapacityAdmin == 0 {
		c.Admission.CapacityAdmin = defaultCapacity
	}
	if c.Admission.CapacityPremium == 0 {
		c.Admission.CapacityPremium = defaultCapacity
	}
	if c.Admission.CapacityStandard == 0 {
		c.Admission.CapacityStandard = defaultCapacity
	}
}

func (c *Config) normalizeLedger() {
	c.Ledger.Backend = strings.ToLower(strings.TrimSpace(c.Ledger.Backend))
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = defaultLedgerBackend
	}
	c.Ledger.RedisAddr = strings.TrimSpace(c.Ledger.RedisAddr)
	if c.Ledger.RedisAddr == "" {
		c.Ledger.RedisAddr = defaultRedisAddr
	}
	if c.Ledger.RedisPassword == "" {
		if value, ok := os.LookupEnv("AUTORENAME_REDIS_PASSWORD"); ok {
			c.Ledger.RedisPassword = value
		}
	}
	if strings.TrimSpace(c.Ledger.KeyPrefix) == "" {
		c.Ledger.KeyPrefix = defaultKeyPrefix
	}
}

func (c *Config) normalizeMux() {
	c.Mux.FFmpegBinary = strings.TrimSpace(c.Mux.FFmpegBinary)
	if c.Mux.FFmpegBinary == "" {
		c.Mux.FFmpegBinary = defaultFFmpegBinary
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	if c.API.RequestsPerMinute == 0 {
		c.API.RequestsPerMinute = defaultRequestsPerMinute
	}
	if c.API.MaxUploadMiB == 0 {
		c.API.MaxUploadMiB = defaultMaxUploadMiB
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("AUTORENAME_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
	c.Janitor.Schedule = strings.TrimSpace(c.Janitor.Schedule)
	if c.Janitor.Schedule == "" {
		c.Janitor.Schedule = defaultJanitorSchedule
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("AUTORENAME_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeoutSeconds == 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNtfyTimeoutSeconds
	}
}
