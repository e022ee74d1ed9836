package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAdmission(); err != nil {
		return err
	}
	if err := c.validateLedger(); err != nil {
		return err
	}
	if err := c.validateTransport(); err != nil {
		return err
	}
	if err := c.validateJanitor(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAdmission() error {
	if c.Admission.DuplicateWindowSeconds < 0 {
		return errors.New("admission.duplicate_window_seconds must be positive")
	}
	if c.Admission.DefaultCredits < 0 {
		return errors.New("admission.default_credits must be zero or greater")
	}
	for key, value := range map[string]int{
		"admission.capacity_admin":    c.Admission.CapacityAdmin,
		"admission.capacity_premium":  c.Admission.CapacityPremium,
		"admission.capacity_standard": c.Admission.CapacityStandard,
	} {
		if value < 1 {
			return fmt.Errorf("%s must be at least 1", key)
		}
	}
	if c.Admission.MaxGlobalJobs < 0 {
		return errors.New("admission.max_global_jobs must be zero (unlimited) or greater")
	}
	return nil
}

func (c *Config) validateLedger() error {
	switch c.Ledger.Backend {
	case "sqlite":
	case "redis":
		if c.Ledger.RedisAddr == "" {
			return errors.New("ledger.redis_addr is required when ledger.backend is redis")
		}
		if c.Ledger.RedisDB < 0 {
			return errors.New("ledger.redis_db must be zero or greater")
		}
	default:
		return fmt.Errorf("ledger.backend: unsupported value %q (want sqlite or redis)", c.Ledger.Backend)
	}
	return nil
}

func (c *Config) validateTransport() error {
	if c.Transport.RatePerSecond <= 0 {
		return errors.New("transport.rate_per_second must be positive")
	}
	if c.Transport.Burst < 1 {
		return errors.New("transport.burst must be at least 1")
	}
	if c.Mux.TimeoutSeconds < 0 {
		return errors.New("mux.timeout_seconds must be zero or greater")
	}
	if c.API.MaxUploadMiB < 0 || c.API.RequestsPerMinute < 0 {
		return errors.New("api limits must be zero or greater")
	}
	return nil
}

func (c *Config) validateJanitor() error {
	if schedule := strings.TrimSpace(c.Janitor.Schedule); schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("janitor.schedule: %w", err)
		}
	}
	if c.Janitor.SessionIdleMinutes < 0 {
		return errors.New("janitor.session_idle_minutes must be zero (never) or greater")
	}
	if c.Janitor.OrphanMaxAgeMinutes < 0 {
		return errors.New("janitor.orphan_max_age_minutes must be zero (never) or greater")
	}
	if c.Cache.PreferencesTTLSeconds < 0 || c.Cache.PreferencesMaxEntries < 0 {
		return errors.New("cache settings must be zero or greater")
	}
	if c.Notifications.RequestTimeoutSeconds < 0 {
		return errors.New("notifications.request_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
