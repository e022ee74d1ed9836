package config

const (
	defaultConfigPath             = "~/.config/autorename/config.toml"
	defaultDataDir                = "~/.local/share/autorename"
	defaultWorkDir                = "~/.local/share/autorename/downloads"
	defaultMuxDir                 = "~/.local/share/autorename/metadata"
	defaultInboxDir               = "~/.local/share/autorename/inbox"
	defaultOutboxDir              = "~/.local/share/autorename/outbox"
	defaultBlobDir                = "~/.local/share/autorename/blobs"
	defaultLogDir                 = "~/.local/state/autorename/logs"
	defaultDatabasePath           = "~/.local/share/autorename/autorename.db"
	defaultDuplicateWindowSeconds = 10
	defaultCredits                = 69
	defaultCapacity               = 3
	defaultLedgerBackend          = "sqlite"
	defaultRedisAddr              = "127.0.0.1:6379"
	defaultKeyPrefix              = "autorename:"
	defaultFFmpegBinary           = "ffmpeg"
	defaultRatePerSecond          = 20
	defaultBurst                  = 5
	defaultSettleMillis           = 500
	defaultAPIBind                = "127.0.0.1:7490"
	defaultRequestsPerMinute      = 120
	defaultMaxUploadMiB           = 2048
	defaultJanitorSchedule        = "@every 1m"
	defaultSessionIdleMinutes     = 60
	defaultOrphanMaxAgeMinutes    = 360
	defaultPreferencesTTLSeconds  = 30
	defaultPreferencesMaxEntries  = 10000
	defaultNtfyTimeoutSeconds     = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			WorkDir:      defaultWorkDir,
			MuxDir:       defaultMuxDir,
			InboxDir:     defaultInboxDir,
			OutboxDir:    defaultOutboxDir,
			BlobDir:      defaultBlobDir,
			LogDir:       defaultLogDir,
			DatabasePath: defaultDatabasePath,
		},
		Admission: Admission{
			DuplicateWindowSeconds: defaultDuplicateWindowSeconds,
			DefaultCredits:         defaultCredits,
			CapacityAdmin:          defaultCapacity,
			CapacityPremium:        defaultCapacity,
			CapacityStandard:       defaultCapacity,
		},
		Ledger: Ledger{
			Backend:   defaultLedgerBackend,
			RedisAddr: defaultRedisAddr,
			KeyPrefix: defaultKeyPrefix,
		},
		Mux: Mux{
			Enabled:      true,
			FFmpegBinary: defaultFFmpegBinary,
		},
		Transport: Transport{
			RatePerSecond: defaultRatePerSecond,
			Burst:         defaultBurst,
		},
		Inbox: Inbox{
			Enabled:      true,
			SettleMillis: defaultSettleMillis,
		},
		API: API{
			Enabled:           true,
			Bind:              defaultAPIBind,
			RequestsPerMinute: defaultRequestsPerMinute,
			MaxUploadMiB:      defaultMaxUploadMiB,
		},
		Janitor: Janitor{
			Schedule:            defaultJanitorSchedule,
			SessionIdleMinutes:  defaultSessionIdleMinutes,
			OrphanMaxAgeMinutes: defaultOrphanMaxAgeMinutes,
		},
		Cache: Cache{
			PreferencesTTLSeconds: defaultPreferencesTTLSeconds,
			PreferencesMaxEntries: defaultPreferencesMaxEntries,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
		},
	}
}
