package preflight

import (
	"context"

	"autorename/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Outbox directory", cfg.Paths.OutboxDir),
		CheckDirectoryAccess("Blob directory", cfg.Paths.BlobDir),
	}

	if cfg.Mux.Enabled {
		results = append(results,
			CheckDirectoryAccess("Metadata directory", cfg.Paths.MuxDir),
			CheckFFmpeg(cfg.Mux.FFmpegBinary),
		)
	}

	if cfg.Inbox.Enabled {
		results = append(results, CheckDirectoryAccess("Inbox directory", cfg.Paths.InboxDir))
	}

	if cfg.Ledger.Backend == "redis" {
		results = append(results, CheckRedis(ctx, cfg.Ledger.RedisAddr, cfg.Ledger.RedisPassword, cfg.Ledger.RedisDB))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
