package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"autorename/internal/daemon"
	"autorename/internal/preflight"
)

type statusReport struct {
	Running       bool               `json:"running"`
	ConfigPath    string             `json:"configPath"`
	ConfigFound   bool               `json:"configFound"`
	DatabasePath  string             `json:"databasePath"`
	LedgerBackend string             `json:"ledgerBackend"`
	Checks        []preflight.Result `json:"checks"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency, and directory status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status, err := daemon.Probe(cfg)
			if err != nil {
				return err
			}
			checks := preflight.RunAll(cmd.Context(), cfg)
			if status.Running && cfg.API.Enabled {
				checks = append(checks, preflight.CheckAPI(cmd.Context(), cfg.API.Bind))
			}

			report := statusReport{
				Running:       status.Running,
				ConfigPath:    ctx.configPath,
				ConfigFound:   ctx.configSeen,
				DatabasePath:  status.DatabasePath,
				LedgerBackend: status.LedgerBackend,
				Checks:        checks,
			}
			if asJSON {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			lines := renderSectionHeader("System", colorize)
			if report.Running {
				lines = append(lines, renderStatusLine("Daemon", statusOK, "Running", colorize))
			} else {
				lines = append(lines, renderStatusLine("Daemon", statusInfo, "Not running", colorize))
			}
			configDetail := report.ConfigPath
			if !report.ConfigFound {
				configDetail += " (defaults)"
			}
			lines = append(lines,
				renderStatusLine("Config", statusInfo, configDetail, colorize),
				renderStatusLine("Database", statusInfo, report.DatabasePath, colorize),
				renderStatusLine("Ledger", statusInfo, report.LedgerBackend, colorize),
				renderStatusLine("Admins", statusInfo, strconv.Itoa(len(cfg.Admission.Admins)), colorize),
				"",
			)
			lines = append(lines, renderSectionHeader("Checks", colorize)...)
			for _, check := range checks {
				kind := statusOK
				if !check.Passed {
					kind = statusError
				}
				lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
			}
			for _, line := range lines {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of text")
	return cmd
}
