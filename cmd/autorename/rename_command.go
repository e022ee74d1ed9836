package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"autorename/internal/config"
	"autorename/internal/daemon"
	"autorename/internal/pipeline"
	"autorename/internal/transport"
)

func newRenameCommand(ctx *commandContext) *cobra.Command {
	var userFlag int64
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "rename --user ID FILE...",
		Short: "Run files through the rename pipeline for a user",
		Long: "Rename ingests each file, applies the user's template and metadata,\n" +
			"and delivers the result to the user's outbox. Credits and concurrency\n" +
			"limits apply exactly as they do for daemon intake.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag <= 0 {
				return fmt.Errorf("--user is required")
			}
			kind := transport.ParseMediaKind(kindFlag)
			return ctx.withDaemon(cmd, func(d *daemon.Daemon) error {
				rows := make([][]string, 0, len(args))
				var failures int
				for _, arg := range args {
					path, err := config.ExpandPath(arg)
					if err != nil {
						return err
					}
					outcome, err := d.Rename(cmd.Context(), userFlag, kind, path)
					label, detail := string(outcome), ""
					if err != nil {
						detail = err.Error()
					}
					if label == "" {
						label = "error"
					}
					if outcome != pipeline.OutcomeDelivered {
						failures++
					}
					rows = append(rows, []string{filepath.Base(path), label, detail})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"File", "Outcome", "Detail"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft},
				))
				if failures > 0 {
					return fmt.Errorf("%d of %d files were not delivered", failures, len(args))
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64VarP(&userFlag, "user", "u", 0, "User ID whose preferences apply")
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", string(transport.KindDocument), "Inbound media kind (document, video, audio)")
	return cmd
}
