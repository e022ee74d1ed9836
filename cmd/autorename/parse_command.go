package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"autorename/internal/cascade"
	"autorename/internal/naming"
)

type parseResult struct {
	Name        string `json:"name"`
	Episode     string `json:"episode,omitempty"`
	EpisodeRule string `json:"episodeRule,omitempty"`
	Quality     string `json:"quality"`
	QualityRule string `json:"qualityRule,omitempty"`
	Rank        int    `json:"rank"`
	Output      string `json:"output,omitempty"`
	Advisory    bool   `json:"qualityAdvisory,omitempty"`
}

func newParseCommand() *cobra.Command {
	var template string
	var asJSON bool
	var listRules bool

	cmd := &cobra.Command{
		Use:         "parse NAME...",
		Short:       "Show how filenames are read for episode and quality",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if listRules {
				fmt.Fprintf(out, "Episode rules: %s\n", strings.Join(cascade.EpisodeRules(), ", "))
				fmt.Fprintf(out, "Quality rules: %s\n", strings.Join(cascade.QualityRules(), ", "))
				return nil
			}
			if len(args) == 0 {
				return fmt.Errorf("at least one filename is required")
			}

			results := make([]parseResult, 0, len(args))
			for _, name := range args {
				res := cascade.Analyze(name)
				pr := parseResult{
					Name:        name,
					Episode:     res.Episode,
					EpisodeRule: res.EpisodeRule,
					Quality:     res.Quality,
					QualityRule: res.QualityRule,
					Rank:        cascade.QualityRank(name),
				}
				if template != "" {
					resolved := naming.Resolve(template, res)
					pr.Output = naming.OutputFileName(resolved.Name, name)
					pr.Advisory = resolved.QualityAdvisory
				}
				results = append(results, pr)
			}
			if asJSON {
				return writeJSON(cmd, results)
			}

			headers := []string{"Name", "Episode", "Rule", "Quality", "Rule", "Rank"}
			aligns := []columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignRight}
			if template != "" {
				headers = append(headers, "Output")
				aligns = append(aligns, alignLeft)
			}
			rows := make([][]string, 0, len(results))
			for _, pr := range results {
				episode := pr.Episode
				if episode == "" {
					episode = "-"
				}
				row := []string{pr.Name, episode, dash(pr.EpisodeRule), pr.Quality, dash(pr.QualityRule), strconv.Itoa(pr.Rank)}
				if template != "" {
					output := pr.Output
					if pr.Advisory {
						output += " (quality not found)"
					}
					row = append(row, output)
				}
				rows = append(rows, row)
			}
			fmt.Fprintln(out, renderTable(headers, rows, aligns))
			return nil
		},
	}

	cmd.Flags().StringVarP(&template, "template", "t", "", "Render each name through this rename template")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	cmd.Flags().BoolVar(&listRules, "rules", false, "List the rule order and exit")
	return cmd
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
