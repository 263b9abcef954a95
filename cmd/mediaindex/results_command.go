package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mediaindex/internal/results"
)

type resultsView struct {
	Summary results.Summary `json:"summary"`
	Entries []results.Entry `json:"entries"`
}

func newResultsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Show recently completed files and their exposure windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 {
				return fmt.Errorf("--limit must be at least 1, got %d", limit)
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			ledger, err := results.OpenLedger(cfg.LedgerPath())
			if err != nil {
				return err
			}
			defer ledger.Close()

			entries, err := ledger.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			summary, err := ledger.Summary(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, resultsView{Summary: summary, Entries: entries})
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No completed files recorded")
				return nil
			}
			fmt.Fprint(out, renderResults(entries, summary))
			fmt.Fprintf(out, "Showing %d of %d files; %d with failed downloads\n", len(entries), summary.Count, summary.FilesWithFailures)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of most recent files to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func renderResults(entries []results.Entry, summary results.Summary) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		failed := "-"
		if len(e.FailedFiles) > 0 {
			failed = strings.Join(e.FailedFiles, ", ")
		}
		rows = append(rows, []string{
			e.FileName,
			timestamp(e.OutputDeleted),
			seconds(e.Total),
			seconds(e.InputExposure),
			seconds(e.OutputExposure),
			failed,
		})
	}
	return renderTable(
		[]string{"File", "Completed", "Total (s)", "Input exposure (s)", "Output exposure (s)", "Failed files"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
		"Average of "+strconv.Itoa(summary.Count),
		"",
		seconds(summary.AverageTotal),
		seconds(summary.AverageInputExposure),
		seconds(summary.AverageOutputExposure),
		"",
	)
}
