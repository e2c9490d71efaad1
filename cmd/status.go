package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/maps-scraper/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-key>",
	Short: "Show a run's progress row and recent events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runKey := args[0]

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := st.GetProgress(ctx, runKey)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if p == nil {
			fmt.Fprintf(os.Stderr, "No progress recorded for run %s.\n", runKey)
			return nil
		}

		limit, _ := cmd.Flags().GetInt("events")
		events, err := st.ListEvents(ctx, runKey, limit)
		if err != nil {
			return eris.Wrap(err, "status: events")
		}

		out := cmd.OutOrStdout()
		formatProgress(out, p)
		if len(events) > 0 {
			fmt.Fprintln(out)
			formatEvents(out, events)
		}
		return nil
	},
}

func formatProgress(w io.Writer, p *model.Progress) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", p.RunKey)
	if p.ExternalRunID != "" {
		fmt.Fprintf(tw, "External ID:\t%s\n", p.ExternalRunID)
	}
	fmt.Fprintf(tw, "Status:\t%s\n", p.Status)
	fmt.Fprintf(tw, "Action:\t%s\n", p.CurrentAction)
	if p.CurrentSearch != "" {
		fmt.Fprintf(tw, "Search:\t%s (%d/%d)\n", p.CurrentSearch, p.CurrentSearchIndex, p.TotalSearches)
	}
	fmt.Fprintf(tw, "Searches:\t%d processed, %d loaded, %d blocked, %d errors, %d marked used\n",
		p.SearchesProcessed, p.SearchesLoadedOK, p.SearchesBlocked, p.SearchesErrors, p.SearchesMarkedUsed)
	fmt.Fprintf(tw, "Businesses:\t%d extracted, %d inserted, %d duplicates, %d failed\n",
		p.BusinessesExtracted, p.BusinessesInserted, p.BusinessesDuplicates, p.BusinessesFailed)
	fmt.Fprintf(tw, "Started:\t%s\n", p.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(tw, "Updated:\t%s\n", p.UpdatedAt.Format("2006-01-02 15:04:05"))
	if p.CompletedAt != nil {
		fmt.Fprintf(tw, "Completed:\t%s\n", p.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if p.ErrorMessage != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", p.ErrorMessage)
	}
	tw.Flush() //nolint:errcheck
}

func formatEvents(w io.Writer, events []model.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tLEVEL\tEVENT\tSEARCH\tMESSAGE")
	for _, e := range events {
		search := e.Search
		if search == "" {
			search = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format("15:04:05"),
			e.Level,
			e.Type,
			truncate(search, 40),
			truncate(e.Message, 80),
		)
	}
	tw.Flush() //nolint:errcheck
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	statusCmd.Flags().Int("events", 20, "number of recent events to show")
	rootCmd.AddCommand(statusCmd)
}
