package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/maps-scraper/internal/model"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Manage the search term backlog",
}

// -- queue add --

var queueAddCmd = &cobra.Command{
	Use:   "add [terms...]",
	Short: "Enqueue search terms",
	Long:  "Adds terms from the arguments and from --file (one per line, # starts a comment). Terms already queued are ignored.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		terms := append([]string{}, args...)
		if path, _ := cmd.Flags().GetString("file"); path != "" {
			f, err := os.Open(path)
			if err != nil {
				return eris.Wrapf(err, "queue add: open %s", path)
			}
			fromFile, err := readTerms(f)
			f.Close() //nolint:errcheck
			if err != nil {
				return eris.Wrapf(err, "queue add: read %s", path)
			}
			terms = append(terms, fromFile...)
		}
		if len(terms) == 0 {
			return eris.New("queue add: no terms given")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		added, err := st.AddTerms(ctx, terms)
		if err != nil {
			return eris.Wrap(err, "queue add")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %d of %d terms.\n", added, len(terms))
		return nil
	},
}

// -- queue list --

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued search terms",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")

		terms, err := st.ListTerms(ctx, all, limit)
		if err != nil {
			return eris.Wrap(err, "queue list")
		}
		if len(terms) == 0 {
			fmt.Fprintln(os.Stderr, "No search terms queued.")
			return nil
		}

		formatTermsList(cmd.OutOrStdout(), terms)
		return nil
	},
}

// readTerms returns the non-blank, non-comment lines of r.
func readTerms(r io.Reader) ([]string, error) {
	var terms []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	return terms, sc.Err()
}

func formatTermsList(w io.Writer, terms []model.SearchTerm) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TERM\tUSED\tCREATED\tUSED AT")
	for _, t := range terms {
		usedAt := "-"
		if t.UsedAt != nil {
			usedAt = t.UsedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n",
			t.Term,
			t.Used,
			t.CreatedAt.Format("2006-01-02 15:04"),
			usedAt,
		)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	queueAddCmd.Flags().String("file", "", "file with one search term per line")
	queueListCmd.Flags().Bool("all", false, "include terms already used")
	queueListCmd.Flags().Int("limit", 100, "max terms to list")

	queueCmd.AddCommand(queueAddCmd, queueListCmd)
	rootCmd.AddCommand(queueCmd)
}
