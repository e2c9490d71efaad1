package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/maps-scraper/internal/browser"
	"github.com/sells-group/maps-scraper/internal/model"
	"github.com/sells-group/maps-scraper/internal/scrape"
)

const snapshotURL = "https://www.google.com/maps/place/snapshot"

var extractCmd = &cobra.Command{
	Use:   "extract <snapshot.html>",
	Short: "Run the listing extractor on a saved detail page",
	Long:  "Parses a saved HTML snapshot of a listing detail page and prints the extracted record as JSON. Useful for checking selector overrides.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		html, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "extract: read %s", args[0])
		}

		sel, err := scrape.LoadSelectors(cfg.Scrape.SelectorsFile)
		if err != nil {
			return err
		}

		pageURL, _ := cmd.Flags().GetString("url")
		return extractSnapshot(cmd.Context(), cmd.OutOrStdout(), sel, pageURL, string(html))
	},
}

type extractOutput struct {
	Status   scrape.ExtractStatus `json:"status"`
	Business *model.Business      `json:"business,omitempty"`
	Error    string               `json:"error,omitempty"`
}

func extractSnapshot(ctx context.Context, w io.Writer, sel scrape.Selectors, pageURL, html string) error {
	if pageURL == "" {
		pageURL = snapshotURL
	}
	page := browser.NewStaticPage().Add(pageURL, html)
	if err := page.Navigate(ctx, pageURL, 0); err != nil {
		return eris.Wrap(err, "extract: load snapshot")
	}

	res := scrape.NewExtractor(sel).Extract(ctx, page)
	out := extractOutput{Status: res.Status, Business: res.Business}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(out), "extract: write output")
}

func init() {
	extractCmd.Flags().String("url", snapshotURL, "page URL the snapshot was taken from (used as map_link)")
	rootCmd.AddCommand(extractCmd)
}
