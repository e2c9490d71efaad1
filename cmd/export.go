package main

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/maps-scraper/internal/model"
	"github.com/sells-group/maps-scraper/internal/store"
)

const exportPageSize = 500

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write stored leads to an XLSX spreadsheet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		out, _ := cmd.Flags().GetString("out")
		term, _ := cmd.Flags().GetString("term")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		leads, err := collectLeads(ctx, st, term)
		if err != nil {
			return err
		}
		if err := writeLeadsXLSX(out, leads); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d leads to %s.\n", len(leads), out)
		return nil
	},
}

type leadLister interface {
	ListLeads(ctx context.Context, filter store.LeadFilter) ([]model.Lead, error)
}

// collectLeads pages through every lead, optionally limited to one term.
func collectLeads(ctx context.Context, st leadLister, term string) ([]model.Lead, error) {
	var all []model.Lead
	for offset := 0; ; offset += exportPageSize {
		page, err := st.ListLeads(ctx, store.LeadFilter{SearchTerm: term, Limit: exportPageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "export: list leads")
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			return all, nil
		}
	}
}

var leadHeader = []string{
	"RowNumber", "title", "address", "phone_number", "rating", "category",
	"webpage", "working_hours", "map_link", "cover_image", "search_term", "Used", "created_at",
}

func writeLeadsXLSX(path string, leads []model.Lead) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Leads")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range leadHeader {
		header.AddCell().SetString(h)
	}

	for _, l := range leads {
		row := sheet.AddRow()
		row.AddCell().SetInt64(l.RowNumber)
		for _, v := range []string{
			l.Title, l.Address, l.Phone, l.Rating, l.Category, l.Website,
			l.WorkingHours, l.MapLink, l.CoverImage, l.SearchTerm,
		} {
			row.AddCell().SetString(v)
		}
		row.AddCell().SetBool(l.Used)
		row.AddCell().SetString(l.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "xlsx: save %s", path)
	}
	return nil
}

func init() {
	exportCmd.Flags().String("out", "leads.xlsx", "output spreadsheet path")
	exportCmd.Flags().String("term", "", "only export leads from this search term")
	rootCmd.AddCommand(exportCmd)
}
