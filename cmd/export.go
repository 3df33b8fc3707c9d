package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cbdata/internal/export"
	"github.com/sells-group/cbdata/internal/model"
	"github.com/sells-group/cbdata/internal/store"
)

var (
	exportDate   string
	exportBond   string
	exportOut    string
	exportLabels bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export one trading day or one bond's history to XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if exportDate != "" && exportBond != "" {
			return eris.New("export: --date and --bond are mutually exclusive")
		}
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		recs, sheet, err := loadExport(ctx, st)
		if err != nil {
			return err
		}

		out := exportOut
		if out == "" {
			out = "cbdata-" + sheet + ".xlsx"
		}
		n, err := export.WriteXLSX(out, recs, export.Options{SheetName: sheet, Labels: exportLabels})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %d rows to %s\n", n, out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportDate, "date", "", "trading date YYYY-MM-DD (default latest)")
	exportCmd.Flags().StringVar(&exportBond, "bond", "", "export the full history of one bond code instead")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (default cbdata-<date|bond>.xlsx)")
	exportCmd.Flags().BoolVar(&exportLabels, "labels", false, "add a row of column descriptions under the header")
	rootCmd.AddCommand(exportCmd)
}

// loadExport reads the rows selected by the export flags and names the sheet.
func loadExport(ctx context.Context, st store.Store) ([]model.BondRecord, string, error) {
	if exportBond != "" {
		recs, err := st.History(ctx, model.StripMarketPrefix(exportBond))
		if err != nil {
			return nil, "", eris.Wrap(err, "export: load history")
		}
		return recs, model.StripMarketPrefix(exportBond), nil
	}

	date := exportDate
	if date == "" {
		latest, err := st.LatestTradeDate(ctx)
		if err != nil {
			return nil, "", eris.Wrap(err, "export: latest trade date")
		}
		if latest == "" {
			return nil, "", eris.New("export: history is empty")
		}
		date = latest
	}
	recs, err := st.SearchBonds(ctx, store.BondQuery{TradeDate: date, SortBy: model.FieldBondCode})
	if err != nil {
		return nil, "", eris.Wrap(err, "export: load trading day")
	}
	return recs, date, nil
}
