// Package export writes stored bond rows to spreadsheet files.
package export

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"github.com/tidwall/gjson"

	"github.com/sells-group/cbdata/internal/model"
)

// Options controls the sheet layout.
type Options struct {
	SheetName string   // default "bonds"
	Columns   []string // canonical fields; default model.HistoryFields
	Labels    bool     // write the field description row under the header
}

// WriteXLSX writes records to a single-sheet workbook at path, one row per
// record in the given order. Null values are left as empty cells.
func WriteXLSX(path string, records []model.BondRecord, opts Options) (int, error) {
	if opts.SheetName == "" {
		opts.SheetName = "bonds"
	}
	cols := opts.Columns
	if len(cols) == 0 {
		cols = model.HistoryFields
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(opts.SheetName)
	if err != nil {
		return 0, eris.Wrapf(err, "export: add sheet %q", opts.SheetName)
	}

	header := sheet.AddRow()
	for _, c := range cols {
		header.AddCell().SetString(c)
	}
	if opts.Labels {
		labels := sheet.AddRow()
		for _, c := range cols {
			labels.AddCell().SetString(model.FieldDescriptions[c])
		}
	}

	for _, rec := range records {
		b, err := json.Marshal(rec)
		if err != nil {
			return 0, eris.Wrapf(err, "export: encode %s", rec.BondCode)
		}
		row := sheet.AddRow()
		for _, c := range cols {
			cell := row.AddCell()
			v := gjson.GetBytes(b, c)
			switch v.Type {
			case gjson.Number:
				cell.SetFloat(v.Float())
			case gjson.String:
				cell.SetString(v.String())
			}
		}
	}

	if err := f.Save(path); err != nil {
		return 0, eris.Wrapf(err, "export: save %s", path)
	}
	return len(records), nil
}
