package export

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/cbdata/internal/model"
)

func ptr(v float64) *float64 { return &v }

func readSheet(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)
	var out [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for i, c := range row.Cells {
			cells[i] = c.String()
		}
		out = append(out, cells)
	}
	return out
}

func TestWriteXLSX_Columns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	recs := []model.BondRecord{
		{TradeDate: "2024-01-05", BondCode: "113001", BondName: "Alpha", Price: ptr(120.5)},
		{TradeDate: "2024-01-05", BondCode: "123002", BondName: "Beta"},
	}

	n, err := WriteXLSX(path, recs, Options{
		Columns: []string{model.FieldBondCode, model.FieldPrice, model.FieldBondName},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows := readSheet(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"bond_code", "price", "bond_name"}, rows[0])
	assert.Equal(t, []string{"113001", "120.5", "Alpha"}, rows[1])
	require.Len(t, rows[2], 3)
	assert.Equal(t, []string{"123002", "", "Beta"}, rows[2])
}

func TestWriteXLSX_DefaultsAndLabels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	_, err := WriteXLSX(path, nil, Options{SheetName: "2024-01-05", Labels: true})
	require.NoError(t, err)

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	_, ok := f.Sheet["2024-01-05"]
	assert.True(t, ok)

	rows := readSheet(t, path)
	require.Len(t, rows, 2)
	assert.Len(t, rows[0], len(model.HistoryFields))
	assert.Equal(t, model.FieldTradeDate, rows[0][0])
	assert.Equal(t, model.FieldDescriptions[model.FieldTradeDate], rows[1][0])
}

func TestWriteXLSX_BadPath(t *testing.T) {
	_, err := WriteXLSX(filepath.Join(t.TempDir(), "missing", "out.xlsx"), nil, Options{})
	assert.Error(t, err)
}
