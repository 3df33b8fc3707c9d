package provider

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/sells-group/cbdata/internal/model"
)

// objectsTable converts a JSON array of objects into a raw table. Columns
// are the union of object keys in first-seen order.
func objectsTable(arr gjson.Result) *model.Raw {
	raw := &model.Raw{}
	index := make(map[string]int)
	var objs []gjson.Result
	arr.ForEach(func(_, obj gjson.Result) bool {
		if !obj.IsObject() {
			return true
		}
		obj.ForEach(func(k, _ gjson.Result) bool {
			if _, ok := index[k.String()]; !ok {
				index[k.String()] = len(raw.Columns)
				raw.Columns = append(raw.Columns, k.String())
			}
			return true
		})
		objs = append(objs, obj)
		return true
	})
	for _, obj := range objs {
		row := make([]any, len(raw.Columns))
		obj.ForEach(func(k, v gjson.Result) bool {
			row[index[k.String()]] = cellValue(v)
			return true
		})
		raw.Rows = append(raw.Rows, row)
	}
	return raw
}

// arraysTable converts a JSON array of arrays into a raw table with the
// given column names. Extra cells are ignored; short rows pad with nil.
func arraysTable(arr gjson.Result, columns []string) *model.Raw {
	raw := &model.Raw{Columns: columns}
	arr.ForEach(func(_, cells gjson.Result) bool {
		if !cells.IsArray() {
			return true
		}
		row := make([]any, len(columns))
		vals := cells.Array()
		for i := range columns {
			if i < len(vals) {
				row[i] = cellValue(vals[i])
			}
		}
		raw.Rows = append(raw.Rows, row)
		return true
	})
	return raw
}

// csvTable splits comma-joined lines (eastmoney kline format) into a raw
// table with the given column names.
func csvTable(lines gjson.Result, columns []string) *model.Raw {
	raw := &model.Raw{Columns: columns}
	lines.ForEach(func(_, line gjson.Result) bool {
		parts := strings.Split(line.String(), ",")
		row := make([]any, len(columns))
		for i := range columns {
			if i < len(parts) {
				row[i] = parts[i]
			}
		}
		raw.Rows = append(raw.Rows, row)
		return true
	})
	return raw
}

func cellValue(v gjson.Result) any {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.Number:
		return v.Float()
	case gjson.String:
		return v.String()
	case gjson.True, gjson.False:
		return v.Bool()
	default:
		return v.Raw
	}
}
