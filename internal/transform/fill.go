package transform

import (
	"sort"

	"github.com/leapstack-labs/vulndash/pkg/core"
)

var numericTypes = map[string]struct{}{
	"integer":  {},
	"decimal":  {},
	"float":    {},
	"cvss":     {},
	"severity": {},
	"count":    {},
	"qod":      {},
}

var timeTypes = map[string]struct{}{
	"iso_time":  {},
	"unix_time": {},
	"date":      {},
	"time":      {},
}

// EmptyValue returns the placeholder for a missing value of a column type.
func EmptyValue(dataType string) any {
	if _, ok := numericTypes[dataType]; ok {
		return 0.0
	}
	if _, ok := timeTypes[dataType]; ok {
		return core.Epoch
	}
	return "N/A"
}

// FillEmptyFields replaces missing x, y and z field values with a
// type-appropriate placeholder. Records whose x field was empty are moved
// to the end, keeping the relative order otherwise.
func FillEmptyFields(data *core.Data, params core.GenParams) (*core.Data, error) {
	out := data.Clone()
	fields := params.Fields()

	for _, f := range fields {
		if _, ok := out.ColumnInfo.Resolve(f); !ok {
			out.ColumnInfo.Columns[f] = &core.Column{Name: f, Stat: "value", DataType: "text"}
		}
	}

	emptyX := make(map[int]bool)
	for i, r := range out.Records {
		for _, f := range fields {
			if !isEmpty(r[f]) {
				continue
			}
			col := out.ColumnInfo.Columns[f]
			r[f] = EmptyValue(col.DataType)
			if f == params.XField {
				emptyX[i] = true
			}
		}
	}

	if len(emptyX) > 0 {
		idx := make([]int, len(out.Records))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return !emptyX[idx[a]] && emptyX[idx[b]]
		})
		sorted := make([]core.Record, len(idx))
		for i, j := range idx {
			sorted[i] = out.Records[j]
		}
		out.Records = sorted
	}

	return out, nil
}
