package core

import (
	"maps"
	"slices"
	"strings"
	"time"
)

// OriginalSuffix marks a record field holding the pre-transform value of
// another field, e.g. "value~original".
const OriginalSuffix = "~original"

// Record maps field names to typed values: float64, time.Time or string.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	return maps.Clone(r)
}

// Column describes one field of a result set.
type Column struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Column        string `json:"column"`
	Stat          string `json:"stat"`
	DataType      string `json:"data_type"`
	SubgroupValue string `json:"subgroup_value,omitempty"`
}

// ColumnInfo describes the shape of a result set.
type ColumnInfo struct {
	GroupColumns    []string           `json:"group_columns"`
	SubgroupColumns []string           `json:"subgroup_columns"`
	DataColumns     []string           `json:"data_columns"`
	TextColumns     []string           `json:"text_columns"`
	Columns         map[string]*Column `json:"columns"`
}

// NewColumnInfo returns an empty ColumnInfo.
func NewColumnInfo() *ColumnInfo {
	return &ColumnInfo{Columns: make(map[string]*Column)}
}

// Clone returns a copy whose column map and slices can be modified freely.
func (ci *ColumnInfo) Clone() *ColumnInfo {
	if ci == nil {
		return NewColumnInfo()
	}
	out := &ColumnInfo{
		GroupColumns:    slices.Clone(ci.GroupColumns),
		SubgroupColumns: slices.Clone(ci.SubgroupColumns),
		DataColumns:     slices.Clone(ci.DataColumns),
		TextColumns:     slices.Clone(ci.TextColumns),
		Columns:         make(map[string]*Column, len(ci.Columns)),
	}
	for name, col := range ci.Columns {
		c := *col
		out.Columns[name] = &c
	}
	return out
}

// Get returns the column entry for name, if any.
func (ci *ColumnInfo) Get(name string) (*Column, bool) {
	if ci == nil {
		return nil, false
	}
	col, ok := ci.Columns[name]
	return col, ok
}

// Resolve returns the entry for name. A missing "base[value]" entry is
// synthesized from its subgroup base column and added to the map.
func (ci *ColumnInfo) Resolve(name string) (*Column, bool) {
	if col, ok := ci.Get(name); ok {
		return col, true
	}
	base, sub, ok := SplitSubgroupField(name)
	if !ok {
		return nil, false
	}
	baseCol, ok := ci.Get(base)
	if !ok {
		return nil, false
	}
	col := *baseCol
	col.Name = name
	col.SubgroupValue = sub
	ci.Columns[name] = &col
	return &col, true
}

// SubgroupField returns the synthetic field name "base[value]".
func SubgroupField(base, value string) string {
	return base + "[" + value + "]"
}

// SplitSubgroupField splits "base[value]" into its parts.
func SplitSubgroupField(name string) (base, value string, ok bool) {
	if !strings.HasSuffix(name, "]") {
		return "", "", false
	}
	i := strings.LastIndexByte(name, '[')
	if i <= 0 {
		return "", "", false
	}
	return name[:i], name[i+1 : len(name)-1], true
}

// Data is the generic triple passed between extraction, transforms and
// chart generators.
type Data struct {
	Records    []Record    `json:"records"`
	ColumnInfo *ColumnInfo `json:"column_info"`
	FilterInfo *FilterInfo `json:"filter_info,omitempty"`
}

// Clone copies the records and column info. FilterInfo is shared since no
// stage modifies it.
func (d *Data) Clone() *Data {
	if d == nil {
		return &Data{ColumnInfo: NewColumnInfo()}
	}
	records := make([]Record, len(d.Records))
	for i, r := range d.Records {
		records[i] = r.Clone()
	}
	return &Data{
		Records:    records,
		ColumnInfo: d.ColumnInfo.Clone(),
		FilterInfo: d.FilterInfo,
	}
}

// GenParams are per-controller generation parameters.
type GenParams struct {
	XField        string            `json:"x_field,omitempty" koanf:"x_field"`
	YFields       []string          `json:"y_fields,omitempty" koanf:"y_fields"`
	ZFields       []string          `json:"z_fields,omitempty" koanf:"z_fields"`
	ChartTemplate string            `json:"chart_template,omitempty" koanf:"chart_template"`
	Extra         map[string]string `json:"extra,omitempty" koanf:"extra"`
}

// Clone returns a deep copy of the parameters.
func (p GenParams) Clone() GenParams {
	return GenParams{
		XField:        p.XField,
		YFields:       slices.Clone(p.YFields),
		ZFields:       slices.Clone(p.ZFields),
		ChartTemplate: p.ChartTemplate,
		Extra:         maps.Clone(p.Extra),
	}
}

// Fields returns x, y and z fields in that order, skipping empty names.
func (p GenParams) Fields() []string {
	var out []string
	if p.XField != "" {
		out = append(out, p.XField)
	}
	for _, f := range p.YFields {
		if f != "" {
			out = append(out, f)
		}
	}
	for _, f := range p.ZFields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Epoch is the zero time used for empty time fields.
var Epoch = time.Unix(0, 0).UTC()
