package extract

import (
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// Key columns of an aggregate result; they get no subgroup variants.
const (
	FieldValue         = "value"
	FieldSubgroupValue = "subgroup_value"
	FieldCount         = "count"
	FieldCCount        = "c_count"
)

// Aggregate parses a get_aggregate response.
func Aggregate(raw []byte) (*core.Data, error) {
	root, err := parseRoot(raw)
	if err != nil {
		return nil, err
	}

	agg := root.child("aggregate")
	if agg == nil {
		return &core.Data{
			ColumnInfo: core.NewColumnInfo(),
			FilterInfo: parseFilterInfo(root.child("filters")),
		}, nil
	}

	var records []core.Record
	for _, group := range agg.children("group") {
		record := core.Record{}
		readGroupFields(group, record, "")
		records = append(records, record)
	}

	return &core.Data{
		Records:    records,
		ColumnInfo: aggregateColumnInfo(agg),
		FilterInfo: parseFilterInfo(root.child("filters")),
	}, nil
}

// readGroupFields copies simple fields, stats and texts of a group or
// subgroup element into record. Subgroup fields get a "[value]" suffix.
func readGroupFields(n *node, record core.Record, subgroup string) {
	name := func(field string) string {
		if subgroup == "" {
			return field
		}
		return core.SubgroupField(field, subgroup)
	}

	for i := range n.Children {
		c := &n.Children[i]
		switch c.XMLName.Local {
		case "stats":
			column := c.attr("column")
			for j := range c.Children {
				stat := &c.Children[j]
				record[name(column+"_"+stat.XMLName.Local)] = Coerce(stat.Text)
			}
		case "text":
			record[name(c.attr("column"))] = Coerce(c.Text)
		case "subgroup":
			readGroupFields(c, record, c.childText(FieldValue))
		case FieldValue:
			if subgroup == "" {
				record[FieldValue] = Coerce(c.Text)
			}
		default:
			if c.isLeaf() {
				record[name(c.XMLName.Local)] = Coerce(c.Text)
			}
		}
	}
}

func aggregateColumnInfo(agg *node) *core.ColumnInfo {
	ci := core.NewColumnInfo()

	if g := agg.childText("group_column"); g != "" {
		ci.GroupColumns = append(ci.GroupColumns, g)
	}
	if s := agg.childText("subgroup_column"); s != "" {
		ci.SubgroupColumns = append(ci.SubgroupColumns, s)
	}
	for _, d := range agg.children("data_column") {
		ci.DataColumns = append(ci.DataColumns, trim(d.Text))
	}
	for _, t := range agg.children("text_column") {
		ci.TextColumns = append(ci.TextColumns, trim(t.Text))
	}

	if info := agg.child("column_info"); info != nil {
		for _, ac := range info.children("aggregate_column") {
			col := &core.Column{
				Name:     ac.childText("name"),
				Stat:     ac.childText("stat"),
				Type:     ac.childText("type"),
				Column:   ac.childText("column"),
				DataType: ac.childText("data_type"),
			}
			if col.Name != "" {
				ci.Columns[col.Name] = col
			}
		}
	}

	var subgroupValues []string
	if sgs := agg.child("subgroups"); sgs != nil {
		for _, v := range sgs.children(FieldValue) {
			subgroupValues = append(subgroupValues, trim(v.Text))
		}
	}
	if len(subgroupValues) == 0 {
		return ci
	}

	base := make([]*core.Column, 0, len(ci.Columns))
	for name, col := range ci.Columns {
		if name == FieldValue || name == FieldSubgroupValue {
			continue
		}
		base = append(base, col)
	}
	for _, col := range base {
		for _, sv := range subgroupValues {
			variant := *col
			variant.Name = core.SubgroupField(col.Name, sv)
			variant.SubgroupValue = sv
			ci.Columns[variant.Name] = &variant
		}
	}
	return ci
}
