package extract

import (
	"sort"

	"github.com/leapstack-labs/vulndash/pkg/core"
)

// schedulePrefix prefixes fields flattened from a task's schedule element.
const schedulePrefix = "schedule_"

// Tasks parses a get_tasks response. Each task becomes one record; leaf
// children of the task and of its schedule are flattened into fields.
func Tasks(raw []byte) (*core.Data, error) {
	root, err := parseRoot(raw)
	if err != nil {
		return nil, err
	}

	ci := core.NewColumnInfo()
	var records []core.Record

	for _, task := range root.children("task") {
		record := core.Record{"id": task.attr("id")}

		for i := range task.Children {
			c := &task.Children[i]
			switch {
			case c.XMLName.Local == "schedule":
				record[schedulePrefix+"id"] = c.attr("id")
				for j := range c.Children {
					sc := &c.Children[j]
					if sc.isLeaf() {
						record[schedulePrefix+sc.XMLName.Local] = Coerce(sc.Text)
					}
				}
			case c.isLeaf():
				record[c.XMLName.Local] = Coerce(c.Text)
			}
		}

		for field, v := range record {
			if _, ok := ci.Columns[field]; ok {
				continue
			}
			ci.Columns[field] = &core.Column{
				Name:     field,
				Type:     "task",
				Column:   field,
				Stat:     "value",
				DataType: dataTypeOf(v),
			}
		}
		records = append(records, record)
	}

	for name := range ci.Columns {
		ci.DataColumns = append(ci.DataColumns, name)
	}
	sort.Strings(ci.DataColumns)

	return &core.Data{
		Records:    records,
		ColumnInfo: ci,
		FilterInfo: parseFilterInfo(root.child("filters")),
	}, nil
}
