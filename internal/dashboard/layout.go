package dashboard

import (
	"strconv"
	"strings"

	"github.com/leapstack-labs/vulndash/internal/config"
)

// Separators of the stored layout strings.
const (
	RowSeparator       = "#"
	ComponentSeparator = "|"
)

// ComponentLayout is the stored selection of one chart box. Empty fields
// mean "no selection".
type ComponentLayout struct {
	Chart  string `json:"chart" yaml:"chart"`
	Filter string `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// RowLayout is one stored row. A zero height means the default height.
type RowLayout struct {
	Height     int               `json:"height" yaml:"height"`
	Components []ComponentLayout `json:"components" yaml:"components"`
}

// Layout is the nested form of a dashboard layout.
type Layout struct {
	Rows []RowLayout `json:"rows" yaml:"rows"`
}

// ParseLayout rebuilds a layout from the three stored strings. The
// controllers string decides the shape; heights and filters that do not
// line up with it are treated as missing.
func ParseLayout(controllers, heights, filters string) Layout {
	var l Layout
	if controllers == "" {
		return l
	}

	heightRows := split(heights, RowSeparator)
	filterRows := split(filters, RowSeparator)

	for i, row := range strings.Split(controllers, RowSeparator) {
		var rl RowLayout
		if i < len(heightRows) {
			if h, err := strconv.Atoi(strings.TrimSpace(heightRows[i])); err == nil && h > 0 {
				rl.Height = h
			}
		}

		var rowFilters []string
		if i < len(filterRows) {
			rowFilters = split(filterRows[i], ComponentSeparator)
		}

		for j, name := range strings.Split(row, ComponentSeparator) {
			c := ComponentLayout{Chart: name}
			if j < len(rowFilters) {
				c.Filter = rowFilters[j]
			}
			rl.Components = append(rl.Components, c)
		}
		l.Rows = append(l.Rows, rl)
	}
	return l
}

// Strings serializes the layout into the controllers, heights and filters
// strings.
func (l Layout) Strings() (controllers, heights, filters string) {
	cRows := make([]string, len(l.Rows))
	hRows := make([]string, len(l.Rows))
	fRows := make([]string, len(l.Rows))

	for i, row := range l.Rows {
		charts := make([]string, len(row.Components))
		rowFilters := make([]string, len(row.Components))
		for j, c := range row.Components {
			charts[j] = c.Chart
			rowFilters[j] = c.Filter
		}
		cRows[i] = strings.Join(charts, ComponentSeparator)
		fRows[i] = strings.Join(rowFilters, ComponentSeparator)
		hRows[i] = strconv.Itoa(row.Height)
	}

	return strings.Join(cRows, RowSeparator),
		strings.Join(hRows, RowSeparator),
		strings.Join(fRows, RowSeparator)
}

// Count returns the number of components.
func (l Layout) Count() int {
	n := 0
	for _, r := range l.Rows {
		n += len(r.Components)
	}
	return n
}

// FromConfig converts a configured default layout.
func FromConfig(rows []config.RowConfig) Layout {
	var l Layout
	for _, r := range rows {
		rl := RowLayout{Height: r.Height}
		for _, c := range r.Components {
			rl.Components = append(rl.Components, ComponentLayout{Chart: c.Chart, Filter: c.Filter})
		}
		l.Rows = append(l.Rows, rl)
	}
	return l
}

func split(s, sep string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}
