package chart

import (
	"strconv"

	"github.com/leapstack-labs/vulndash/pkg/core"
)

// TitleGenerator builds chart titles.
type TitleGenerator interface {
	Title(data *core.Data, filter core.Filter) string
}

// StaticTitle always shows the same label.
type StaticTitle struct {
	Label string
}

func (s StaticTitle) Title(data *core.Data, filter core.Filter) string {
	if data == nil {
		return withFilter(s.Label+" (Loading...)", filter)
	}
	return withFilter(s.Label, filter)
}

// TotalTitle appends the running total of a count field.
type TotalTitle struct {
	Label string
	// CountField defaults to "count".
	CountField string
}

func (s TotalTitle) Title(data *core.Data, filter core.Filter) string {
	if data == nil {
		return withFilter(s.Label+" (Loading...)", filter)
	}
	field := s.CountField
	if field == "" {
		field = "count"
	}
	var total float64
	for _, r := range data.Records {
		if v, ok := r[field].(float64); ok {
			total += v
		}
	}
	return withFilter(s.Label+" (Total: "+strconv.FormatFloat(total, 'f', -1, 64)+")", filter)
}

func withFilter(title string, filter core.Filter) string {
	if filter.Name == "" {
		return title
	}
	return title + " - Filter: " + filter.Name
}

// NewTitle picks a title generator; kind is "total" or "static".
func NewTitle(kind, label, countField string) TitleGenerator {
	if kind == "total" {
		return TotalTitle{Label: label, CountField: countField}
	}
	return StaticTitle{Label: label}
}
