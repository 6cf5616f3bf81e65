package core

import (
	"strconv"
	"strings"
	"time"
)

// Filter identifies one variant of a backend query.
type Filter struct {
	ID   string `json:"id" koanf:"id"`
	Term string `json:"term" koanf:"term"`
	Name string `json:"name" koanf:"name"`
}

// Key returns the cache and deduplication key of the filter.
// Saved filters are keyed by ID, ad-hoc filters by their term.
// The empty key means "no filter".
func (f Filter) Key() string {
	if f.ID != "" {
		return f.ID
	}
	return f.Term
}

// IsZero reports whether no filter is selected.
func (f Filter) IsZero() bool {
	return f.ID == "" && f.Term == ""
}

// Keyword is one token of a filter term.
// A bare search term or boolean connector has an empty Column.
type Keyword struct {
	Column   string `json:"column,omitempty"`
	Relation string `json:"relation,omitempty"`
	Value    string `json:"value"`
}

// String renders the keyword the way it appears in a filter term.
func (k Keyword) String() string {
	if k.Column == "" {
		if k.Relation != "" && k.Relation != "=" {
			return k.Relation + k.Value
		}
		return k.Value
	}
	return k.Column + k.Relation + k.Value
}

// IsConnector reports whether the keyword is a boolean connector.
func (k Keyword) IsConnector() bool {
	if k.Column != "" {
		return false
	}
	switch strings.ToLower(k.Value) {
	case "and", "or", "not":
		return true
	}
	return false
}

// FilterInfo is the decomposed filter state returned with a response.
type FilterInfo struct {
	ID       string    `json:"id,omitempty"`
	Term     string    `json:"term"`
	Name     string    `json:"name,omitempty"`
	Keywords []Keyword `json:"keywords,omitempty"`

	// Criteria are content keywords, ExtraOptions paging/sort/override keywords.
	Criteria        []Keyword `json:"criteria,omitempty"`
	ExtraOptions    []Keyword `json:"extra_options,omitempty"`
	CriteriaStr     string    `json:"criteria_str"`
	ExtraOptionsStr string    `json:"extra_options_str"`
}

// AddCriterion returns a filter term that narrows the current criteria by
// one more constraint while keeping all extra options unchanged.
func (fi *FilterInfo) AddCriterion(criterion string) string {
	if fi == nil {
		return criterion
	}

	var b strings.Builder
	switch {
	case fi.CriteriaStr == "":
		b.WriteString(criterion)
	case len(fi.Criteria) > 1:
		b.WriteString("(" + fi.CriteriaStr + ") and " + criterion)
	default:
		b.WriteString(fi.CriteriaStr + " and " + criterion)
	}

	if fi.ExtraOptionsStr != "" {
		b.WriteString(" " + fi.ExtraOptionsStr)
	}
	return b.String()
}

// DataTypeCriterion marks a "~original" column whose values are complete
// filter criteria instead of raw values.
const DataTypeCriterion = "criterion"

// Criterion returns the filter criterion selecting record r by field. A
// "field~original" value takes precedence over the displayed value; the
// column name comes from the column info when it names one.
func (ci *ColumnInfo) Criterion(r Record, field string) (string, bool) {
	original := field + OriginalSuffix
	if col, ok := ci.Get(original); ok && col.DataType == DataTypeCriterion {
		s, _ := r[original].(string)
		return s, s != ""
	}

	raw, ok := r[original]
	if !ok {
		raw = r[field]
	}
	value := criterionValue(raw)
	if value == "" {
		return "", false
	}

	column := field
	if col, ok := ci.Get(field); ok && col.Column != "" {
		column = col.Column
	}
	return column + "=" + value, true
}

func criterionValue(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		s = x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return ""
	}
	if strings.ContainsAny(s, " \t\"()") {
		return strconv.Quote(s)
	}
	return s
}

// JoinKeywords renders keywords separated by single spaces.
func JoinKeywords(kws []Keyword) string {
	parts := make([]string, 0, len(kws))
	for _, kw := range kws {
		parts = append(parts, kw.String())
	}
	return strings.Join(parts, " ")
}
