package extract

import (
	"strings"

	"github.com/leapstack-labs/vulndash/pkg/core"
)

// extraOptionColumns are filter keywords that control paging, sorting and
// result post-processing rather than which results match.
var extraOptionColumns = map[string]struct{}{
	"first":           {},
	"rows":            {},
	"sort":            {},
	"sort-reverse":    {},
	"apply_overrides": {},
	"overrides":       {},
	"autofp":          {},
	"timezone":        {},
	"min_qod":         {},
	"levels":          {},
	"delta_states":    {},
}

// IsExtraOption reports whether a keyword column is a reserved option.
func IsExtraOption(column string) bool {
	_, ok := extraOptionColumns[strings.ToLower(column)]
	return ok
}

// SplitKeywords separates content criteria from extra options.
func SplitKeywords(kws []core.Keyword) (criteria, extra []core.Keyword) {
	for _, kw := range kws {
		if kw.Column != "" && IsExtraOption(kw.Column) {
			extra = append(extra, kw)
			continue
		}
		criteria = append(criteria, kw)
	}
	return criteria, extra
}

// NewFilterInfo builds a FilterInfo from its keywords.
func NewFilterInfo(id, term, name string, kws []core.Keyword) *core.FilterInfo {
	criteria, extra := SplitKeywords(kws)
	return &core.FilterInfo{
		ID:              id,
		Term:            term,
		Name:            name,
		Keywords:        kws,
		Criteria:        criteria,
		ExtraOptions:    extra,
		CriteriaStr:     core.JoinKeywords(criteria),
		ExtraOptionsStr: core.JoinKeywords(extra),
	}
}

func parseFilterInfo(n *node) *core.FilterInfo {
	if n == nil {
		return NewFilterInfo("", "", "", nil)
	}

	var kws []core.Keyword
	if list := n.child("keywords"); list != nil {
		for _, k := range list.children("keyword") {
			kws = append(kws, core.Keyword{
				Column:   k.childText("column"),
				Relation: k.childText("relation"),
				Value:    k.childText("value"),
			})
		}
	}
	return NewFilterInfo(n.attr("id"), n.childText("term"), n.childText("name"), kws)
}
