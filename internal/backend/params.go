package backend

import (
	"net/url"
	"strconv"

	"github.com/leapstack-labs/vulndash/pkg/core"
)

// Backend commands.
const (
	CmdAggregate = "get_aggregate"
	CmdTasks     = "get_tasks"
)

// SortSpec orders aggregate groups by one field.
type SortSpec struct {
	Field string `koanf:"field" json:"field"`
	Order string `koanf:"order" json:"order"`
	Stat  string `koanf:"stat" json:"stat"`
}

// AggregateParams is the fixed parameter bag of an aggregate query.
type AggregateParams struct {
	AggregateType  string     `koanf:"aggregate_type" json:"aggregate_type"`
	DataColumn     string     `koanf:"data_column" json:"data_column,omitempty"`
	GroupColumn    string     `koanf:"group_column" json:"group_column,omitempty"`
	SubgroupColumn string     `koanf:"subgroup_column" json:"subgroup_column,omitempty"`
	DataColumns    []string   `koanf:"data_columns" json:"data_columns,omitempty"`
	TextColumns    []string   `koanf:"text_columns" json:"text_columns,omitempty"`
	Sort           []SortSpec `koanf:"sort" json:"sort,omitempty"`
	FirstGroup     int        `koanf:"first_group" json:"first_group,omitempty"`
	MaxGroups      int        `koanf:"max_groups" json:"max_groups,omitempty"`
}

// Values encodes the parameters the way the backend expects them:
// list entries become indexed keys such as "data_columns:0".
func (p AggregateParams) Values() url.Values {
	v := url.Values{}
	setIf(v, "aggregate_type", p.AggregateType)
	setIf(v, "data_column", p.DataColumn)
	setIf(v, "group_column", p.GroupColumn)
	setIf(v, "subgroup_column", p.SubgroupColumn)
	for i, c := range p.DataColumns {
		v.Set("data_columns:"+strconv.Itoa(i), c)
	}
	for i, c := range p.TextColumns {
		v.Set("text_columns:"+strconv.Itoa(i), c)
	}
	for i, s := range p.Sort {
		idx := strconv.Itoa(i)
		setIf(v, "sort_fields:"+idx, s.Field)
		setIf(v, "sort_orders:"+idx, s.Order)
		setIf(v, "sort_stats:"+idx, s.Stat)
	}
	if p.FirstGroup > 0 {
		v.Set("first_group", strconv.Itoa(p.FirstGroup))
	}
	if p.MaxGroups > 0 {
		v.Set("max_groups", strconv.Itoa(p.MaxGroups))
	}
	return v
}

// WithFilter returns a copy of params carrying the filter selection.
func WithFilter(params url.Values, f core.Filter) url.Values {
	out := make(url.Values, len(params)+2)
	for k, vs := range params {
		out[k] = append([]string(nil), vs...)
	}
	if f.ID != "" {
		out.Set("filt_id", f.ID)
	}
	if f.Term != "" {
		out.Set("filter", f.Term)
	}
	return out
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}
