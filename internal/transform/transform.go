// Package transform provides pure functions reshaping chart data for a
// target chart semantic. Transforms never mutate their input.
package transform

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/vulndash/pkg/core"
)

// Func maps one data triple to a new one.
type Func func(data *core.Data, params core.GenParams) (*core.Data, error)

// Registered transform names.
const (
	NameIdentity            = "identity"
	NameSeverityHistogram   = "severity_histogram"
	NameSeverityLevelCounts = "severity_level_counts"
	NameResourceTypeCounts  = "resource_type_counts"
	NameQoDTypeCounts       = "qod_type_counts"
	NamePercentageCounts    = "percentage_counts"
	NameFillEmptyFields     = "fill_empty_fields"
)

// Identity returns a copy of its input.
func Identity(data *core.Data, _ core.GenParams) (*core.Data, error) {
	return data.Clone(), nil
}

// Chain applies transforms left to right.
func Chain(funcs ...Func) Func {
	return func(data *core.Data, params core.GenParams) (*core.Data, error) {
		out := data
		for _, f := range funcs {
			next, err := f(out, params)
			if err != nil {
				return nil, err
			}
			out = next
		}
		if len(funcs) == 0 {
			return data.Clone(), nil
		}
		return out, nil
	}
}

// Registry resolves transforms by name. Names may be chained with "+",
// e.g. "severity_histogram+fill_empty_fields".
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns a registry holding all built-in transforms, with
// severity levels bound to the given thresholds.
func NewRegistry(levels SeverityLevels) *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	r.Register(NameIdentity, Identity)
	r.Register(NameSeverityHistogram, SeverityHistogram)
	r.Register(NameSeverityLevelCounts, SeverityLevelCounts(levels))
	r.Register(NameResourceTypeCounts, ResourceTypeCounts)
	r.Register(NameQoDTypeCounts, QoDTypeCounts)
	r.Register(NamePercentageCounts, PercentageCounts)
	r.Register(NameFillEmptyFields, FillEmptyFields)
	return r
}

// Register adds or replaces a named transform.
func (r *Registry) Register(name string, f Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = f
}

// Get resolves a name or a "+"-separated chain. The empty name is Identity.
func (r *Registry) Get(name string) (Func, error) {
	if name == "" {
		return Identity, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	parts := strings.Split(name, "+")
	funcs := make([]Func, 0, len(parts))
	for _, p := range parts {
		f, ok := r.funcs[strings.TrimSpace(p)]
		if !ok {
			return nil, fmt.Errorf("unknown transform %q", p)
		}
		funcs = append(funcs, f)
	}
	if len(funcs) == 1 {
		return funcs[0], nil
	}
	return Chain(funcs...), nil
}

// Names lists registered transform names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// targetField is the field a renaming transform operates on.
func targetField(params core.GenParams) string {
	if f := params.Extra["field"]; f != "" {
		return f
	}
	if params.XField != "" {
		return params.XField
	}
	return "value"
}

func countField(params core.GenParams) string {
	if f := params.Extra["count_field"]; f != "" {
		return f
	}
	return "count"
}

func isAscending(params core.GenParams) bool {
	v, _ := strconv.ParseBool(params.Extra["ascending"])
	return v
}

// toFloat converts a record value to a number. ok is false for empty,
// "N/A" and non-numeric values.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		if x == "" || x == "N/A" {
			return 0, false
		}
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// isEmpty reports whether a value counts as missing. Numbers, including
// zero, are never missing.
func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case time.Time:
		return x.IsZero()
	default:
		return false
	}
}

func setColumn(ci *core.ColumnInfo, name, dataType string) {
	if col, ok := ci.Columns[name]; ok {
		col.DataType = dataType
		return
	}
	ci.Columns[name] = &core.Column{Name: name, Stat: "value", DataType: dataType}
}
