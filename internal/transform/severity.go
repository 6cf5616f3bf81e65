package transform

import (
	"math"
	"strconv"

	"github.com/leapstack-labs/vulndash/pkg/core"
)

// HistogramLabels are the fixed bins of the severity histogram.
var HistogramLabels = []string{"N/A", "0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}

// HistogramBin returns the bin index of a severity value. Empty and
// negative values fall into "N/A", values of 10 and above into "10".
func HistogramBin(v any) int {
	f, ok := toFloat(v)
	switch {
	case !ok || f < 0:
		return 0
	case f == 0:
		return 1
	case f >= 10:
		return 11
	default:
		return int(math.Ceil(f)) + 1
	}
}

// HistogramCriterion returns the filter criterion selecting the
// severities of one histogram bin.
func HistogramCriterion(bin int) string {
	format := func(f float64) string { return strconv.FormatFloat(f, 'f', 1, 64) }
	switch {
	case bin <= 0:
		return "severity=\"\""
	case bin == 1:
		return "severity=0.0"
	case bin >= len(HistogramLabels)-1:
		return "severity>" + format(float64(bin-2))
	default:
		upper := float64(bin - 1)
		return "severity>" + format(upper-1) + " and severity<" + format(upper+0.1)
	}
}

// SeverityHistogram sums counts into the twelve fixed severity bins.
func SeverityHistogram(data *core.Data, params core.GenParams) (*core.Data, error) {
	field := targetField(params)
	countF := countField(params)

	counts := make([]float64, len(HistogramLabels))
	for _, r := range data.Records {
		c, ok := toFloat(r[countF])
		if !ok {
			c = 1
		}
		counts[HistogramBin(r[field])] += c
	}

	records := make([]core.Record, len(HistogramLabels))
	for i, label := range HistogramLabels {
		records[i] = core.Record{
			field:                       label,
			countF:                      counts[i],
			field + core.OriginalSuffix: HistogramCriterion(i),
		}
	}

	ci := data.ColumnInfo.Clone()
	setColumn(ci, field, "text")
	setColumn(ci, countF, "integer")
	setColumn(ci, field+core.OriginalSuffix, core.DataTypeCriterion)

	return &core.Data{Records: records, ColumnInfo: ci, FilterInfo: data.FilterInfo}, nil
}

// SeverityLevels are the class boundaries used for level bucketing.
type SeverityLevels struct {
	MaxLog    float64 `koanf:"max_log" json:"max_log"`
	MinLow    float64 `koanf:"min_low" json:"min_low"`
	MaxLow    float64 `koanf:"max_low" json:"max_low"`
	MinMedium float64 `koanf:"min_medium" json:"min_medium"`
	MaxMedium float64 `koanf:"max_medium" json:"max_medium"`
	MinHigh   float64 `koanf:"min_high" json:"min_high"`
}

// DefaultSeverityLevels follows the NVD CVSS v2 severity classes.
func DefaultSeverityLevels() SeverityLevels {
	return SeverityLevels{
		MaxLog:    0.0,
		MinLow:    0.1,
		MaxLow:    3.9,
		MinMedium: 4.0,
		MaxMedium: 6.9,
		MinHigh:   7.0,
	}
}

// Severity level names in ascending order.
const (
	LevelNA     = "N/A"
	LevelLog    = "Log"
	LevelLow    = "Low"
	LevelMedium = "Medium"
	LevelHigh   = "High"
)

// HasLow reports whether the Low class is a non-empty range.
func (l SeverityLevels) HasLow() bool {
	return l.MinLow <= l.MaxLow && l.MaxLow > l.MaxLog
}

// HasMedium reports whether the Medium class is a non-empty range.
func (l SeverityLevels) HasMedium() bool {
	lower := l.MaxLog
	if l.HasLow() {
		lower = l.MaxLow
	}
	return l.MinMedium <= l.MaxMedium && l.MaxMedium > lower
}

// Level returns the level name of a severity value. Values in a collapsed
// class move to the next higher class.
func (l SeverityLevels) Level(v any) string {
	f, ok := toFloat(v)
	switch {
	case !ok || f < 0:
		return LevelNA
	case f <= l.MaxLog:
		return LevelLog
	case f >= l.MinHigh:
		return LevelHigh
	case l.HasMedium() && (f >= l.MinMedium || !l.HasLow()):
		return LevelMedium
	case l.HasLow():
		return LevelLow
	default:
		return LevelHigh
	}
}

// Criterion returns a filter criterion selecting one severity level,
// used to build drill-down filters.
func (l SeverityLevels) Criterion(level string) string {
	format := func(f float64) string { return strconv.FormatFloat(f, 'f', 1, 64) }
	switch level {
	case LevelLog:
		return "severity=" + format(l.MaxLog)
	case LevelLow:
		return "severity>" + format(l.MaxLog) + " and severity<" + format(l.MinMedium)
	case LevelMedium:
		lower := l.MaxLog
		if l.HasLow() {
			lower = l.MaxLow
		}
		return "severity>" + format(lower) + " and severity<" + format(l.MinHigh)
	case LevelHigh:
		return "severity>" + format(l.MinHigh-0.1)
	default:
		return "severity=\"\""
	}
}

// SeverityLevelCounts returns a transform bucketing severities into
// N/A, Log, Low, Medium and High. Empty bins are dropped; the result is
// ordered High first unless the "ascending" extra parameter is set.
func SeverityLevelCounts(levels SeverityLevels) Func {
	return func(data *core.Data, params core.GenParams) (*core.Data, error) {
		field := targetField(params)
		countF := countField(params)

		order := []string{LevelNA, LevelLog, LevelLow, LevelMedium, LevelHigh}
		sums := make(map[string]float64, len(order))
		for _, r := range data.Records {
			c, ok := toFloat(r[countF])
			if !ok {
				c = 1
			}
			sums[levels.Level(r[field])] += c
		}

		var records []core.Record
		for _, level := range order {
			if sums[level] == 0 {
				continue
			}
			records = append(records, core.Record{
				field:                       level,
				countF:                      sums[level],
				field + core.OriginalSuffix: levels.Criterion(level),
			})
		}
		if !isAscending(params) {
			for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
				records[i], records[j] = records[j], records[i]
			}
		}

		ci := data.ColumnInfo.Clone()
		setColumn(ci, field, "text")
		setColumn(ci, countF, "integer")
		setColumn(ci, field+core.OriginalSuffix, core.DataTypeCriterion)

		return &core.Data{Records: records, ColumnInfo: ci, FilterInfo: data.FilterInfo}, nil
	}
}
