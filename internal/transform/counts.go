package transform

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/vulndash/pkg/core"
)

var resourceTypeLabels = map[string]string{
	"allinfo":       "All SecInfo",
	"cert_bund_adv": "CERT-Bund Advisory",
	"cpe":           "CPE",
	"cve":           "CVE",
	"dfn_cert_adv":  "DFN-CERT Advisory",
	"host":          "Host",
	"nvt":           "NVT",
	"os":            "Operating System",
	"ovaldef":       "OVAL Definition",
	"report":        "Report",
	"result":        "Result",
	"task":          "Task",
	"vuln":          "Vulnerability",
}

var qodTypeLabels = map[string]string{
	"":                              "None",
	"exploit":                       "Exploit",
	"remote_vul":                    "Remote vulnerability",
	"remote_app":                    "Remote app",
	"package":                       "Package check",
	"package_unreliable":            "Unreliable package check",
	"remote_banner":                 "Remote banner",
	"executable_version":            "Executable version",
	"remote_analysis":               "Remote analysis",
	"remote_probe":                  "Remote probe",
	"remote_banner_unreliable":      "Unreliable remote banner",
	"executable_version_unreliable": "Unreliable executable version",
	"registry":                      "Registry check",
	"general_note":                  "General note",
	"default":                       "Default",
}

// DisplayLabel turns a raw identifier like "remote_probe" into "Remote Probe".
func DisplayLabel(raw string) string {
	// Casers carry state and must not be shared between goroutines.
	return cases.Title(language.English).String(strings.ReplaceAll(raw, "_", " "))
}

// ResourceTypeCounts renames resource type identifiers to display labels.
func ResourceTypeCounts(data *core.Data, params core.GenParams) (*core.Data, error) {
	return renameValues(data, params, func(raw any) string {
		s := fmt.Sprint(raw)
		if label, ok := resourceTypeLabels[s]; ok {
			return label
		}
		return DisplayLabel(s)
	}), nil
}

// QoDTypeCounts renames quality-of-detection type identifiers to display labels.
func QoDTypeCounts(data *core.Data, params core.GenParams) (*core.Data, error) {
	return renameValues(data, params, func(raw any) string {
		s := fmt.Sprint(raw)
		if label, ok := qodTypeLabels[s]; ok {
			return label
		}
		return DisplayLabel(s)
	}), nil
}

// PercentageCounts sorts records by their numeric field value, highest
// first, and renders the value as a percentage label.
func PercentageCounts(data *core.Data, params core.GenParams) (*core.Data, error) {
	field := targetField(params)
	out := renameValues(data, params, func(raw any) string {
		if f, ok := toFloat(raw); ok {
			return strconv.FormatFloat(f, 'f', -1, 64) + " %"
		}
		return fmt.Sprint(raw)
	})

	original := field + core.OriginalSuffix
	sort.SliceStable(out.Records, func(i, j int) bool {
		a, _ := toFloat(out.Records[i][original])
		b, _ := toFloat(out.Records[j][original])
		return a > b
	})
	return out, nil
}

// renameValues copies data, replacing the target field with label(raw)
// and keeping the raw value under "field~original".
func renameValues(data *core.Data, params core.GenParams, label func(any) string) *core.Data {
	field := targetField(params)
	original := field + core.OriginalSuffix

	out := data.Clone()
	for _, r := range out.Records {
		raw, ok := r[field]
		if !ok {
			continue
		}
		r[original] = raw
		r[field] = label(raw)
	}

	origType := "text"
	if col, ok := out.ColumnInfo.Columns[field]; ok && col.DataType != "" {
		origType = col.DataType
	}
	setColumn(out.ColumnInfo, original, origType)
	setColumn(out.ColumnInfo, field, "text")
	return out
}
