package chart

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/vulndash/pkg/core"
)

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "3.5", FormatValue(3.5))
	assert.Equal(t, "10", FormatValue(10.0))
	assert.Equal(t, "abc", FormatValue("abc"))
	assert.Equal(t, "2024-01-02T03:04:05Z", FormatValue(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	assert.Equal(t, "true", FormatValue(true))
}

func TestTable(t *testing.T) {
	data := sampleData()
	data.ColumnInfo.Columns["severity_max"] = &core.Column{Name: "severity_max", Column: "severity", Stat: "max"}
	data.Records[0]["severity_max"] = 7.5
	data.Records[0]["value~original"] = "high"

	headers, rows := Table(data, []string{"value", "severity_max"})
	assert.Equal(t, []string{"value", "severity (max)"}, headers)
	assert.Equal(t, [][]string{{"High", "7.5"}, {`Say "hi"`, ""}}, rows)

	headers, _ = Table(data, nil)
	assert.Equal(t, []string{"count", "severity_max", "value"}, headers)

	headers, rows = Table(nil, nil)
	assert.Nil(t, headers)
	assert.Nil(t, rows)
}

func TestCSV(t *testing.T) {
	got := CSV([]string{"name", "count"}, [][]string{{`Say "hi"`, "4"}, {"a,b", ""}})
	want := "\"name\",\"count\"\n\"Say \"\"hi\"\"\",\"4\"\n\"a,b\",\"\"\n"
	assert.Equal(t, want, string(got))
}

func TestHTMLDocument(t *testing.T) {
	doc, err := HTMLDocument("NVTs <by> severity", "td { color: red; }", []string{"value"}, [][]string{{"<b>x</b>"}})
	require.NoError(t, err)

	s := string(doc)
	assert.True(t, strings.HasPrefix(s, "<!DOCTYPE html>"))
	assert.Contains(t, s, "<style>td { color: red; }</style>")
	assert.Contains(t, s, "<title>NVTs &lt;by&gt; severity</title>")
	assert.Contains(t, s, "<td>&lt;b&gt;x&lt;/b&gt;</td>")
	assert.Contains(t, s, "<th>value</th>")
}

func TestStaticSVG(t *testing.T) {
	out, err := StaticSVG([]byte(drawnSVG), ".bar { fill: green; }")
	require.NoError(t, err)

	s := string(out)
	assert.True(t, strings.HasPrefix(s, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 10"><defs><style type="text/css"><![CDATA[.bar { fill: green; }]]></style></defs>`))
	assert.NotContains(t, s, "hover")
	assert.NotContains(t, s, "legend")
	assert.Contains(t, s, `<rect class="bar" width="5" height="5"/>`)
	assert.True(t, strings.HasSuffix(s, "</svg>"))
}

func TestStaticSVG_NoRoot(t *testing.T) {
	_, err := StaticSVG([]byte("<div>nope</div>"), "")
	assert.Error(t, err)
}
