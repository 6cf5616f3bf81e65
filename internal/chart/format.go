package chart

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/leapstack-labs/vulndash/pkg/core"
)

// RemoveOnStaticClass marks interactive-only SVG elements.
const RemoveOnStaticClass = "remove_on_static"

// DefaultStylesheet is embedded into HTML and SVG exports.
const DefaultStylesheet = `body { font-family: "DejaVu Sans", Arial, sans-serif; font-size: 12px; }
h1 { font-size: 14px; font-weight: bold; }
table.chart-table { border-collapse: collapse; }
table.chart-table th { background: #66c430; color: #fff; padding: 2px 6px; text-align: left; }
table.chart-table td { border-bottom: 1px solid #ddd; padding: 2px 6px; }
text { font-family: "DejaVu Sans", Arial, sans-serif; font-size: 11px; fill: #1a1a1a; }
.chart-title { font-size: 13px; font-weight: bold; }
`

// FormatValue renders a record value for tables and CSV.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// Table flattens records into header and row cells. Without fields all
// record keys are used, except "~original" copies.
func Table(data *core.Data, fields []string) (headers []string, rows [][]string) {
	if data == nil {
		return nil, nil
	}
	if len(fields) == 0 {
		seen := make(map[string]struct{})
		for _, r := range data.Records {
			for k := range r {
				if strings.HasSuffix(k, core.OriginalSuffix) {
					continue
				}
				seen[k] = struct{}{}
			}
		}
		for k := range seen {
			fields = append(fields, k)
		}
		sort.Strings(fields)
	}

	headers = make([]string, len(fields))
	for i, f := range fields {
		headers[i] = f
		if col, ok := data.ColumnInfo.Get(f); ok && col.Column != "" && col.Stat != "" && col.Stat != "value" && col.Stat != "count" {
			headers[i] = col.Column + " (" + col.Stat + ")"
		}
	}

	rows = make([][]string, len(data.Records))
	for i, r := range data.Records {
		row := make([]string, len(fields))
		for j, f := range fields {
			row[j] = FormatValue(r[f])
		}
		rows[i] = row
	}
	return headers, rows
}

// CSV renders a table with every field quoted and embedded quotes doubled.
func CSV(headers []string, rows [][]string) []byte {
	var b bytes.Buffer
	writeLine := func(cells []string) {
		for i, c := range cells {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(c, `"`, `""`))
			b.WriteByte('"')
		}
		b.WriteByte('\n')
	}
	writeLine(headers)
	for _, r := range rows {
		writeLine(r)
	}
	return b.Bytes()
}

var htmlExport = template.Must(template.New("export").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>{{.Stylesheet}}</style>
</head>
<body>
<h1>{{.Title}}</h1>
<table class="chart-table">
<thead><tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}
<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>
{{- end}}
</tbody>
</table>
</body>
</html>
`))

// HTMLDocument renders a standalone HTML table document.
func HTMLDocument(title, stylesheet string, headers []string, rows [][]string) ([]byte, error) {
	var b bytes.Buffer
	err := htmlExport.Execute(&b, struct {
		Title      string
		Stylesheet template.CSS
		Headers    []string
		Rows       [][]string
	}{
		Title:      title,
		Stylesheet: template.CSS(stylesheet),
		Headers:    headers,
		Rows:       rows,
	})
	if err != nil {
		return nil, fmt.Errorf("render html export: %w", err)
	}
	return b.Bytes(), nil
}

// StaticSVG makes a drawn SVG self-contained: the stylesheet is inlined
// into <defs><style> right after the root element and every element
// carrying the remove_on_static class is dropped with its subtree.
func StaticSVG(svg []byte, stylesheet string) ([]byte, error) {
	z := html.NewTokenizer(bytes.NewReader(svg))
	var out bytes.Buffer
	skip := 0
	injected := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return nil, fmt.Errorf("read svg: %w", z.Err())
		}

		// TagName and TagAttr lowercase the buffer in place.
		raw := append([]byte(nil), z.Raw()...)

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			if skip > 0 {
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			name, hasAttr := z.TagName()
			if hasAttr && removeOnStatic(z) {
				if tt == html.StartTagToken {
					skip = 1
				}
				continue
			}
			out.Write(raw)
			if !injected && tt == html.StartTagToken && string(name) == "svg" {
				out.WriteString(`<defs><style type="text/css"><![CDATA[` + stylesheet + `]]></style></defs>`)
				injected = true
			}
		case html.EndTagToken:
			if skip > 0 {
				skip--
				continue
			}
			out.Write(raw)
		default:
			if skip > 0 {
				continue
			}
			out.Write(raw)
		}
	}

	if !injected {
		return nil, errors.New("no svg root element")
	}
	return out.Bytes(), nil
}

func removeOnStatic(z *html.Tokenizer) bool {
	for {
		key, val, more := z.TagAttr()
		if string(key) == "class" {
			for _, c := range strings.Fields(string(val)) {
				if c == RemoveOnStaticClass {
					return true
				}
			}
		}
		if !more {
			return false
		}
	}
}
