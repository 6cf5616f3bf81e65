// Package svgrender draws chart drawings as SVG using go-chart.
package svgrender

import (
	"bytes"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	vchart "github.com/leapstack-labs/vulndash/internal/chart"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

const (
	minWidth  = 120
	minHeight = 80
)

var palette = []drawing.Color{
	drawing.ColorFromHex("c12c30"),
	drawing.ColorFromHex("f57b00"),
	drawing.ColorFromHex("f0a519"),
	drawing.ColorFromHex("4f91c7"),
	drawing.ColorFromHex("66c430"),
	drawing.ColorFromHex("7f7f7f"),
}

// Render draws d as an SVG document. Empty data yields a "No data" image.
func Render(d vchart.Drawing) ([]byte, error) {
	w, h := max(d.Width, minWidth), max(d.Height, minHeight)
	if d.Data == nil || len(d.Data.Records) == 0 {
		return placeholder(w, h, "No data"), nil
	}

	var (
		buf bytes.Buffer
		err error
	)
	switch d.Type {
	case vchart.TypeDonut:
		err = renderPie(&buf, d, w, h)
	case vchart.TypeLine:
		err = renderLine(&buf, d, w, h)
	case vchart.TypeBubbles:
		err = renderBubbles(&buf, d, w, h)
	case vchart.TypeTable:
		return renderTable(d, w, h), nil
	default:
		err = renderBar(&buf, d, w, h)
	}
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", d.Type, err)
	}
	return withOverlay(buf.Bytes(), w, h), nil
}

func yField(d vchart.Drawing) string {
	if len(d.YFields) > 0 {
		return d.YFields[0]
	}
	return "count"
}

func number(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func label(r core.Record, field string) string {
	return vchart.FormatValue(r[field])
}

func renderBar(buf *bytes.Buffer, d vchart.Drawing, w, h int) error {
	y := yField(d)
	bars := make([]chart.Value, 0, len(d.Data.Records))
	maxY := 0.0
	for i, r := range d.Data.Records {
		v := number(r[y])
		maxY = math.Max(maxY, v)
		bars = append(bars, chart.Value{
			Label: label(r, d.XField),
			Value: v,
			Style: chart.Style{FillColor: palette[i%len(palette)], StrokeColor: palette[i%len(palette)]},
		})
	}
	if maxY <= 0 {
		maxY = 1
	}

	barWidth := max(4, (w-80)/(2*len(bars)))
	bc := chart.BarChart{
		Title:      d.Title,
		Width:      w,
		Height:     h,
		BarWidth:   barWidth,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 10, Right: 10, Bottom: 10}},
		YAxis:      chart.YAxis{Range: &chart.ContinuousRange{Min: 0, Max: maxY * 1.1}},
		Bars:       bars,
	}
	return bc.Render(chart.SVG, buf)
}

func renderPie(buf *bytes.Buffer, d vchart.Drawing, w, h int) error {
	y := yField(d)
	var values []chart.Value
	for i, r := range d.Data.Records {
		v := number(r[y])
		if v <= 0 {
			continue
		}
		values = append(values, chart.Value{
			Label: label(r, d.XField),
			Value: v,
			Style: chart.Style{FillColor: palette[i%len(palette)]},
		})
	}
	if len(values) == 0 {
		buf.Write(placeholder(w, h, "No data"))
		return nil
	}
	pc := chart.PieChart{Title: d.Title, Width: w, Height: h, Values: values}
	return pc.Render(chart.SVG, buf)
}

// xTicks places one tick per record on an index axis.
func xTicks(d vchart.Drawing) ([]float64, []chart.Tick) {
	xs := make([]float64, len(d.Data.Records))
	ticks := make([]chart.Tick, len(d.Data.Records))
	for i, r := range d.Data.Records {
		xs[i] = float64(i)
		ticks[i] = chart.Tick{Value: float64(i), Label: label(r, d.XField)}
	}
	return xs, ticks
}

func renderLine(buf *bytes.Buffer, d vchart.Drawing, w, h int) error {
	xs, ticks := xTicks(d)
	fields := d.YFields
	if len(fields) == 0 {
		fields = []string{"count"}
	}
	fields = append(fields[:len(fields):len(fields)], d.ZFields...)

	maxY := 0.0
	var series []chart.Series
	for i, f := range fields {
		ys := make([]float64, len(d.Data.Records))
		for j, r := range d.Data.Records {
			ys[j] = number(r[f])
			maxY = math.Max(maxY, ys[j])
		}
		series = append(series, chart.ContinuousSeries{
			Name:    f,
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				StrokeWidth: 2,
				StrokeColor: palette[i%len(palette)],
				DotWidth:    3,
				DotColor:    palette[i%len(palette)],
			},
		})
	}
	if maxY <= 0 {
		maxY = 1
	}

	c := chart.Chart{
		Title:      d.Title,
		Width:      w,
		Height:     h,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 24}},
		XAxis:      chart.XAxis{Range: &chart.ContinuousRange{Min: -0.5, Max: float64(len(xs)) - 0.5}, Ticks: ticks},
		YAxis:      chart.YAxis{Range: &chart.ContinuousRange{Min: 0, Max: maxY * 1.1}},
		Series:     series,
	}
	return c.Render(chart.SVG, buf)
}

func renderBubbles(buf *bytes.Buffer, d vchart.Drawing, w, h int) error {
	xs, ticks := xTicks(d)
	y := yField(d)
	z := ""
	if len(d.ZFields) > 0 {
		z = d.ZFields[0]
	}

	ys := make([]float64, len(xs))
	sizes := make([]float64, len(xs))
	maxY, maxZ := 0.0, 0.0
	for i, r := range d.Data.Records {
		ys[i] = number(r[y])
		sizes[i] = number(r[z])
		maxY = math.Max(maxY, ys[i])
		maxZ = math.Max(maxZ, sizes[i])
	}
	if maxY <= 0 {
		maxY = 1
	}
	if maxZ <= 0 {
		maxZ = 1
	}

	c := chart.Chart{
		Title:      d.Title,
		Width:      w,
		Height:     h,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 24}},
		XAxis:      chart.XAxis{Range: &chart.ContinuousRange{Min: -0.5, Max: float64(len(xs)) - 0.5}, Ticks: ticks},
		YAxis:      chart.YAxis{Range: &chart.ContinuousRange{Min: 0, Max: maxY * 1.2}},
		Series: []chart.Series{
			chart.ContinuousSeries{
				XValues: xs,
				YValues: ys,
				Style: chart.Style{
					StrokeWidth: chart.Disabled,
					DotColor:    palette[3],
					DotWidthProvider: func(_, _ chart.Range, index int, _, _ float64) float64 {
						return 3 + 12*sizes[index]/maxZ
					},
				},
			},
		},
	}
	return c.Render(chart.SVG, buf)
}

func renderTable(d vchart.Drawing, w, h int) []byte {
	var fields []string
	if d.XField != "" {
		fields = append([]string{d.XField}, d.YFields...)
	}
	headers, rows := vchart.Table(d.Data, fields)

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`, w, h, w, h)
	fmt.Fprintf(&b, `<text class="chart-title" x="4" y="14">%s</text>`, html.EscapeString(d.Title))
	colWidth := w / max(1, len(headers))
	line := func(y int, cells []string, class string) {
		for i, c := range cells {
			fmt.Fprintf(&b, `<text class="%s" x="%d" y="%d">%s</text>`, class, 4+i*colWidth, y, html.EscapeString(c))
		}
	}
	line(34, headers, "table-header")
	for i, r := range rows {
		y := 50 + i*16
		if y > h {
			break
		}
		line(y, r, "table-cell")
	}
	b.WriteString(`</svg>`)
	return []byte(b.String())
}

func placeholder(w, h int, msg string) []byte {
	return []byte(fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`+
			`<text x="%d" y="%d" text-anchor="middle">%s</text></svg>`,
		w, h, w, h, w/2, h/2, html.EscapeString(msg)))
}

// withOverlay adds the interactive hover frame, which static exports strip.
func withOverlay(svg []byte, w, h int) []byte {
	i := bytes.LastIndex(svg, []byte("</svg>"))
	if i < 0 {
		return svg
	}
	overlay := fmt.Sprintf(
		`<rect class="%s chart-hover" x="0" y="0" width="%d" height="%d" fill="none" stroke="none"/>`,
		vchart.RemoveOnStaticClass, w, h)
	out := make([]byte, 0, len(svg)+len(overlay))
	out = append(out, svg[:i]...)
	out = append(out, overlay...)
	return append(out, svg[i:]...)
}
