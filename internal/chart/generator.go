package chart

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/leapstack-labs/vulndash/internal/metrics"
	"github.com/leapstack-labs/vulndash/internal/transform"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// Chart types.
const (
	TypeBar     = "bar"
	TypeHBar    = "h_bar"
	TypeDonut   = "donut"
	TypeLine    = "line"
	TypeBubbles = "bubbles"
	TypeCloud   = "cloud"
	TypeTable   = "table"
)

// kind captures what differs between chart types.
type kind struct {
	name     string
	defaultX string
	defaultY []string
	defaultZ []string
	needsX   bool
	needsY   bool
	needsZ   bool
	exports  []ExportKind
}

var kinds = map[string]kind{
	TypeBar: {
		name: TypeBar, defaultX: "value", defaultY: []string{"count"},
		needsX: true, needsY: true, exports: []ExportKind{ExportCSV, ExportHTML, ExportSVG},
	},
	TypeHBar: {
		name: TypeHBar, defaultX: "value", defaultY: []string{"count"},
		needsX: true, needsY: true, exports: []ExportKind{ExportCSV, ExportHTML, ExportSVG},
	},
	TypeDonut: {
		name: TypeDonut, defaultX: "value", defaultY: []string{"count"},
		needsX: true, needsY: true, exports: []ExportKind{ExportCSV, ExportHTML, ExportSVG},
	},
	TypeLine: {
		name: TypeLine, defaultX: "value", defaultY: []string{"count"}, defaultZ: []string{"c_count"},
		needsX: true, needsY: true, exports: []ExportKind{ExportCSV, ExportHTML, ExportSVG},
	},
	TypeBubbles: {
		name: TypeBubbles, defaultX: "value", defaultY: []string{"count"}, defaultZ: []string{"severity_mean"},
		needsX: true, needsY: true, needsZ: true, exports: []ExportKind{ExportCSV, ExportHTML, ExportSVG},
	},
	TypeCloud: {
		name: TypeCloud, defaultX: "value", defaultY: []string{"count"},
		needsX: true, needsY: true, exports: []ExportKind{ExportCSV, ExportHTML, ExportSVG},
	},
	TypeTable: {
		name: TypeTable, exports: []ExportKind{ExportCSV, ExportHTML},
	},
}

// Types lists the supported chart types.
func Types() []string {
	out := make([]string, 0, len(kinds))
	for name := range kinds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Options configure a generator.
type Options struct {
	// Name is the chart name used for export filenames; defaults to the type.
	Name       string
	Transform  transform.Func
	Title      TitleGenerator
	Store      BlobStore
	Stylesheet string
	Metrics    *metrics.Metrics
}

type generator struct {
	kind       kind
	name       string
	transform  transform.Func
	title      TitleGenerator
	exports    *Exports
	stylesheet string
}

// New creates a generator of the given chart type.
func New(chartType string, opts Options) (Generator, error) {
	k, ok := kinds[chartType]
	if !ok {
		return nil, fmt.Errorf("unknown chart type %q", chartType)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("chart %q: blob store is required", chartType)
	}
	if opts.Transform == nil {
		opts.Transform = transform.Identity
	}
	if opts.Title == nil {
		opts.Title = StaticTitle{Label: chartType}
	}
	if opts.Stylesheet == "" {
		opts.Stylesheet = DefaultStylesheet
	}
	if opts.Name == "" {
		opts.Name = chartType
	}
	return &generator{
		kind:       k,
		name:       opts.Name,
		transform:  opts.Transform,
		title:      opts.Title,
		exports:    NewExports(opts.Store, opts.Metrics),
		stylesheet: opts.Stylesheet,
	}, nil
}

func (g *generator) Name() string { return g.kind.name }

// resolve fills in the type's default fields.
func (g *generator) resolve(params core.GenParams) core.GenParams {
	p := params.Clone()
	if p.XField == "" {
		p.XField = g.kind.defaultX
	}
	if len(p.YFields) == 0 {
		p.YFields = slices.Clone(g.kind.defaultY)
	}
	if len(p.ZFields) == 0 {
		p.ZFields = slices.Clone(g.kind.defaultZ)
	}
	return p
}

func (g *generator) GenerateData(original *core.Data, params core.GenParams) (*core.Data, error) {
	if original == nil {
		return nil, fmt.Errorf("%s: no data", g.kind.name)
	}
	p := g.resolve(params)
	data, err := g.transform(original, p)
	if err != nil {
		return nil, fmt.Errorf("%s: transform: %w", g.kind.name, err)
	}

	check := func(field string, required bool) error {
		if !required || field == "" {
			return nil
		}
		if _, ok := data.ColumnInfo.Resolve(field); ok {
			return nil
		}
		for _, r := range data.Records {
			if _, ok := r[field]; ok {
				data.ColumnInfo.Columns[field] = &core.Column{Name: field, Stat: "value", DataType: "text"}
				return nil
			}
		}
		if len(data.Records) == 0 {
			return nil
		}
		return fmt.Errorf("%s: %w: unknown field %q", g.kind.name, ErrInvalidParams, field)
	}

	if err := check(p.XField, g.kind.needsX); err != nil {
		return nil, err
	}
	for _, f := range p.YFields {
		if err := check(f, g.kind.needsY); err != nil {
			return nil, err
		}
	}
	for _, f := range p.ZFields {
		if err := check(f, g.kind.needsZ); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (g *generator) Title(data *core.Data, filter core.Filter) string {
	return g.title.Title(data, filter)
}

func (g *generator) Render(display Display, data *core.Data, params core.GenParams, rc RenderContext) error {
	p := g.resolve(params)
	var links []Link
	if g.kind.needsX {
		links = drillDown(data, p.XField, rc)
	}
	return display.Draw(Drawing{
		Type:          g.kind.name,
		Title:         g.Title(data, rc.Filter),
		Width:         display.Width(),
		Height:        display.Height(),
		XField:        p.XField,
		YFields:       p.YFields,
		ZFields:       p.ZFields,
		ChartTemplate: p.ChartTemplate,
		Extra:         p.Extra,
		Data:          data,
		Links:         links,
	})
}

// drillDown builds one link per record that narrows the current filter by
// the record's x value, keeping the filter's extra options.
func drillDown(data *core.Data, xField string, rc RenderContext) []Link {
	if rc.DrillDown == nil || data == nil || xField == "" {
		return nil
	}
	links := make([]Link, len(data.Records))
	for i, r := range data.Records {
		links[i].Label = FormatValue(r[xField])
		criterion, ok := data.ColumnInfo.Criterion(r, xField)
		if !ok {
			continue
		}
		term := criterion
		switch {
		case data.FilterInfo != nil:
			term = data.FilterInfo.AddCriterion(criterion)
		case rc.Filter.Term != "":
			term = rc.Filter.Term + " and " + criterion
		}
		links[i].URL = rc.DrillDown(term)
	}
	return links
}

func (g *generator) MustUpdate(display Display) bool {
	last := display.LastGenerator()
	return last == nil || last != Generator(g)
}

func (g *generator) fields(params core.GenParams) []string {
	if g.kind.name == TypeTable && params.XField == "" && len(params.YFields) == 0 {
		return nil
	}
	return g.resolve(params).Fields()
}

func (g *generator) Export(kind ExportKind, display Display, data *core.Data, params core.GenParams, rc RenderContext) (string, error) {
	if !slices.Contains(g.kind.exports, kind) {
		return "", fmt.Errorf("%s: export %q not supported", g.kind.name, kind)
	}
	filename := exportFilename(g.name, kind)

	switch kind {
	case ExportCSV:
		headers, rows := Table(data, g.fields(params))
		return g.exports.Replace(kind, CSV(headers, rows), "text/csv; charset=utf-8", filename), nil
	case ExportHTML:
		headers, rows := Table(data, g.fields(params))
		doc, err := HTMLDocument(g.Title(data, rc.Filter), g.stylesheet, headers, rows)
		if err != nil {
			return "", err
		}
		return g.exports.Replace(kind, doc, "text/html; charset=utf-8", filename), nil
	default:
		svg := display.SVG()
		if len(svg) == 0 {
			g.exports.Revoke(kind)
			return "", fmt.Errorf("%s: nothing drawn", g.kind.name)
		}
		doc, err := StaticSVG(svg, g.stylesheet)
		if err != nil {
			return "", err
		}
		return g.exports.Replace(kind, doc, "image/svg+xml", filename), nil
	}
}

func (g *generator) ExportItems() []MenuItem {
	var items []MenuItem
	for _, kind := range g.exports.Kinds() {
		url, _ := g.exports.URL(kind)
		items = append(items, MenuItem{
			Label:    exportLabel(kind),
			URL:      url,
			Download: exportFilename(g.name, kind),
		})
	}
	return items
}

// SupportedExports lists the artifacts a chart type produces.
func (g *generator) SupportedExports() []ExportKind {
	return slices.Clone(g.kind.exports)
}

func (g *generator) Close() {
	g.exports.RevokeAll()
}

func exportFilename(name string, kind ExportKind) string {
	name = strings.NewReplacer(" ", "_", "/", "_").Replace(name)
	return name + "." + string(kind)
}

func exportLabel(kind ExportKind) string {
	switch kind {
	case ExportCSV:
		return "Download CSV"
	case ExportHTML:
		return "Show HTML table"
	default:
		return "Download SVG"
	}
}
