// Package chart turns transformed data into drawable chart state and
// exportable artifacts, and binds data sources to displays through
// controllers.
package chart

import (
	"errors"

	"github.com/leapstack-labs/vulndash/pkg/core"
)

// ErrInvalidParams reports generation params that do not fit the data,
// such as an unknown field.
var ErrInvalidParams = errors.New("invalid chart parameters")

// ExportKind names an export artifact.
type ExportKind string

// Export kinds.
const (
	ExportCSV  ExportKind = "csv"
	ExportHTML ExportKind = "html"
	ExportSVG  ExportKind = "svg"
)

// MenuItem is one entry of a chart box menu.
type MenuItem struct {
	Label    string `json:"label"`
	URL      string `json:"url"`
	Download string `json:"download,omitempty"`
}

// Drawing is the generator-independent description of one chart render.
type Drawing struct {
	Type          string            `json:"type"`
	Title         string            `json:"title"`
	Width         int               `json:"width"`
	Height        int               `json:"height"`
	XField        string            `json:"x_field"`
	YFields       []string          `json:"y_fields"`
	ZFields       []string          `json:"z_fields,omitempty"`
	ChartTemplate string            `json:"chart_template,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
	Data          *core.Data        `json:"data"`
	// Links holds one drill-down link per record; records without a
	// criterion have an empty URL.
	Links []Link `json:"links,omitempty"`
}

// Link narrows the current filter to one drawn record.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// RenderContext is what a render needs besides data and params.
type RenderContext struct {
	// Filter is the filter the data was requested with.
	Filter core.Filter
	// DrillDown turns a filter term into a link target. Nil disables
	// drill-down links.
	DrillDown func(term string) string
}

// Display is where a controller draws. Implementations must be safe for
// concurrent use.
type Display interface {
	ID() string
	Width() int
	Height() int
	SetSize(width, height int)

	SetTitle(title string)
	ShowLoading()
	HideLoading()
	ShowError(msg string)
	Clear()
	Draw(d Drawing) error
	// SVG returns the currently drawn chart, or nil.
	SVG() []byte

	LastGenerator() Generator
	SetLastGenerator(g Generator)
	SetMenuItems(items []MenuItem)
}

// Generator produces chart state for one chart type.
type Generator interface {
	Name() string
	// GenerateData transforms original data for drawing. On error the
	// display keeps its previous state.
	GenerateData(original *core.Data, params core.GenParams) (*core.Data, error)
	// Title returns the loading variant when data is nil.
	Title(data *core.Data, filter core.Filter) string
	Render(display Display, data *core.Data, params core.GenParams, rc RenderContext) error
	// MustUpdate reports whether display was last drawn by another generator.
	MustUpdate(display Display) bool
	// Export regenerates one artifact and returns its URL. The previous
	// URL of the same kind is revoked first.
	Export(kind ExportKind, display Display, data *core.Data, params core.GenParams, rc RenderContext) (string, error)
	// SupportedExports lists the artifact kinds of this chart type.
	SupportedExports() []ExportKind
	// ExportItems lists the menu entries of the current artifacts.
	ExportItems() []MenuItem
	// Close revokes every artifact.
	Close()
}
