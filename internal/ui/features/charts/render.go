package charts

import (
	"html/template"
	"io"

	"github.com/leapstack-labs/vulndash/internal/chart"
	"github.com/leapstack-labs/vulndash/internal/chart/svgrender"
	"github.com/leapstack-labs/vulndash/internal/ui/resources"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

type detachedView struct {
	Title   string
	Filter  core.Filter
	State   svgrender.State
	Exports []chart.MenuItem
}

var detachedTemplate = template.Must(template.New("detached").Funcs(template.FuncMap{
	"svg":    func(s string) template.HTML { return template.HTML(s) }, //nolint:gosec // G203: SVG produced by our own renderer
	"static": resources.StaticPath,
}).Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} - vulndash</title>
<link rel="stylesheet" href="{{static "style.css"}}">
</head>
<body>
<article class="chart-box detached" id="{{.State.ID}}">
<h3 class="chart-title">{{.Title}}</h3>
{{with .Filter.Term}}<p class="chart-filter">Filter: {{.}}</p>{{end}}
<div class="chart-body" style="width: {{.State.Width}}px; height: {{.State.Height}}px">{{svg .State.SVG}}</div>
{{if .State.Links}}<nav class="chart-links">{{range .State.Links}}{{if .URL}}<a href="{{.URL}}">{{.Label}}</a>{{end}}{{end}}</nav>{{end}}
{{if .Exports}}<nav class="chart-menu">{{range .Exports}}<a href="{{.URL}}" download="{{.Download}}">{{.Label}}</a>{{end}}</nav>{{end}}
</article>
</body>
</html>
`))

// RenderDetached writes the page of one detached chart.
func RenderDetached(w io.Writer, view detachedView) error {
	return detachedTemplate.Execute(w, view)
}
