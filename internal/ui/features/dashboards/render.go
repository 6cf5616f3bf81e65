package dashboards

import (
	"bytes"
	"html/template"
	"io"

	"github.com/leapstack-labs/vulndash/internal/ui/features/common"
	"github.com/leapstack-labs/vulndash/internal/ui/resources"
)

const datastarScript = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0-RC.6/bundles/datastar.js"

var templates = template.Must(template.New("dashboards").Funcs(template.FuncMap{
	"svg":    func(s string) template.HTML { return template.HTML(s) }, //nolint:gosec // G203: SVG produced by our own renderer
	"static": resources.StaticPath,
	"script": func() string { return datastarScript },
	"pair": func(d common.DashboardView, c common.ComponentView) componentContext {
		return componentContext{Dashboard: d, Component: c}
	},
}).Parse(`
{{define "page"}}<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} - vulndash</title>
<link rel="stylesheet" href="{{static "style.css"}}">
<script type="module" src="{{script}}"></script>
<script type="module" src="{{static "dashboard.js"}}"></script>
</head>
<body>
<main data-signals="{editing: {{.Editing}}, total: {{.Total}}}" data-init="@get('/dashboards/{{.ID}}/updates')">
{{template "dashboard" .}}
</main>
</body>
</html>
{{end}}

{{define "dashboard"}}<div id="dashboard-{{.ID}}" class="dashboard{{if .Editing}} editing{{end}}" data-dashboard="{{.ID}}">
<header class="dashboard-header">
<h1>{{.Title}}</h1>
<nav>
{{if .Editing}}<button data-on-click="@post('/dashboards/{{.ID}}/edit/stop')">Done</button>
{{else}}<button data-on-click="@post('/dashboards/{{.ID}}/edit/start')">Edit</button>
{{end}}<button data-on-click="@post('/dashboards/{{.ID}}/refresh')">Refresh</button>
{{if .CanAdd}}<button data-on-click="@post('/dashboards/{{.ID}}/components')">Add chart</button>{{end}}
</nav>
</header>
{{if .Editing}}<div class="drop-row" data-row="new-top"></div>{{end}}
{{range .Rows}}<section class="dashboard-row" id="{{.ID}}" data-row="{{.ID}}" style="height: {{.Height}}px">
{{range .Components}}{{template "component" (pair $ .)}}{{end}}
{{if $.Editing}}<div class="row-resize" data-resize-row="{{.ID}}"></div>{{end}}
</section>
{{end}}
{{if .Editing}}<div class="drop-row" data-row="new-bottom"></div>{{end}}
</div>
{{end}}

{{define "component"}}{{$d := .Dashboard}}{{with .Component}}<article class="chart-box" id="{{.ID}}"{{if $d.Editing}} draggable="true"{{end}}>
<h3 class="chart-title">{{.Title}}</h3>
{{if $d.Editing}}<div class="chart-controls">
<select data-on-change="$chart = evt.target.value; @post('/dashboards/{{$d.ID}}/components/{{.ID}}/chart')">
{{$chart := .Chart}}{{range .Charts}}<option value="{{.}}"{{if eq . $chart}} selected{{end}}>{{.}}</option>{{end}}
</select>
{{if .FilterSelectable}}<select data-on-change="$filter = evt.target.value; @post('/dashboards/{{$d.ID}}/components/{{.ID}}/filter')">
{{$filter := .Filter}}{{range .Filters}}<option value="{{.ID}}"{{if eq .ID $filter}} selected{{end}}>{{if .Name}}{{.Name}}{{else}}--{{end}}</option>{{end}}
</select>{{end}}
<button data-on-click="@delete('/dashboards/{{$d.ID}}/components/{{.ID}}')">Remove</button>
</div>{{end}}
<div class="chart-body" style="width: {{.Width}}px; height: {{.Height}}px">
{{if .Error}}<div class="chart-error">{{.Error}}</div>
{{else if .Loading}}<div class="chart-loading">Loading...</div>
{{else}}{{svg .SVG}}{{end}}
</div>
{{if and .Links (not .Error)}}<nav class="chart-links">{{range .Links}}{{if .URL}}<a href="{{.URL}}" target="_blank">{{.Label}}</a>{{end}}{{end}}</nav>{{end}}
{{if .Menu}}<nav class="chart-menu">{{range .Menu}}<a href="{{.URL}}"{{if .Download}} download="{{.Download}}"{{else}} target="_blank"{{end}}>{{.Label}}</a>{{end}}</nav>{{end}}
</article>
{{end}}{{end}}
`))

// componentContext lets the component template reach dashboard fields.
type componentContext struct {
	Dashboard common.DashboardView
	Component common.ComponentView
}

// RenderPage writes the full dashboard page.
func RenderPage(w io.Writer, view common.DashboardView) error {
	return templates.ExecuteTemplate(w, "page", view)
}

// RenderFragment returns the dashboard element patched into the page.
func RenderFragment(view common.DashboardView) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "dashboard", view); err != nil {
		return "", err
	}
	return buf.String(), nil
}
