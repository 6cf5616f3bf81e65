package common

import (
	"github.com/leapstack-labs/vulndash/internal/chart/svgrender"
	"github.com/leapstack-labs/vulndash/internal/dashboard"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// DashboardLink is one entry of the dashboard index.
type DashboardLink struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ComponentView is the rendered state of one chart box.
type ComponentView struct {
	svgrender.State
	Chart            string        `json:"chart"`
	Filter           string        `json:"filter"`
	Charts           []string      `json:"charts"`
	Filters          []core.Filter `json:"filters"`
	FilterSelectable bool          `json:"filter_selectable"`
}

// RowView is the rendered state of one row.
type RowView struct {
	ID         string          `json:"id"`
	Height     int             `json:"height"`
	Components []ComponentView `json:"components"`
}

// DashboardView is the full state pushed to the browser.
type DashboardView struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Mode       string    `json:"mode"`
	Editing    bool      `json:"editing"`
	CanAdd     bool      `json:"can_add"`
	Total      int       `json:"total"`
	Rows       []RowView `json:"rows"`
	Stylesheet string    `json:"-"`
}

// BuildDashboardView snapshots a mounted dashboard. Displays that are not
// svgrender displays contribute their size only.
func BuildDashboardView(id, title string, d *dashboard.Dashboard, maxComponents int) DashboardView {
	view := DashboardView{
		ID:      id,
		Title:   title,
		Mode:    d.Mode().String(),
		Editing: d.Mode() == dashboard.ModeEdit,
		Total:   d.TotalComponents(),
	}
	view.CanAdd = view.Total < maxComponents

	for _, row := range d.Rows() {
		rv := RowView{ID: row.ID(), Height: row.Height()}
		for _, c := range row.Components() {
			cv := ComponentView{
				Chart:            c.ChartName(),
				Filter:           c.FilterID(),
				Charts:           c.Charts(),
				Filters:          c.Filters(),
				FilterSelectable: c.FilterSelectable(),
			}
			if sd, ok := c.Display().(*svgrender.Display); ok {
				cv.State = sd.Snapshot()
			} else {
				cv.ID = c.ID()
				cv.Width = c.Display().Width()
				cv.Height = c.Display().Height()
			}
			rv.Components = append(rv.Components, cv)
		}
		view.Rows = append(view.Rows, rv)
	}
	return view
}
