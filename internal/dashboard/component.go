package dashboard

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/leapstack-labs/vulndash/internal/chart"
	"github.com/leapstack-labs/vulndash/internal/datasource"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// ControllerFactory builds the controller of a named chart drawing into
// display.
type ControllerFactory interface {
	NewController(chartName string, display chart.Display) (*chart.Controller, error)
}

// DisplayFactory creates the display of a chart box.
type DisplayFactory func(id string, width, height int) chart.Display

// Component is one chart box. It offers a list of candidate charts and
// filters and keeps exactly one of each selected.
type Component struct {
	id        string
	display   chart.Display
	factory   ControllerFactory
	charts    []string
	filters   []core.Filter
	fixed     bool
	logger    *slog.Logger
	closeOnce sync.Once

	mu          sync.Mutex
	controllers map[string]*chart.Controller
	chart       int
	filter      int
}

func newComponent(id string, display chart.Display, factory ControllerFactory, charts []string, filters []core.Filter, fixed bool, logger *slog.Logger) *Component {
	return &Component{
		id:          id,
		display:     display,
		factory:     factory,
		charts:      charts,
		filters:     filters,
		fixed:       fixed,
		logger:      logger.With("component", id),
		controllers: make(map[string]*chart.Controller),
	}
}

// ID returns the component id, which is also its display id.
func (c *Component) ID() string { return c.id }

// Display returns the component's display.
func (c *Component) Display() chart.Display { return c.display }

// Charts returns the candidate chart names.
func (c *Component) Charts() []string { return slices.Clone(c.charts) }

// Filters returns the candidate filters. The first entry is "no filter"
// unless the dashboard has a fixed filter.
func (c *Component) Filters() []core.Filter { return slices.Clone(c.filters) }

// FilterSelectable reports whether the user may change the filter.
func (c *Component) FilterSelectable() bool { return !c.fixed }

// ChartName returns the selected chart.
func (c *Component) ChartName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.charts[c.chart]
}

// Filter returns the selected filter.
func (c *Component) Filter() core.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filters[c.filter]
}

// FilterID returns the stored form of the selected filter.
func (c *Component) FilterID() string {
	return c.Filter().ID
}

// SelectController selects a chart by name. Unknown names select the
// first chart.
func (c *Component) SelectController(name string) {
	idx := slices.Index(c.charts, name)
	if idx < 0 {
		if name != "" {
			c.logger.Warn("unknown chart, using the first one", "chart", name, "fallback", c.charts[0])
		}
		idx = 0
	}

	c.mu.Lock()
	prev := c.controllers[c.charts[c.chart]]
	changed := idx != c.chart
	c.chart = idx
	c.mu.Unlock()

	if changed && prev != nil {
		prev.Cancel()
	}
}

// SelectFilter selects a filter by id. Unknown ids select the first filter.
func (c *Component) SelectFilter(id string) {
	if c.fixed {
		return
	}
	idx := slices.IndexFunc(c.filters, func(f core.Filter) bool { return f.ID == id })
	if idx < 0 {
		if id != "" {
			c.logger.Warn("unknown filter, using the first one", "filter", id)
		}
		idx = 0
	}
	c.mu.Lock()
	c.filter = idx
	c.mu.Unlock()
}

// Controller returns the controller of the selected chart, creating it on
// first use.
func (c *Component) Controller() (*chart.Controller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controllerLocked()
}

func (c *Component) controllerLocked() (*chart.Controller, error) {
	name := c.charts[c.chart]
	if ctrl, ok := c.controllers[name]; ok {
		return ctrl, nil
	}
	ctrl, err := c.factory.NewController(name, c.display)
	if err != nil {
		return nil, err
	}
	c.controllers[name] = ctrl
	return ctrl, nil
}

// Send requests data for the current selection.
func (c *Component) Send(opts datasource.RequestOptions) {
	c.mu.Lock()
	ctrl, err := c.controllerLocked()
	filter := c.filters[c.filter]
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("could not create chart", "error", err)
		c.display.ShowError("Could not create chart")
		return
	}
	ctrl.SendRequest(filter, core.GenParams{}, opts)
}

// Resize sets the display size and redraws the last data.
func (c *Component) Resize(width, height int) {
	if c.display.Width() == width && c.display.Height() == height {
		return
	}
	c.display.SetSize(width, height)
	c.Redraw()
}

// Redraw draws the selected chart's last data again.
func (c *Component) Redraw() {
	c.mu.Lock()
	ctrl := c.controllers[c.charts[c.chart]]
	c.mu.Unlock()
	if ctrl != nil {
		ctrl.Redraw()
	}
}

// MenuItems returns the selected chart's menu.
func (c *Component) MenuItems() []chart.MenuItem {
	c.mu.Lock()
	ctrl := c.controllers[c.charts[c.chart]]
	c.mu.Unlock()
	if ctrl == nil {
		return nil
	}
	return ctrl.MenuItems()
}

// Layout returns the stored form of the selection.
func (c *Component) Layout() ComponentLayout {
	return ComponentLayout{Chart: c.ChartName(), Filter: c.FilterID()}
}

// Close cancels requests and revokes exports of every created controller.
func (c *Component) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		ctrls := make([]*chart.Controller, 0, len(c.controllers))
		for _, ctrl := range c.controllers {
			ctrls = append(ctrls, ctrl)
		}
		c.mu.Unlock()
		for _, ctrl := range ctrls {
			ctrl.Close()
		}
	})
}
