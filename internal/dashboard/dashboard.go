// Package dashboard holds the editable chart grid: rows of chart boxes,
// their persisted layout and the view/edit mode state machine.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/leapstack-labs/vulndash/internal/config"
	"github.com/leapstack-labs/vulndash/internal/datasource"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// Sentinel errors.
var (
	ErrNotEditing       = errors.New("dashboard: not in edit mode")
	ErrDashboardFull    = errors.New("dashboard: maximum number of components reached")
	ErrRowFull          = errors.New("dashboard: row is full")
	ErrUnknownRow       = errors.New("dashboard: unknown row")
	ErrUnknownComponent = errors.New("dashboard: unknown component")
	ErrNoCharts         = errors.New("dashboard: no charts available")
)

// Row grid constraints in pixels.
const (
	RowGrid      = 10
	MinRowHeight = 150
)

// DefaultRedrawDelay debounces redraws after a resize.
const DefaultRedrawDelay = 50 * time.Millisecond

// Drop targets creating a new row.
const (
	NewRowTop    = "new-top"
	NewRowBottom = "new-bottom"
)

// Mode is the dashboard state.
type Mode int

// Dashboard modes.
const (
	ModeView Mode = iota
	ModeEdit
)

func (m Mode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "view"
}

// LayoutReorderer is the drag/drop and resize adapter of a front end.
type LayoutReorderer interface {
	SetEditable(editable bool)
}

// ReorderHandler receives the adapter's events.
type ReorderHandler interface {
	OnReorder(componentID, targetRowID string, index int) error
	OnResizeRow(rowID string, height int) error
}

// Config wires a dashboard.
type Config struct {
	ID string

	// Charts are the candidate charts of every chart box.
	Charts        []string
	Filters       []core.Filter
	FixedFilter   *core.Filter
	DefaultLayout Layout
	Preferences   config.PreferenceIDs
	Limits        config.LayoutLimits

	Controllers ControllerFactory
	Displays    DisplayFactory
	Saver       *Saver
	Reorderer   LayoutReorderer
	Logger      *slog.Logger
	RedrawDelay time.Duration
}

// Row is an ordered group of components sharing one height.
type Row struct {
	id         string
	height     int
	components []*Component
}

// ID returns the row id.
func (r *Row) ID() string { return r.id }

// Height returns the row height in pixels.
func (r *Row) Height() int { return r.height }

// Components returns the row's components in order.
func (r *Row) Components() []*Component { return slices.Clone(r.components) }

// Dashboard is safe for concurrent use.
type Dashboard struct {
	cfg     Config
	filters []core.Filter
	logger  *slog.Logger

	mu       sync.Mutex
	mode     Mode
	rows     []*Row
	total    int
	nextRow  int
	nextComp int
	width    int
	height   int
	timer    *time.Timer
	closed   bool
}

var _ ReorderHandler = (*Dashboard)(nil)

// New creates an empty dashboard. Call Load to build its rows.
func New(cfg Config) (*Dashboard, error) {
	if len(cfg.Charts) == 0 {
		return nil, ErrNoCharts
	}
	if cfg.Controllers == nil || cfg.Displays == nil {
		return nil, fmt.Errorf("dashboard %q: controller and display factories are required", cfg.ID)
	}
	if cfg.Saver == nil {
		cfg.Saver = NewSaver(nil, "", nil, nil)
	}
	if cfg.RedrawDelay <= 0 {
		cfg.RedrawDelay = DefaultRedrawDelay
	}
	limits := cfg.Limits
	if limits == (config.LayoutLimits{}) {
		limits = config.DefaultLayoutLimits()
	}
	cfg.Limits = limits
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	filters := []core.Filter{{}}
	if cfg.FixedFilter != nil {
		filters = []core.Filter{*cfg.FixedFilter}
	} else {
		filters = append(filters, cfg.Filters...)
	}

	return &Dashboard{
		cfg:     cfg,
		filters: filters,
		logger:  logger.With("dashboard", cfg.ID),
		width:   limits.Width,
	}, nil
}

// ID returns the dashboard id.
func (d *Dashboard) ID() string { return d.cfg.ID }

// Load restores the stored layout, falling back to the default layout,
// builds the rows and requests data for every component.
func (d *Dashboard) Load(ctx context.Context) error {
	prefs := d.cfg.Preferences
	controllers, ok, err := d.cfg.Saver.Load(ctx, prefs.Controllers)
	if err != nil {
		return fmt.Errorf("load layout: %w", err)
	}

	layout := d.cfg.DefaultLayout
	if ok {
		heights, _, err := d.cfg.Saver.Load(ctx, prefs.Heights)
		if err != nil {
			return fmt.Errorf("load layout heights: %w", err)
		}
		filters, _, err := d.cfg.Saver.Load(ctx, prefs.Filters)
		if err != nil {
			return fmt.Errorf("load layout filters: %w", err)
		}
		layout = ParseLayout(controllers, heights, filters)
	}

	d.mu.Lock()
	for _, rl := range layout.Rows {
		if d.total >= d.cfg.Limits.MaxComponents {
			break
		}
		row := d.newRowLocked(rl.Height)
		for _, cl := range rl.Components {
			if d.total >= d.cfg.Limits.MaxComponents {
				break
			}
			row.components = append(row.components, d.newComponentLocked(cl))
			d.total++
		}
		if len(row.components) > 0 {
			d.rows = append(d.rows, row)
		}
	}
	d.resizeLocked()
	comps := d.componentsLocked()
	d.mu.Unlock()

	for _, c := range comps {
		c.Send(datasource.RequestOptions{})
	}
	return nil
}

func (d *Dashboard) newRowLocked(height int) *Row {
	d.nextRow++
	if height <= 0 {
		height = d.cfg.Limits.RowHeight
	}
	return &Row{id: fmt.Sprintf("%s-row-%d", d.cfg.ID, d.nextRow), height: snapHeight(height)}
}

func (d *Dashboard) newComponentLocked(cl ComponentLayout) *Component {
	d.nextComp++
	id := fmt.Sprintf("%s-box-%d", d.cfg.ID, d.nextComp)
	display := d.cfg.Displays(id, 0, 0)
	c := newComponent(id, display, d.cfg.Controllers, d.cfg.Charts, d.filters, d.cfg.FixedFilter != nil, d.logger)
	c.SelectController(cl.Chart)
	c.SelectFilter(cl.Filter)
	return c
}

// Mode returns the current mode.
func (d *Dashboard) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// StartEdit enters edit mode.
func (d *Dashboard) StartEdit() {
	d.setMode(ModeEdit)
}

// StopEdit returns to view mode.
func (d *Dashboard) StopEdit() {
	d.setMode(ModeView)
}

func (d *Dashboard) setMode(m Mode) {
	d.mu.Lock()
	changed := d.mode != m
	d.mode = m
	d.mu.Unlock()
	if changed && d.cfg.Reorderer != nil {
		d.cfg.Reorderer.SetEditable(m == ModeEdit)
	}
}

// Rows returns the current rows.
func (d *Dashboard) Rows() []*Row {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.rows)
}

// TotalComponents returns the number of chart boxes.
func (d *Dashboard) TotalComponents() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.total
}

// Layout returns the nested layout of the current rows.
func (d *Dashboard) Layout() Layout {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.layoutLocked()
}

func (d *Dashboard) layoutLocked() Layout {
	l := Layout{Rows: make([]RowLayout, 0, len(d.rows))}
	for _, r := range d.rows {
		rl := RowLayout{Height: r.height}
		for _, c := range r.components {
			rl.Components = append(rl.Components, c.Layout())
		}
		l.Rows = append(l.Rows, rl)
	}
	return l
}

// Component looks up a component by id.
func (d *Dashboard) Component(id string) (*Component, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, _, c := d.findComponentLocked(id)
	return c, c != nil
}

func (d *Dashboard) findComponentLocked(id string) (rowIdx, compIdx int, c *Component) {
	for i, r := range d.rows {
		for j, comp := range r.components {
			if comp.id == id {
				return i, j, comp
			}
		}
	}
	return -1, -1, nil
}

func (d *Dashboard) findRowLocked(id string) int {
	return slices.IndexFunc(d.rows, func(r *Row) bool { return r.id == id })
}

func (d *Dashboard) componentsLocked() []*Component {
	out := make([]*Component, 0, d.total)
	for _, r := range d.rows {
		out = append(out, r.components...)
	}
	return out
}

// AddComponent adds a chart box into the first row with capacity, or a
// new bottom row, and requests its data.
func (d *Dashboard) AddComponent(chartName, filterID string) (*Component, error) {
	d.mu.Lock()
	if d.total >= d.cfg.Limits.MaxComponents {
		d.mu.Unlock()
		return nil, ErrDashboardFull
	}

	c := d.newComponentLocked(ComponentLayout{Chart: chartName, Filter: filterID})
	idx := slices.IndexFunc(d.rows, func(r *Row) bool { return len(r.components) < d.cfg.Limits.MaxPerRow })
	if idx < 0 {
		d.rows = append(d.rows, d.newRowLocked(0))
		idx = len(d.rows) - 1
	}
	d.rows[idx].components = append(d.rows[idx].components, c)
	d.total++
	d.mu.Unlock()

	d.UpdateRows()
	c.Send(datasource.RequestOptions{})
	return c, nil
}

// RemoveComponent closes and removes a chart box. Removing the last box of
// a row removes the row.
func (d *Dashboard) RemoveComponent(id string) error {
	d.mu.Lock()
	if d.mode != ModeEdit {
		d.mu.Unlock()
		return ErrNotEditing
	}
	ri, ci, c := d.findComponentLocked(id)
	if c == nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownComponent, id)
	}
	d.rows[ri].components = slices.Delete(d.rows[ri].components, ci, ci+1)
	d.total--
	d.mu.Unlock()

	c.Close()
	d.UpdateRows()
	return nil
}

// OnReorder moves a component to index within the target row. The
// targets NewRowTop and NewRowBottom create a row for it.
func (d *Dashboard) OnReorder(componentID, targetRowID string, index int) error {
	d.mu.Lock()
	if d.mode != ModeEdit {
		d.mu.Unlock()
		return ErrNotEditing
	}
	ri, ci, c := d.findComponentLocked(componentID)
	if c == nil {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownComponent, componentID)
	}

	var target *Row
	switch targetRowID {
	case NewRowTop:
		target = d.newRowLocked(0)
		d.rows = slices.Insert(d.rows, 0, target)
		ri++
	case NewRowBottom:
		target = d.newRowLocked(0)
		d.rows = append(d.rows, target)
	default:
		ti := d.findRowLocked(targetRowID)
		if ti < 0 {
			d.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownRow, targetRowID)
		}
		target = d.rows[ti]
		if ti != ri && len(target.components) >= d.cfg.Limits.MaxPerRow {
			d.mu.Unlock()
			return ErrRowFull
		}
	}

	source := d.rows[ri]
	source.components = slices.Delete(source.components, ci, ci+1)
	index = max(0, min(index, len(target.components)))
	target.components = slices.Insert(target.components, index, c)
	d.mu.Unlock()

	d.UpdateRows()
	return nil
}

// OnResizeRow sets a row height, snapped to the grid.
func (d *Dashboard) OnResizeRow(rowID string, height int) error {
	d.mu.Lock()
	if d.mode != ModeEdit {
		d.mu.Unlock()
		return ErrNotEditing
	}
	ri := d.findRowLocked(rowID)
	if ri < 0 {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownRow, rowID)
	}
	d.rows[ri].height = snapHeight(height)
	d.mu.Unlock()

	d.UpdateRows()
	return nil
}

// SelectChart switches the chart of a component and requests its data.
func (d *Dashboard) SelectChart(componentID, chartName string) error {
	c, ok := d.Component(componentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, componentID)
	}
	c.SelectController(chartName)
	d.UpdateRows()
	c.Send(datasource.RequestOptions{})
	return nil
}

// SelectFilter switches the filter of a component and requests its data.
func (d *Dashboard) SelectFilter(componentID, filterID string) error {
	c, ok := d.Component(componentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownComponent, componentID)
	}
	c.SelectFilter(filterID)
	d.UpdateRows()
	c.Send(datasource.RequestOptions{})
	return nil
}

// UpdateRows drops empty rows, resizes the remaining components and
// persists each layout string that changed.
func (d *Dashboard) UpdateRows() {
	d.mu.Lock()
	d.rows = slices.DeleteFunc(d.rows, func(r *Row) bool { return len(r.components) == 0 })
	d.total = 0
	for _, r := range d.rows {
		d.total += len(r.components)
	}
	d.resizeLocked()
	controllers, heights, filters := d.layoutLocked().Strings()
	d.mu.Unlock()

	prefs := d.cfg.Preferences
	d.cfg.Saver.Save(prefs.Controllers, controllers)
	d.cfg.Saver.Save(prefs.Heights, heights)
	d.cfg.Saver.Save(prefs.Filters, filters)
}

// Resize records the available size. When a dimension changed, the
// redraw runs once the size has been stable for the redraw delay.
func (d *Dashboard) Resize(width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || (width == d.width && height == d.height) {
		return
	}
	d.width = width
	d.height = height
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.cfg.RedrawDelay, d.redraw)
}

func (d *Dashboard) redraw() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.resizeLocked()
	d.mu.Unlock()
}

// resizeLocked sizes every component from the dashboard width and its
// row height.
func (d *Dashboard) resizeLocked() {
	l := d.cfg.Limits
	for _, r := range d.rows {
		if len(r.components) == 0 {
			continue
		}
		w := d.width / len(r.components)
		h := max(r.height-l.HeaderHeight-l.FooterHeight-l.Padding, 0)
		for _, c := range r.components {
			c.Resize(w, h)
		}
	}
}

// Refresh re-requests every component's data, bypassing the caches.
func (d *Dashboard) Refresh() {
	d.mu.Lock()
	comps := d.componentsLocked()
	d.mu.Unlock()
	for _, c := range comps {
		c.Send(datasource.RequestOptions{Reload: true})
	}
}

// Close stops pending redraws, closes all components and waits for
// layout saves to finish.
func (d *Dashboard) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	comps := d.componentsLocked()
	d.mu.Unlock()

	for _, c := range comps {
		c.Close()
	}
	d.cfg.Saver.Wait()
}

func snapHeight(h int) int {
	h = (h + RowGrid/2) / RowGrid * RowGrid
	return max(h, MinRowHeight)
}
