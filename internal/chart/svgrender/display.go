package svgrender

import (
	"slices"
	"sync"

	vchart "github.com/leapstack-labs/vulndash/internal/chart"
)

// State is a point-in-time copy of a display.
type State struct {
	ID      string            `json:"id"`
	Title   string            `json:"title"`
	Loading bool              `json:"loading"`
	Error   string            `json:"error,omitempty"`
	Width   int               `json:"width"`
	Height  int               `json:"height"`
	Type    string            `json:"type,omitempty"`
	SVG     string            `json:"svg,omitempty"`
	Menu    []vchart.MenuItem `json:"menu,omitempty"`
	Links   []vchart.Link     `json:"links,omitempty"`
}

// Display keeps the rendered state of one chart box in memory.
type Display struct {
	id       string
	onChange func(id string)

	mu       sync.RWMutex
	width    int
	height   int
	title    string
	loading  bool
	err      string
	drawType string
	svg      []byte
	last     vchart.Generator
	menu     []vchart.MenuItem
	links    []vchart.Link
}

var _ vchart.Display = (*Display)(nil)

// New creates a display. onChange, if set, is called after every visible
// change, outside the display lock.
func New(id string, width, height int, onChange func(id string)) *Display {
	return &Display{id: id, width: width, height: height, onChange: onChange}
}

func (d *Display) changed() {
	if d.onChange != nil {
		d.onChange(d.id)
	}
}

func (d *Display) ID() string { return d.id }

func (d *Display) Width() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.width
}

func (d *Display) Height() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.height
}

func (d *Display) SetSize(width, height int) {
	d.mu.Lock()
	d.width, d.height = width, height
	d.mu.Unlock()
}

func (d *Display) SetTitle(title string) {
	d.mu.Lock()
	d.title = title
	d.mu.Unlock()
	d.changed()
}

func (d *Display) ShowLoading() {
	d.mu.Lock()
	d.loading = true
	d.mu.Unlock()
	d.changed()
}

func (d *Display) HideLoading() {
	d.mu.Lock()
	d.loading = false
	d.mu.Unlock()
	d.changed()
}

// ShowError replaces the chart body with msg.
func (d *Display) ShowError(msg string) {
	d.mu.Lock()
	d.err = msg
	d.svg = nil
	d.links = nil
	d.mu.Unlock()
	d.changed()
}

func (d *Display) Clear() {
	d.mu.Lock()
	d.svg = nil
	d.links = nil
	d.drawType = ""
	d.mu.Unlock()
}

func (d *Display) Draw(dr vchart.Drawing) error {
	svg, err := Render(dr)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.svg = svg
	d.drawType = dr.Type
	d.links = slices.Clone(dr.Links)
	d.err = ""
	d.mu.Unlock()
	d.changed()
	return nil
}

func (d *Display) SVG() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.svg)
}

func (d *Display) LastGenerator() vchart.Generator {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.last
}

func (d *Display) SetLastGenerator(g vchart.Generator) {
	d.mu.Lock()
	d.last = g
	d.mu.Unlock()
}

func (d *Display) SetMenuItems(items []vchart.MenuItem) {
	d.mu.Lock()
	d.menu = slices.Clone(items)
	d.mu.Unlock()
	d.changed()
}

// Snapshot copies the current state.
func (d *Display) Snapshot() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return State{
		ID:      d.id,
		Title:   d.title,
		Loading: d.loading,
		Error:   d.err,
		Width:   d.width,
		Height:  d.height,
		Type:    d.drawType,
		SVG:     string(d.svg),
		Menu:    slices.Clone(d.menu),
		Links:   slices.Clone(d.links),
	}
}
