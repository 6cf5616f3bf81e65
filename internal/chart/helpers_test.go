package chart

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/leapstack-labs/vulndash/internal/datasource"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

const drawnSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 10 10">` +
	`<g class="legend remove_on_static"><rect width="1" height="1"/><text>hover</text></g>` +
	`<rect class="bar" width="5" height="5"/></svg>`

type fakeDisplay struct {
	mu       sync.Mutex
	id       string
	w, h     int
	title    string
	loading  bool
	err      string
	drawings []Drawing
	clears   int
	last     Generator
	menu     []MenuItem
	svg      []byte
}

func newFakeDisplay(id string) *fakeDisplay {
	return &fakeDisplay{id: id, w: 400, h: 250}
}

func (d *fakeDisplay) ID() string { return d.id }
func (d *fakeDisplay) Width() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.w
}
func (d *fakeDisplay) Height() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.h
}
func (d *fakeDisplay) SetSize(w, h int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.w, d.h = w, h
}
func (d *fakeDisplay) SetTitle(title string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.title = title
}
func (d *fakeDisplay) ShowLoading() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loading = true
}
func (d *fakeDisplay) HideLoading() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loading = false
}
func (d *fakeDisplay) ShowError(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = msg
}
func (d *fakeDisplay) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clears++
	d.svg = nil
}
func (d *fakeDisplay) Draw(dr Drawing) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drawings = append(d.drawings, dr)
	d.svg = []byte(drawnSVG)
	d.err = ""
	return nil
}
func (d *fakeDisplay) SVG() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.svg
}
func (d *fakeDisplay) LastGenerator() Generator {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}
func (d *fakeDisplay) SetLastGenerator(g Generator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = g
}
func (d *fakeDisplay) SetMenuItems(items []MenuItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.menu = items
}

// recordingStore logs blob operations in order.
type recordingStore struct {
	mu   sync.Mutex
	n    int
	ops  []string
	live map[string][]byte
}

func newRecordingStore() *recordingStore {
	return &recordingStore{live: make(map[string][]byte)}
}

func (s *recordingStore) Create(data []byte, _, filename string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	u := fmt.Sprintf("blob:%d:%s", s.n, filename)
	s.live[u] = data
	s.ops = append(s.ops, "create "+u)
	return u
}

func (s *recordingStore) Revoke(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, u)
	s.ops = append(s.ops, "revoke "+u)
}

func (s *recordingStore) get(u string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.live[u]
	return b, ok
}

func (s *recordingStore) operations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

// fakeSource records requests; tests deliver data by hand.
type fakeSource struct {
	mu      sync.Mutex
	sent    []core.Filter
	removed []core.Filter
	params  []core.GenParams
}

func (s *fakeSource) SendRequest(_ datasource.Requester, filter core.Filter, params core.GenParams, _ datasource.RequestOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, filter)
	s.params = append(s.params, params)
}

func (s *fakeSource) RemoveRequest(_ datasource.Requester, filter core.Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, filter)
}

func (s *fakeSource) Name() string    { return "nvts" }
func (s *fakeSource) Command() string { return "get_aggregate" }
func (s *fakeSource) Params() url.Values {
	return url.Values{"aggregate_type": {"nvt"}, "group_column": {"severity"}}
}

func sampleData() *core.Data {
	ci := core.NewColumnInfo()
	ci.Columns["value"] = &core.Column{Name: "value", Stat: "value", DataType: "text"}
	ci.Columns["count"] = &core.Column{Name: "count", Stat: "count", DataType: "integer"}
	return &core.Data{
		ColumnInfo: ci,
		Records: []core.Record{
			{"value": "High", "count": 3.0},
			{"value": `Say "hi"`, "count": 4.0},
		},
		FilterInfo: &core.FilterInfo{ID: "f1", Name: "Mine", CriteriaStr: "a=1", ExtraOptionsStr: "rows=10"},
	}
}
