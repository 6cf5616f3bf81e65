package chart

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/vulndash/internal/datasource"
	"github.com/leapstack-labs/vulndash/internal/testutil"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

func newTestController(t *testing.T, opts ...func(*ControllerConfig)) (*Controller, *fakeSource, *fakeDisplay, *recordingStore) {
	t.Helper()
	store := newRecordingStore()
	src := &fakeSource{}
	d := newFakeDisplay("box-1")
	cfg := ControllerConfig{
		Name:      "nvts-by-severity",
		Label:     "NVTs by severity",
		Source:    src,
		Generator: newGenerator(t, TypeBar, store),
		Display:   d,
		InitParams: core.GenParams{
			XField:  "value",
			YFields: []string{"count"},
			Extra:   map[string]string{"aggregate_type": "nvt", "ascending": "1"},
		},
		Logger: testutil.NewTestLogger(t),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewController(cfg), src, d, store
}

var noFilter core.Filter

func TestController_SendRequest(t *testing.T) {
	c, src, d, _ := newTestController(t)
	filter := core.Filter{ID: "f1", Name: "Mine"}

	c.SendRequest(filter, core.GenParams{ChartTemplate: "info"}, datasource.RequestOptions{})

	assert.Equal(t, "NVTs (Loading...) - Filter: Mine", d.title)
	assert.True(t, d.loading)
	require.Len(t, src.sent, 1)
	assert.Equal(t, filter, src.sent[0])
	assert.Equal(t, "info", src.params[0].ChartTemplate)
	assert.Equal(t, "value", src.params[0].XField, "init params fill the gaps")
	assert.Equal(t, "box-1", c.DisplayID())
}

func TestController_DataLoaded(t *testing.T) {
	c, _, d, _ := newTestController(t)
	filter := core.Filter{ID: "f1", Name: "Mine"}
	c.SendRequest(filter, core.GenParams{}, datasource.RequestOptions{})

	c.DataLoaded(filter, sampleData(), core.GenParams{XField: "value", YFields: []string{"count"}})

	assert.False(t, d.loading)
	assert.Equal(t, "NVTs (Total: 7) - Filter: Mine", d.title)
	require.Len(t, d.drawings, 1)
	assert.Equal(t, d.title, d.drawings[0].Title)
	assert.Equal(t, 1, d.clears, "first draw with a new generator clears the display")
	assert.Same(t, c.Generator(), d.last)

	require.Len(t, d.menu, 4)
	assert.Equal(t, "Show detached chart window", d.menu[0].Label)
	assert.Equal(t, "Download CSV", d.menu[1].Label)
	assert.Equal(t, "Show HTML table", d.menu[2].Label)
	assert.Equal(t, "Download SVG", d.menu[3].Label)

	c.DataLoaded(filter, sampleData(), core.GenParams{XField: "value", YFields: []string{"count"}})
	assert.Equal(t, 1, d.clears, "same generator redraws without clearing")
}

func TestController_DataLoadedFailureKeepsDisplay(t *testing.T) {
	var failures []error
	c, _, d, _ := newTestController(t, func(cfg *ControllerConfig) {
		cfg.OnDrawFailed = func(err error) { failures = append(failures, err) }
	})
	c.DataLoaded(noFilter, sampleData(), core.GenParams{XField: "value", YFields: []string{"count"}})
	require.Len(t, d.drawings, 1)
	require.Empty(t, failures)
	title := d.title

	c.DataLoaded(noFilter, sampleData(), core.GenParams{XField: "value", YFields: []string{"nope"}})
	assert.Len(t, d.drawings, 1)
	assert.Equal(t, title, d.title)
	assert.NotNil(t, d.SVG())
	assert.Empty(t, d.err)

	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrInvalidParams)
	assert.ErrorContains(t, failures[0], `"nope"`)
}

func TestController_TitleFollowsRequestedFilter(t *testing.T) {
	c, _, d, _ := newTestController(t)
	filter := core.Filter{ID: "f1", Name: "Renamed"}
	c.SendRequest(filter, core.GenParams{}, datasource.RequestOptions{})

	// The response still carries the filter's old name.
	c.DataLoaded(filter, sampleData(), core.GenParams{})

	require.Len(t, d.drawings, 1)
	assert.Equal(t, "NVTs (Total: 7) - Filter: Renamed", d.title)
	assert.Equal(t, d.title, d.drawings[0].Title)
}

func TestController_DropsLateDelivery(t *testing.T) {
	c, _, d, _ := newTestController(t)
	f1 := core.Filter{ID: "f1", Name: "First"}
	f2 := core.Filter{ID: "f2", Name: "Second"}
	params := core.GenParams{XField: "value", YFields: []string{"count"}}

	c.SendRequest(f1, core.GenParams{}, datasource.RequestOptions{})
	c.SendRequest(f2, core.GenParams{}, datasource.RequestOptions{})
	c.DataLoaded(f2, sampleData(), params)
	require.Len(t, d.drawings, 1)

	stale := sampleData()
	stale.Records = stale.Records[:1]
	c.DataLoaded(f1, stale, params)
	c.ShowError(f1, "Error while loading data")

	assert.Len(t, d.drawings, 1, "late data for the superseded filter is dropped")
	assert.Empty(t, d.err)
	assert.Equal(t, "NVTs (Total: 7) - Filter: Second", d.title)
}

func TestController_DrillDownLinks(t *testing.T) {
	params := core.GenParams{XField: "value", YFields: []string{"count"}}
	filter := core.Filter{ID: "f1", Name: "Mine"}

	t.Run("detached chart", func(t *testing.T) {
		c, _, d, _ := newTestController(t)
		c.SendRequest(filter, core.GenParams{}, datasource.RequestOptions{})
		c.DataLoaded(filter, sampleData(), params)

		require.Len(t, d.drawings, 1)
		links := d.drawings[0].Links
		require.Len(t, links, 2)
		assert.Equal(t, "High", links[0].Label)

		u, err := url.Parse(links[0].URL)
		require.NoError(t, err)
		assert.Equal(t, "/chart", u.Path)
		assert.Equal(t, "a=1 and value=High rows=10", u.Query().Get("filter"))
		assert.Empty(t, u.Query().Get("filt_id"))

		u, err = url.Parse(links[1].URL)
		require.NoError(t, err)
		assert.Equal(t, `a=1 and value="Say \"hi\"" rows=10`, u.Query().Get("filter"))
	})

	t.Run("url template", func(t *testing.T) {
		c, _, d, _ := newTestController(t, func(cfg *ControllerConfig) {
			cfg.DrillDownURL = "/omp?cmd=get_{type}s&filter={filter}"
		})
		c.SendRequest(filter, core.GenParams{}, datasource.RequestOptions{})
		c.DataLoaded(filter, sampleData(), params)

		require.Len(t, d.drawings, 1)
		assert.Equal(t, "/omp?cmd=get_nvts&filter="+url.QueryEscape("a=1 and value=High rows=10"), d.drawings[0].Links[0].URL)
	})

	t.Run("unfiltered records", func(t *testing.T) {
		c, _, d, _ := newTestController(t)
		data := sampleData()
		data.FilterInfo = nil
		data.Records = append(data.Records, core.Record{"count": 1.0})
		c.DataLoaded(noFilter, data, params)

		links := d.drawings[0].Links
		require.Len(t, links, 3)
		u, err := url.Parse(links[0].URL)
		require.NoError(t, err)
		assert.Equal(t, "value=High", u.Query().Get("filter"))
		assert.Empty(t, links[2].URL, "records without an x value get no link")
	})
}

func TestController_RegenerateRevokesExports(t *testing.T) {
	c, _, d, store := newTestController(t)
	params := core.GenParams{XField: "value", YFields: []string{"count"}}

	c.DataLoaded(noFilter, sampleData(), params)
	firstCSV := d.menu[1].URL
	c.DataLoaded(noFilter, sampleData(), params)
	secondCSV := d.menu[1].URL
	require.NotEqual(t, firstCSV, secondCSV)

	ops := store.operations()
	revokeAt, createAt := -1, -1
	for i, op := range ops {
		switch op {
		case "revoke " + firstCSV:
			revokeAt = i
		case "create " + secondCSV:
			createAt = i
		}
	}
	require.NotEqual(t, -1, revokeAt)
	assert.Less(t, revokeAt, createAt)
	_, ok := store.get(firstCSV)
	assert.False(t, ok)
}

func TestController_ShowErrorAndCancel(t *testing.T) {
	c, src, d, store := newTestController(t)
	filter := core.Filter{ID: "f2"}
	c.SendRequest(filter, core.GenParams{}, datasource.RequestOptions{})

	c.ShowError(filter, "Error while loading data: Bogus")
	assert.False(t, d.loading)
	assert.Equal(t, "Error while loading data: Bogus", d.err)

	c.DataLoaded(filter, sampleData(), core.GenParams{})
	c.Close()
	require.Len(t, src.removed, 1)
	assert.Equal(t, filter, src.removed[0])
	for _, item := range d.menu[1:] {
		_, ok := store.get(item.URL)
		assert.False(t, ok, "closing revokes %s", item.URL)
	}
}

func TestController_Redraw(t *testing.T) {
	c, _, d, _ := newTestController(t)
	c.Redraw()
	assert.Empty(t, d.drawings)

	c.DataLoaded(noFilter, sampleData(), core.GenParams{XField: "value", YFields: []string{"count"}})
	d.SetSize(200, 100)
	c.Redraw()
	require.Len(t, d.drawings, 2)
	assert.Equal(t, 200, d.drawings[1].Width)
}

func TestController_DetachedURL(t *testing.T) {
	c, _, _, _ := newTestController(t)
	c.SendRequest(core.Filter{ID: "f1", Term: "a=1 rows=10"}, core.GenParams{
		ZFields: []string{"c_count"},
		Extra:   map[string]string{"levels": "hml"},
	}, datasource.RequestOptions{})

	raw := c.DetachedURL(core.Filter{ID: "f1", Term: "a=1 rows=10"})
	require.True(t, strings.HasPrefix(raw, "/chart?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "nvts-by-severity", q.Get("chart"))
	assert.Equal(t, "get_aggregate", q.Get("cmd"))
	assert.Equal(t, "f1", q.Get("filt_id"))
	assert.Equal(t, "a=1 rows=10", q.Get("filter"))
	assert.Equal(t, "value", q.Get("x_field"))
	assert.Equal(t, "count", q.Get("y_fields:0"))
	assert.Equal(t, "c_count", q.Get("z_fields:0"))
	assert.Equal(t, "hml", q.Get("levels"))
	assert.Equal(t, "1", q.Get("ascending"))
	assert.Equal(t, "severity", q.Get("group_column"))

	decoded := DecodeParams(q, url.Values{"aggregate_type": nil, "group_column": nil})
	assert.Equal(t, "value", decoded.XField)
	assert.Equal(t, []string{"count"}, decoded.YFields)
	assert.Equal(t, []string{"c_count"}, decoded.ZFields)
	assert.Equal(t, map[string]string{"levels": "hml", "ascending": "1"}, decoded.Extra)
}

func TestMergeParams(t *testing.T) {
	base := core.GenParams{XField: "value", YFields: []string{"count"}, Extra: map[string]string{"a": "1"}}
	got := MergeParams(base, core.GenParams{YFields: []string{"c_count"}, Extra: map[string]string{"b": "2"}})

	assert.Equal(t, "value", got.XField)
	assert.Equal(t, []string{"c_count"}, got.YFields)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got.Extra)
	assert.Equal(t, map[string]string{"a": "1"}, base.Extra, "base is not modified")
}
