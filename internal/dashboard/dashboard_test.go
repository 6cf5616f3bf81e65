package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/vulndash/internal/chart/svgrender"
	"github.com/leapstack-labs/vulndash/internal/testutil"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

var defaultLayout = Layout{Rows: []RowLayout{
	{Height: 300, Components: []ComponentLayout{{Chart: "A", Filter: "f1"}, {Chart: "B", Filter: "f2"}}},
	{Height: 200, Components: []ComponentLayout{{Chart: "C", Filter: "f3"}}},
}}

func withDefaultLayout(c *Config) { c.DefaultLayout = defaultLayout }

// waitDrawn waits until every chart box has drawn and published its menu.
func waitDrawn(t *testing.T, d *Dashboard) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, r := range d.Rows() {
			for _, c := range r.Components() {
				snap := c.Display().(*svgrender.Display).Snapshot()
				if snap.Loading || len(snap.Menu) == 0 {
					return false
				}
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDashboard_LayoutRoundTripThroughStore(t *testing.T) {
	h := newHarness(t)
	cfg := h.config(t, withDefaultLayout)
	d1, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, d1.Load(context.Background()))
	assert.Equal(t, defaultLayout, d1.Layout())

	d1.UpdateRows()
	d1.Close()

	assert.ElementsMatch(t, []string{
		"dash-controllers=A|B#C",
		"dash-heights=300#200",
		"dash-filters=f1|f2#f3",
	}, h.store.writeLog())

	// A second mount ignores the default layout in favor of the stored one.
	d2 := h.load(t, h.config(t))
	assert.Equal(t, defaultLayout, d2.Layout())
	assert.Equal(t, 3, d2.TotalComponents())
	assert.Equal(t, "f2", d2.Rows()[0].Components()[1].FilterID())
}

func TestDashboard_EditOnlyOperations(t *testing.T) {
	h := newHarness(t)
	d := h.load(t, h.config(t, withDefaultLayout))
	rows := d.Rows()
	compID := rows[0].Components()[0].ID()

	assert.Equal(t, ModeView, d.Mode())
	assert.ErrorIs(t, d.RemoveComponent(compID), ErrNotEditing)
	assert.ErrorIs(t, d.OnReorder(compID, rows[1].ID(), 0), ErrNotEditing)
	assert.ErrorIs(t, d.OnResizeRow(rows[0].ID(), 400), ErrNotEditing)

	d.StartEdit()
	d.StartEdit()
	assert.Equal(t, ModeEdit, d.Mode())
	d.StopEdit()
	assert.Equal(t, ModeView, d.Mode())
	assert.Equal(t, []bool{true, false}, h.reorderer.calls)
}

func TestDashboard_AddComponent(t *testing.T) {
	h := newHarness(t)
	cfg := h.config(t, func(c *Config) {
		c.Limits.MaxPerRow = 2
		c.Limits.MaxComponents = 4
		c.DefaultLayout = Layout{Rows: []RowLayout{{Components: []ComponentLayout{{Chart: "A"}, {Chart: "B"}}}}}
	})
	d := h.load(t, cfg)

	_, err := d.AddComponent("C", "f3")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A", "B"}, {"C"}}, chartNames(d))

	c, err := d.AddComponent("A", "")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A", "B"}, {"C", "A"}}, chartNames(d))
	assert.Equal(t, core.Filter{}, c.Filter())

	_, err = d.AddComponent("B", "")
	assert.ErrorIs(t, err, ErrDashboardFull)
	assert.Equal(t, 4, d.TotalComponents())

	// New rows get the default height.
	assert.Equal(t, cfg.Limits.RowHeight, d.Rows()[1].Height())
}

func TestDashboard_ConcurrentAddRespectsLimit(t *testing.T) {
	h := newHarness(t)
	cfg := h.config(t, func(c *Config) {
		c.Limits.MaxComponents = 4
		c.DefaultLayout = Layout{Rows: []RowLayout{{Components: []ComponentLayout{{Chart: "A"}, {Chart: "B"}}}}}
	})
	d := h.load(t, cfg)

	var (
		wg    sync.WaitGroup
		added atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.AddComponent("C", ""); err == nil {
				added.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), added.Load())
	assert.Equal(t, 4, d.TotalComponents())
	var n int
	for _, row := range chartNames(d) {
		n += len(row)
	}
	assert.Equal(t, 4, n)
}

func TestDashboard_RemoveLastComponentRemovesRow(t *testing.T) {
	h := newHarness(t)
	d := h.load(t, h.config(t, withDefaultLayout))
	d.StartEdit()

	last := d.Rows()[1].Components()[0]
	require.NoError(t, d.RemoveComponent(last.ID()))
	assert.Equal(t, [][]string{{"A", "B"}}, chartNames(d))
	assert.Equal(t, 2, d.TotalComponents())

	_, ok := d.Component(last.ID())
	assert.False(t, ok)
	assert.ErrorIs(t, d.RemoveComponent(last.ID()), ErrUnknownComponent)
}

func TestDashboard_OnReorder(t *testing.T) {
	h := newHarness(t)
	d := h.load(t, h.config(t, withDefaultLayout, func(c *Config) { c.Limits.MaxPerRow = 2 }))
	d.StartEdit()

	rows := d.Rows()
	a, b := rows[0].Components()[0], rows[0].Components()[1]

	require.NoError(t, d.OnReorder(b.ID(), rows[1].ID(), 0))
	assert.Equal(t, [][]string{{"A"}, {"B", "C"}}, chartNames(d))

	require.NoError(t, d.OnReorder(a.ID(), NewRowBottom, 0))
	assert.Equal(t, [][]string{{"B", "C"}, {"A"}}, chartNames(d), "emptied row is dropped")

	full := d.Rows()[0].ID()
	assert.ErrorIs(t, d.OnReorder(a.ID(), full, 0), ErrRowFull)

	require.NoError(t, d.OnReorder(a.ID(), NewRowTop, 0))
	assert.Equal(t, [][]string{{"A"}, {"B", "C"}}, chartNames(d))

	// Moving within a full row is allowed.
	require.NoError(t, d.OnReorder(b.ID(), d.Rows()[1].ID(), 5))
	assert.Equal(t, [][]string{{"A"}, {"C", "B"}}, chartNames(d))

	assert.ErrorIs(t, d.OnReorder(a.ID(), "nope", 0), ErrUnknownRow)
}

func TestDashboard_ResizeRowSavesOnlyChangedStrings(t *testing.T) {
	h := newHarness(t)
	cfg := h.config(t, withDefaultLayout)
	d := h.load(t, cfg)
	d.UpdateRows()
	cfg.Saver.Wait()
	h.store.resetWrites()

	d.StartEdit()
	row := d.Rows()[0]
	require.NoError(t, d.OnResizeRow(row.ID(), 287))
	cfg.Saver.Wait()

	assert.Equal(t, 290, d.Rows()[0].Height())
	assert.Equal(t, []string{"dash-heights=290#200"}, h.store.writeLog())

	// Components share the row width and fit below header and footer.
	for _, c := range d.Rows()[0].Components() {
		assert.Equal(t, 600, c.Display().Width())
		assert.Equal(t, 290-20-20-20, c.Display().Height())
	}

	h.store.resetWrites()
	d.UpdateRows()
	cfg.Saver.Wait()
	assert.Empty(t, h.store.writeLog(), "unchanged layout is not saved again")

	require.NoError(t, d.OnResizeRow(row.ID(), 40))
	assert.Equal(t, MinRowHeight, d.Rows()[0].Height())
}

func TestDashboard_SelectionFallback(t *testing.T) {
	h := newHarness(t)
	logger, logs := testutil.NewCaptureLogger()
	d := h.load(t, h.config(t, withDefaultLayout, func(c *Config) { c.Logger = logger }))

	comp := d.Rows()[0].Components()[1]
	require.NoError(t, d.SelectChart(comp.ID(), "C"))
	assert.Equal(t, "C", comp.ChartName())

	require.NoError(t, d.SelectChart(comp.ID(), "missing"))
	assert.Equal(t, "A", comp.ChartName())
	assert.Contains(t, logs.String(), "unknown chart")

	require.NoError(t, d.SelectFilter(comp.ID(), "zzz"))
	assert.Equal(t, core.Filter{}, comp.Filter())
	assert.Contains(t, logs.String(), "unknown filter")

	require.NoError(t, d.SelectFilter(comp.ID(), "f3"))
	assert.Equal(t, "Three", comp.Filter().Name)

	assert.ErrorIs(t, d.SelectChart("nope", "A"), ErrUnknownComponent)
}

func TestDashboard_StoredLayoutWithUnknownNames(t *testing.T) {
	h := newHarness(t)
	h.store.values["user-1/dash-controllers"] = "A|gone"
	h.store.values["user-1/dash-filters"] = "f1|old"

	logger, logs := testutil.NewCaptureLogger()
	d := h.load(t, h.config(t, func(c *Config) { c.Logger = logger }))

	assert.Equal(t, [][]string{{"A", "A"}}, chartNames(d))
	assert.Equal(t, "", d.Rows()[0].Components()[1].FilterID())
	assert.Equal(t, 280, d.Rows()[0].Height(), "missing height uses the default")
	assert.Contains(t, logs.String(), "gone")
}

func TestDashboard_FixedFilter(t *testing.T) {
	h := newHarness(t)
	fixed := core.Filter{ID: "fx", Name: "Fixed"}
	d := h.load(t, h.config(t, withDefaultLayout, func(c *Config) { c.FixedFilter = &fixed }))

	for _, r := range d.Rows() {
		for _, c := range r.Components() {
			assert.Equal(t, fixed, c.Filter())
			assert.False(t, c.FilterSelectable())
			c.SelectFilter("f1")
			assert.Equal(t, fixed, c.Filter())
		}
	}
}

func TestDashboard_ResizeDebounce(t *testing.T) {
	h := newHarness(t)
	d := h.load(t, h.config(t, withDefaultLayout, func(c *Config) { c.RedrawDelay = 20 * time.Millisecond }))
	comp := d.Rows()[0].Components()[0]
	require.Equal(t, 600, comp.Display().Width())

	d.Resize(800, 600)
	d.Resize(900, 600)

	require.Eventually(t, func() bool {
		return comp.Display().Width() == 450
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 900, d.Rows()[1].Components()[0].Display().Width())
}

func TestDashboard_Refresh(t *testing.T) {
	h := newHarness(t)
	d := h.load(t, h.config(t, withDefaultLayout))
	waitDrawn(t, d)
	assert.EqualValues(t, 3, h.fetcher.calls.Load(), "one fetch per filter")

	d.Refresh()
	require.Eventually(t, func() bool {
		return h.fetcher.calls.Load() == 6
	}, 2*time.Second, 5*time.Millisecond)
	waitDrawn(t, d)

	snap := d.Rows()[0].Components()[0].Display().(*svgrender.Display).Snapshot()
	assert.Empty(t, snap.Error)
	assert.NotEmpty(t, snap.Menu)
}

func TestDashboard_ControllerFailure(t *testing.T) {
	h := newHarness(t)
	d := h.load(t, h.config(t, func(c *Config) {
		c.Charts = []string{"broken", "A"}
		c.DefaultLayout = Layout{Rows: []RowLayout{{Components: []ComponentLayout{{Chart: "broken"}}}}}
	}))

	snap := d.Rows()[0].Components()[0].Display().(*svgrender.Display).Snapshot()
	assert.Equal(t, "Could not create chart", snap.Error)
}

func TestNew_Validation(t *testing.T) {
	h := newHarness(t)
	_, err := New(h.config(t, func(c *Config) { c.Charts = nil }))
	assert.ErrorIs(t, err, ErrNoCharts)

	_, err = New(h.config(t, func(c *Config) { c.Displays = nil }))
	assert.Error(t, err)
}

func TestDashboard_CloseRevokesExports(t *testing.T) {
	h := newHarness(t)
	d, err := New(h.config(t, withDefaultLayout))
	require.NoError(t, err)
	require.NoError(t, d.Load(context.Background()))
	waitDrawn(t, d)
	require.Positive(t, h.factory.store.Len())

	d.Close()
	assert.Zero(t, h.factory.store.Len())
	d.Close()
}
