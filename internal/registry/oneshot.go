package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/leapstack-labs/vulndash/internal/blob"
	"github.com/leapstack-labs/vulndash/internal/chart"
	"github.com/leapstack-labs/vulndash/internal/chart/svgrender"
	"github.com/leapstack-labs/vulndash/internal/datasource"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// ErrChartFailed reports a chart that showed an error instead of drawing.
var ErrChartFailed = errors.New("chart failed")

// Snapshot is a chart drawn once outside any dashboard, with copies of
// its export artifacts.
type Snapshot struct {
	State   svgrender.State
	Exports map[chart.ExportKind]*blob.Blob
}

// RenderOnce draws chart name for one filter and waits until the drawing
// and its exports are complete. The artifacts are revoked from the blob
// store before returning; the snapshot keeps their content.
func (r *Registry) RenderOnce(ctx context.Context, name string, filter core.Filter, params core.GenParams, width, height int) (*Snapshot, error) {
	changed := make(chan struct{}, 1)
	display := svgrender.New("oneshot-"+uuid.NewString(), width, height, func(string) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	// Data that cannot be drawn leaves the display untouched, so the
	// failure arrives here instead.
	drawFailed := make(chan error, 1)
	c, err := r.newController(name, display, func(err error) {
		select {
		case drawFailed <- err:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer c.Close()

	c.SendRequest(filter, params, datasource.RequestOptions{})
	for {
		state := display.Snapshot()
		switch {
		case state.Error != "":
			return nil, fmt.Errorf("%w: %s: %s", ErrChartFailed, name, state.Error)
		case !state.Loading && len(state.Menu) > 0:
			return r.collect(state), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-drawFailed:
			return nil, fmt.Errorf("%w: %s: %w", ErrChartFailed, name, err)
		case <-changed:
		}
	}
}

func (r *Registry) collect(state svgrender.State) *Snapshot {
	snap := &Snapshot{State: state, Exports: make(map[chart.ExportKind]*blob.Blob)}
	for _, item := range state.Menu {
		if item.Download == "" {
			continue
		}
		b, ok := r.opts.Store.Resolve(item.URL)
		if !ok {
			continue
		}
		cp := *b
		cp.Data = append([]byte(nil), b.Data...)
		snap.Exports[kindOf(b.Filename)] = &cp
	}
	return snap
}

func kindOf(filename string) chart.ExportKind {
	return chart.ExportKind(strings.TrimPrefix(filepath.Ext(filename), "."))
}
