// Package registry resolves configured names to live objects: one data
// source per source name, generators and controllers per chart name, and
// the dashboards currently mounted. A Registry is scoped to one
// application instance and handed to whoever builds dashboards.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/leapstack-labs/vulndash/internal/blob"
	"github.com/leapstack-labs/vulndash/internal/chart"
	"github.com/leapstack-labs/vulndash/internal/config"
	"github.com/leapstack-labs/vulndash/internal/dashboard"
	"github.com/leapstack-labs/vulndash/internal/datasource"
	"github.com/leapstack-labs/vulndash/internal/metrics"
	"github.com/leapstack-labs/vulndash/internal/transform"
)

// Sentinel errors.
var (
	ErrUnknownSource    = errors.New("registry: unknown data source")
	ErrUnknownChart     = errors.New("registry: unknown chart")
	ErrUnknownDashboard = errors.New("registry: unknown dashboard")
	ErrClosed           = errors.New("registry: closed")
)

// Options wire a Registry.
type Options struct {
	Config     *config.Config
	Fetcher    datasource.Fetcher
	Store      *blob.Store
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Stylesheet string

	// OnUnauthorized is passed to every data source.
	OnUnauthorized func()
}

// Registry is safe for concurrent use.
type Registry struct {
	opts   Options
	logger *slog.Logger

	mu         sync.RWMutex
	cfg        *config.Config
	transforms *transform.Registry
	sources    map[string]*datasource.DataSource
	mounted    map[string]*dashboard.Dashboard
	closed     bool
}

var _ dashboard.ControllerFactory = (*Registry)(nil)

// New creates a registry. Data sources are created on first use.
func New(opts Options) (*Registry, error) {
	if opts.Config == nil {
		return nil, errors.New("registry: config is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("registry: fetcher is required")
	}
	if opts.Store == nil {
		return nil, errors.New("registry: blob store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		opts:       opts,
		logger:     logger,
		cfg:        opts.Config,
		transforms: transform.NewRegistry(opts.Config.SeverityLevels),
		sources:    make(map[string]*datasource.DataSource),
		mounted:    make(map[string]*dashboard.Dashboard),
	}, nil
}

// Config returns the active configuration.
func (r *Registry) Config() *config.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Transforms returns the transform registry.
func (r *Registry) Transforms() *transform.Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.transforms
}

// Source returns the data source of name, creating it on first use.
func (r *Registry) Source(name string) (*datasource.DataSource, error) {
	r.mu.RLock()
	ds, ok := r.sources[name]
	r.mu.RUnlock()
	if ok {
		return ds, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if ds, ok := r.sources[name]; ok {
		return ds, nil
	}
	sc, ok := r.cfg.Sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}

	params := sc.Aggregate.Values()
	for k, v := range sc.Params {
		params.Set(k, v)
	}
	ds, err := datasource.New(datasource.Config{
		Name:           name,
		Kind:           sc.Kind,
		Command:        sc.Command,
		Params:         params,
		Fetcher:        r.opts.Fetcher,
		Logger:         r.logger,
		Metrics:        r.opts.Metrics,
		OnUnauthorized: r.opts.OnUnauthorized,
	})
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", name, err)
	}
	r.sources[name] = ds
	r.logger.Debug("created data source", "source", name, "command", ds.Command())
	return ds, nil
}

// SourceCount returns the number of created data sources.
func (r *Registry) SourceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// Chart returns a chart definition.
func (r *Registry) Chart(name string) (config.ChartConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.cfg.Charts[name]
	return ch, ok
}

// ChartNames returns all chart names, sorted.
func (r *Registry) ChartNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.cfg.Charts))
	for name := range r.cfg.Charts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Label returns the display label of a chart.
func Label(name string, ch config.ChartConfig) string {
	switch {
	case ch.Title.Label != "":
		return ch.Title.Label
	case ch.Label != "":
		return ch.Label
	default:
		return name
	}
}

// NewGenerator builds a fresh generator for a chart.
func (r *Registry) NewGenerator(name string) (chart.Generator, error) {
	ch, ok := r.Chart(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChart, name)
	}
	fn, err := r.Transforms().Get(ch.Transform)
	if err != nil {
		return nil, fmt.Errorf("chart %q: %w", name, err)
	}
	return chart.New(ch.Type, chart.Options{
		Name:       name,
		Transform:  fn,
		Title:      chart.NewTitle(ch.Title.Kind, Label(name, ch), ch.Title.CountField),
		Store:      r.opts.Store,
		Stylesheet: r.opts.Stylesheet,
		Metrics:    r.opts.Metrics,
	})
}

// NewController builds a controller drawing chart name into display.
func (r *Registry) NewController(name string, display chart.Display) (*chart.Controller, error) {
	return r.newController(name, display, nil)
}

func (r *Registry) newController(name string, display chart.Display, onDrawFailed func(error)) (*chart.Controller, error) {
	ch, ok := r.Chart(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChart, name)
	}
	src, err := r.Source(ch.Source)
	if err != nil {
		return nil, fmt.Errorf("chart %q: %w", name, err)
	}
	gen, err := r.NewGenerator(name)
	if err != nil {
		return nil, err
	}
	return chart.NewController(chart.ControllerConfig{
		Name:         name,
		Label:        Label(name, ch),
		Source:       src,
		Generator:    gen,
		Display:      display,
		InitParams:   ch.Params,
		DetachedPath: r.Config().UI.DetachedPath,
		DrillDownURL: r.Config().UI.DrillDownURL,
		OnDrawFailed: onDrawFailed,
		Logger:       r.logger,
	}), nil
}

// DashboardOptions are the per-mount collaborators of a dashboard.
type DashboardOptions struct {
	Displays  dashboard.DisplayFactory
	Saver     *dashboard.Saver
	Reorderer dashboard.LayoutReorderer
}

// NewDashboard builds the dashboard described by id. It is not loaded.
func (r *Registry) NewDashboard(id string, opts DashboardOptions) (*dashboard.Dashboard, error) {
	cfg := r.Config()
	dc, ok := cfg.Dashboards[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDashboard, id)
	}
	return dashboard.New(dashboard.Config{
		ID:            id,
		Charts:        cfg.ChartNames(id),
		Filters:       dc.Filters,
		FixedFilter:   dc.FixedFilter,
		DefaultLayout: dashboard.FromConfig(dc.DefaultLayout),
		Preferences:   dc.Preferences,
		Limits:        cfg.Dashboard,
		Controllers:   r,
		Displays:      opts.Displays,
		Saver:         opts.Saver,
		Reorderer:     opts.Reorderer,
		Logger:        r.logger,
	})
}

// Mount records d under key, closing a dashboard previously mounted there.
func (r *Registry) Mount(key string, d *dashboard.Dashboard) {
	r.mu.Lock()
	prev := r.mounted[key]
	r.mounted[key] = d
	r.mu.Unlock()
	if prev != nil && prev != d {
		prev.Close()
	}
}

// Mounted returns the dashboard mounted under key.
func (r *Registry) Mounted(key string) (*dashboard.Dashboard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.mounted[key]
	return d, ok
}

// MountedDashboards returns all mounted dashboards.
func (r *Registry) MountedDashboards() []*dashboard.Dashboard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*dashboard.Dashboard, 0, len(r.mounted))
	for _, d := range r.mounted {
		out = append(out, d)
	}
	return out
}

// Unmount closes and forgets the dashboard under key.
func (r *Registry) Unmount(key string) {
	r.mu.Lock()
	d := r.mounted[key]
	delete(r.mounted, key)
	r.mu.Unlock()
	if d != nil {
		d.Close()
	}
}

// UnmountAll closes every mounted dashboard and returns how many there were.
func (r *Registry) UnmountAll() int {
	r.mu.Lock()
	mounted := r.mounted
	r.mounted = make(map[string]*dashboard.Dashboard)
	r.mu.Unlock()
	for _, d := range mounted {
		d.Close()
	}
	return len(mounted)
}

// Reload swaps in a new configuration. Data sources whose definition
// changed are closed and recreated on next use; mounted dashboards keep
// running until they are mounted again.
func (r *Registry) Reload(cfg *config.Config) {
	r.mu.Lock()
	old := r.cfg
	r.cfg = cfg
	r.transforms = transform.NewRegistry(cfg.SeverityLevels)

	var stale []*datasource.DataSource
	for name, ds := range r.sources {
		next, ok := cfg.Sources[name]
		if ok && reflect.DeepEqual(old.Sources[name], next) {
			continue
		}
		stale = append(stale, ds)
		delete(r.sources, name)
	}
	r.mu.Unlock()

	for _, ds := range stale {
		ds.Close()
	}
	r.logger.Info("configuration reloaded", "charts", len(cfg.Charts), "dashboards", len(cfg.Dashboards), "dropped_sources", len(stale))
}

// Close unmounts all dashboards and closes all data sources.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	mounted := r.mounted
	sources := r.sources
	r.mounted = make(map[string]*dashboard.Dashboard)
	r.sources = make(map[string]*datasource.DataSource)
	r.mu.Unlock()

	for _, d := range mounted {
		d.Close()
	}
	for _, ds := range sources {
		ds.Close()
	}
}
