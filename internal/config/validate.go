package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/leapstack-labs/vulndash/internal/chart"
	"github.com/leapstack-labs/vulndash/internal/extract"
	"github.com/leapstack-labs/vulndash/internal/transform"
)

// Validate checks that every descriptor references known kinds, types,
// transforms, sources and charts. All problems are reported at once.
func (c *Config) Validate() error {
	var errs []error

	transforms := transform.NewRegistry(c.SeverityLevels)
	types := chart.Types()

	for _, name := range sortedKeys(c.Sources) {
		src := c.Sources[name]
		if _, err := extract.ForKind(src.Kind); err != nil {
			errs = append(errs, fmt.Errorf("source %q: %w", name, err))
		}
	}

	for _, name := range sortedKeys(c.Charts) {
		ch := c.Charts[name]
		if !slices.Contains(types, ch.Type) {
			errs = append(errs, fmt.Errorf("chart %q: unknown type %q", name, ch.Type))
		}
		if _, ok := c.Sources[ch.Source]; !ok {
			errs = append(errs, fmt.Errorf("chart %q: unknown source %q", name, ch.Source))
		}
		if _, err := transforms.Get(ch.Transform); err != nil {
			errs = append(errs, fmt.Errorf("chart %q: %w", name, err))
		}
	}

	for _, id := range sortedKeys(c.Dashboards) {
		d := c.Dashboards[id]
		for _, name := range d.Charts {
			if _, ok := c.Charts[name]; !ok {
				errs = append(errs, fmt.Errorf("dashboard %q: unknown chart %q", id, name))
			}
		}
		for i, row := range d.DefaultLayout {
			for _, comp := range row.Components {
				if comp.Chart == "" {
					continue
				}
				if !d.Permits(comp.Chart) {
					errs = append(errs, fmt.Errorf("dashboard %q: row %d: chart %q is not permitted", id, i, comp.Chart))
				}
			}
		}
	}

	if c.Dashboard.MaxPerRow > c.Dashboard.MaxComponents {
		errs = append(errs, fmt.Errorf("layout: max_per_row %d exceeds max_components %d",
			c.Dashboard.MaxPerRow, c.Dashboard.MaxComponents))
	}

	return errors.Join(errs...)
}

// Permits reports whether the dashboard may show the chart.
func (d DashboardConfig) Permits(chartName string) bool {
	return len(d.Charts) == 0 || slices.Contains(d.Charts, chartName)
}

// ChartNames returns the charts the dashboard offers, in a stable order.
func (c *Config) ChartNames(dashboardID string) []string {
	d, ok := c.Dashboards[dashboardID]
	if !ok {
		return nil
	}
	if len(d.Charts) > 0 {
		return slices.Clone(d.Charts)
	}
	return sortedKeys(c.Charts)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
