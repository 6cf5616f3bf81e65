// Package config provides shared configuration types for vulndash.
// It holds the data source, chart and dashboard descriptors as well as
// the service settings, decoupled from CLI concerns so the UI server and
// one-shot commands can share them.
package config

import (
	"time"

	"github.com/leapstack-labs/vulndash/internal/backend"
	"github.com/leapstack-labs/vulndash/internal/extract"
	"github.com/leapstack-labs/vulndash/internal/transform"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// Config is the complete service configuration.
type Config struct {
	Backend        backend.Config           `koanf:"backend"`
	UI             UIConfig                 `koanf:"ui"`
	State          StateConfig              `koanf:"state"`
	Telemetry      TelemetryConfig          `koanf:"telemetry"`
	Dashboard      LayoutLimits             `koanf:"layout"`
	SeverityLevels transform.SeverityLevels `koanf:"severity_levels"`

	Sources    map[string]SourceConfig    `koanf:"sources"`
	Charts     map[string]ChartConfig     `koanf:"charts"`
	Dashboards map[string]DashboardConfig `koanf:"dashboards"`

	Verbose bool `koanf:"verbose"`
}

// SourceConfig declares one backend query. Each name becomes exactly one
// data source with a fixed parameter set.
type SourceConfig struct {
	Kind      extract.Kind            `koanf:"kind"`    // aggregate or tasks
	Command   string                  `koanf:"command"` // defaults from kind
	Aggregate backend.AggregateParams `koanf:"aggregate"`

	// Params are extra raw query parameters, e.g. for list commands.
	Params map[string]string `koanf:"params"`
}

// TitleConfig selects a title generator.
type TitleConfig struct {
	Kind       string `koanf:"kind"` // static or total
	Label      string `koanf:"label"`
	CountField string `koanf:"count_field"`
}

// ChartConfig declares one chart a dashboard can show.
type ChartConfig struct {
	Type      string         `koanf:"type"`
	Label     string         `koanf:"label"`
	Source    string         `koanf:"source"`
	Transform string         `koanf:"transform"` // e.g. severity_histogram+fill_empty_fields
	Title     TitleConfig    `koanf:"title"`
	Params    core.GenParams `koanf:"params"`
}

// ComponentConfig is one chart box of a default layout.
type ComponentConfig struct {
	Chart  string `koanf:"chart"`
	Filter string `koanf:"filter"`
}

// RowConfig is one row of a default layout.
type RowConfig struct {
	Height     int               `koanf:"height"`
	Components []ComponentConfig `koanf:"components"`
}

// PreferenceIDs name the three stored layout strings of a dashboard.
// An empty ID disables persistence of that string.
type PreferenceIDs struct {
	Controllers string `koanf:"controllers"`
	Heights     string `koanf:"heights"`
	Filters     string `koanf:"filters"`
}

// DashboardConfig is a declarative dashboard descriptor.
type DashboardConfig struct {
	Title string `koanf:"title"`

	// Charts are the permitted chart names; empty permits all charts.
	Charts        []string      `koanf:"charts"`
	DefaultLayout []RowConfig   `koanf:"default_layout"`
	Preferences   PreferenceIDs `koanf:"preferences"`

	// Filters are offered in every chart box. FixedFilter, when set,
	// replaces the selection and hides the filter selector.
	Filters     []core.Filter `koanf:"filters"`
	FixedFilter *core.Filter  `koanf:"fixed_filter"`
}

// LayoutLimits bound dashboard layouts and size the chart boxes.
type LayoutLimits struct {
	MaxComponents int `koanf:"max_components"`
	MaxPerRow     int `koanf:"max_per_row"`
	RowHeight     int `koanf:"row_height"`
	Width         int `koanf:"width"`
	HeaderHeight  int `koanf:"header_height"`
	FooterHeight  int `koanf:"footer_height"`
	Padding       int `koanf:"padding"`
}

// UIConfig holds configuration for the HTTP server.
type UIConfig struct {
	Addr            string        `koanf:"addr"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	Stylesheet      string        `koanf:"stylesheet"` // path; empty uses the built-in sheet
	SessionSecret   string        `koanf:"session_secret"`
	BlobPrefix      string        `koanf:"blob_prefix"`
	DetachedPath    string        `koanf:"detached_path"`
	// DrillDownURL is the target of a clicked chart record, with "{type}"
	// and "{filter}" placeholders. Empty opens the detached chart.
	DrillDownURL    string        `koanf:"drilldown_url"`
	Watch           bool          `koanf:"watch"`
}

// StateConfig locates the preference database.
type StateConfig struct {
	Path string `koanf:"path"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
	Insecure    bool   `koanf:"insecure"`
}
