package config

import (
	"time"

	"github.com/leapstack-labs/vulndash/internal/backend"
	"github.com/leapstack-labs/vulndash/internal/transform"
)

// Default configuration values.
const (
	DefaultAddr            = "127.0.0.1:8765"
	DefaultRefreshInterval = 5 * time.Minute
	DefaultStatePath       = ".vulndash/state.db"
	DefaultBlobPrefix      = "/blobs/"
	DefaultDetachedPath    = "/chart"
	DefaultServiceName     = "vulndash"
	DefaultOTLPEndpoint    = "localhost:4317"

	DefaultMaxComponents = 8
	DefaultMaxPerRow     = 4
	DefaultRowHeight     = 280
	DefaultWidth         = 1200
	DefaultHeaderHeight  = 20
	DefaultFooterHeight  = 20
	DefaultPadding       = 20
)

// DefaultLayoutLimits returns the built-in layout limits.
func DefaultLayoutLimits() LayoutLimits {
	return LayoutLimits{
		MaxComponents: DefaultMaxComponents,
		MaxPerRow:     DefaultMaxPerRow,
		RowHeight:     DefaultRowHeight,
		Width:         DefaultWidth,
		HeaderHeight:  DefaultHeaderHeight,
		FooterHeight:  DefaultFooterHeight,
		Padding:       DefaultPadding,
	}
}

// Defaults returns the flattened default values, suitable for a confmap
// provider.
func Defaults() map[string]any {
	b := backend.DefaultConfig()
	l := DefaultLayoutLimits()
	s := transform.DefaultSeverityLevels()
	return map[string]any{
		"backend.timeout":            b.Timeout.String(),
		"backend.rate_limit":         b.RateLimit,
		"backend.burst":              b.Burst,
		"backend.max_body_bytes":     b.MaxBodyBytes,
		"ui.addr":                    DefaultAddr,
		"ui.refresh_interval":        DefaultRefreshInterval.String(),
		"ui.blob_prefix":             DefaultBlobPrefix,
		"ui.detached_path":           DefaultDetachedPath,
		"ui.watch":                   true,
		"state.path":                 DefaultStatePath,
		"telemetry.enabled":          false,
		"telemetry.endpoint":         DefaultOTLPEndpoint,
		"telemetry.service_name":     DefaultServiceName,
		"telemetry.insecure":         true,
		"layout.max_components":      l.MaxComponents,
		"layout.max_per_row":         l.MaxPerRow,
		"layout.row_height":          l.RowHeight,
		"layout.width":               l.Width,
		"layout.header_height":       l.HeaderHeight,
		"layout.footer_height":       l.FooterHeight,
		"layout.padding":             l.Padding,
		"severity_levels.max_log":    s.MaxLog,
		"severity_levels.min_low":    s.MinLow,
		"severity_levels.max_low":    s.MaxLow,
		"severity_levels.min_medium": s.MinMedium,
		"severity_levels.max_medium": s.MaxMedium,
		"severity_levels.min_high":   s.MinHigh,
		"verbose":                    false,
	}
}

// ApplyDefaults fills zero values of c. It is safe to call on a config
// that was not loaded through koanf.
func ApplyDefaults(c *Config) {
	if c == nil {
		return
	}
	b := backend.DefaultConfig()
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = b.Timeout
	}
	if c.Backend.RateLimit == 0 {
		c.Backend.RateLimit = b.RateLimit
	}
	if c.Backend.Burst == 0 {
		c.Backend.Burst = b.Burst
	}
	if c.Backend.MaxBodyBytes == 0 {
		c.Backend.MaxBodyBytes = b.MaxBodyBytes
	}

	if c.UI.Addr == "" {
		c.UI.Addr = DefaultAddr
	}
	if c.UI.RefreshInterval == 0 {
		c.UI.RefreshInterval = DefaultRefreshInterval
	}
	if c.UI.BlobPrefix == "" {
		c.UI.BlobPrefix = DefaultBlobPrefix
	}
	if c.UI.DetachedPath == "" {
		c.UI.DetachedPath = DefaultDetachedPath
	}
	if c.State.Path == "" {
		c.State.Path = DefaultStatePath
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = DefaultOTLPEndpoint
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}

	applyLayoutDefaults(&c.Dashboard)

	if c.SeverityLevels == (transform.SeverityLevels{}) {
		c.SeverityLevels = transform.DefaultSeverityLevels()
	}
}

func applyLayoutDefaults(l *LayoutLimits) {
	d := DefaultLayoutLimits()
	if l.MaxComponents <= 0 {
		l.MaxComponents = d.MaxComponents
	}
	if l.MaxPerRow <= 0 {
		l.MaxPerRow = d.MaxPerRow
	}
	if l.RowHeight <= 0 {
		l.RowHeight = d.RowHeight
	}
	if l.Width <= 0 {
		l.Width = d.Width
	}
	if l.HeaderHeight <= 0 {
		l.HeaderHeight = d.HeaderHeight
	}
	if l.FooterHeight <= 0 {
		l.FooterHeight = d.FooterHeight
	}
	if l.Padding <= 0 {
		l.Padding = d.Padding
	}
}
