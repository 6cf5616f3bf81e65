package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/vulndash/internal/backend"
	"github.com/leapstack-labs/vulndash/internal/blob"
	"github.com/leapstack-labs/vulndash/internal/cli/config"
	intconfig "github.com/leapstack-labs/vulndash/internal/config"
	"github.com/leapstack-labs/vulndash/internal/datasource"
	"github.com/leapstack-labs/vulndash/internal/metrics"
	"github.com/leapstack-labs/vulndash/internal/registry"
	"github.com/leapstack-labs/vulndash/internal/state"
)

// Output formats of the listing commands.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *intconfig.Config
	Logger *slog.Logger
	Out    io.Writer
}

// NewCommandContext collects the loaded config and the logger of cmd.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	return &CommandContext{
		Cfg:    getConfig(),
		Logger: config.GetLogger(cmd.Context()),
		Out:    cmd.OutOrStdout(),
	}
}

// Helper functions shared across commands

// getConfig returns the current configuration, or the defaults when no
// configuration was loaded.
func getConfig() *intconfig.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	cfg := &intconfig.Config{}
	intconfig.ApplyDefaults(cfg)
	return cfg
}

// newBackend creates the backend client; it fails when no backend URL is
// configured.
func newBackend(cfg *intconfig.Config, logger *slog.Logger) (*backend.Client, error) {
	if cfg.Backend.BaseURL == "" {
		return nil, fmt.Errorf("no backend configured: set backend.base_url, VULNDASH_BACKEND__BASE_URL or --backend-url")
	}
	return backend.New(cfg.Backend, backend.WithLogger(logger))
}

// openStore opens the preference database and applies its migrations.
func openStore(path string) (*state.SQLiteStore, error) {
	store := state.NewSQLiteStore()
	if err := store.Open(path); err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := store.InitSchema(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize state database: %w", err)
	}
	return store, nil
}

// loadStylesheet reads the configured chart stylesheet; an empty path
// keeps the built-in one.
func loadStylesheet(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path) //nolint:gosec // path comes from the operator's config
	if err != nil {
		return "", fmt.Errorf("failed to read stylesheet: %w", err)
	}
	return string(b), nil
}

// registryOptions are the parts of a registry that differ between the
// server and one-shot commands.
type registryOptions struct {
	fetcher        datasource.Fetcher
	blobs          *blob.Store
	metrics        *metrics.Metrics
	onUnauthorized func()
}

// newRegistry wires a registry for cfg.
func newRegistry(cfg *intconfig.Config, logger *slog.Logger, opts registryOptions) (*registry.Registry, error) {
	stylesheet, err := loadStylesheet(cfg.UI.Stylesheet)
	if err != nil {
		return nil, err
	}
	blobs := opts.blobs
	if blobs == nil {
		blobs = blob.NewStore(cfg.UI.BlobPrefix, opts.metrics)
	}
	return registry.New(registry.Options{
		Config:         cfg,
		Fetcher:        opts.fetcher,
		Store:          blobs,
		Metrics:        opts.metrics,
		Logger:         logger,
		Stylesheet:     stylesheet,
		OnUnauthorized: opts.onUnauthorized,
	})
}

// renderTable writes rows as a light box-drawn table.
func renderTable(w io.Writer, header table.Row, rows []table.Row) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	t.AppendRows(rows)
	t.Render()
}

// writeStructured encodes v as JSON or YAML. It reports false for any
// other format, leaving the output to the caller.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	case "", FormatTable:
		return false, nil
	default:
		return true, fmt.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}

// completeFormats offers the listing formats for shell completion.
func completeFormats(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{FormatTable, FormatJSON, FormatYAML}, cobra.ShellCompDirectiveNoFileComp
}
