package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/vulndash/internal/chart"
	"github.com/leapstack-labs/vulndash/internal/registry"
	chartsFeature "github.com/leapstack-labs/vulndash/internal/ui/features/charts"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// ExportOptions holds options for the export command.
type ExportOptions struct {
	Format  string
	Filter  string
	Output  string
	Width   int
	Height  int
	Timeout time.Duration
}

// NewExportCommand creates the export command.
func NewExportCommand() *cobra.Command {
	opts := &ExportOptions{}

	cmd := &cobra.Command{
		Use:   "export <chart>",
		Short: "Draw one chart and write one of its exports",
		Long: `Query the backend once, draw a chart and write its CSV, HTML or SVG
export. Table charts have no SVG export.`,
		Example: `  # Write the CSV of a chart to stdout
  vulndash export nvts-by-cvss

  # Write an SVG for high severity results only
  vulndash export results-by-cvss --format svg --filter "severity>7" -o high.svg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", string(chart.ExportCSV), "Export format: csv, html, svg")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "Filter term passed to the backend")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().IntVar(&opts.Width, "width", chartsFeature.DefaultWidth, "Drawing width in pixels")
	cmd.Flags().IntVar(&opts.Height, "height", chartsFeature.DefaultHeight, "Drawing height in pixels")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", chartsFeature.DefaultTimeout, "Give up after this long")
	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{string(chart.ExportCSV), string(chart.ExportHTML), string(chart.ExportSVG)}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runExport(cmd *cobra.Command, name string, opts *ExportOptions) error {
	cmdCtx := NewCommandContext(cmd)
	cfg := cmdCtx.Cfg

	ch, ok := cfg.Charts[name]
	if !ok {
		return fmt.Errorf("%w: %s", registry.ErrUnknownChart, name)
	}
	kind := chart.ExportKind(opts.Format)
	switch kind {
	case chart.ExportCSV, chart.ExportHTML, chart.ExportSVG:
	default:
		return fmt.Errorf("unknown format %q (want csv, html or svg)", opts.Format)
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return fmt.Errorf("invalid size %dx%d", opts.Width, opts.Height)
	}

	client, err := newBackend(cfg, cmdCtx.Logger)
	if err != nil {
		return err
	}
	reg, err := newRegistry(cfg, cmdCtx.Logger, registryOptions{fetcher: client})
	if err != nil {
		return err
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	filter := core.Filter{Term: opts.Filter}
	snap, err := reg.RenderOnce(ctx, name, filter, ch.Params, opts.Width, opts.Height)
	if err != nil {
		return err
	}

	b, ok := snap.Exports[kind]
	if !ok {
		return fmt.Errorf("chart %s has no %s export", name, kind)
	}

	if opts.Output == "" {
		_, err := cmdCtx.Out.Write(b.Data)
		return err
	}
	if err := os.WriteFile(opts.Output, b.Data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", opts.Output, err)
	}
	cmdCtx.Logger.Info("chart exported", "chart", name, "format", kind, "file", opts.Output, "bytes", len(b.Data))
	return nil
}
