package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/vulndash/internal/registry"
)

// ChartInfo is the listing entry of one chart.
type ChartInfo struct {
	Name      string `json:"name" yaml:"name"`
	Label     string `json:"label" yaml:"label"`
	Type      string `json:"type" yaml:"type"`
	Source    string `json:"source" yaml:"source"`
	Transform string `json:"transform,omitempty" yaml:"transform,omitempty"`
}

// DashboardInfo is the listing entry of one dashboard.
type DashboardInfo struct {
	ID      string   `json:"id" yaml:"id"`
	Title   string   `json:"title" yaml:"title"`
	Charts  []string `json:"charts" yaml:"charts"`
	Filters int      `json:"filters" yaml:"filters"`
	Rows    int      `json:"default_rows" yaml:"default_rows"`
}

// NewChartsCommand creates the charts command.
func NewChartsCommand() *cobra.Command {
	var format, dashboardID string

	cmd := &cobra.Command{
		Use:   "charts",
		Short: "List the configured charts",
		Example: `  # List all charts
  vulndash charts

  # List the charts a dashboard offers, as JSON
  vulndash charts --dashboard nvts --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd)
			cfg := cmdCtx.Cfg

			var names []string
			if dashboardID != "" {
				if _, ok := cfg.Dashboards[dashboardID]; !ok {
					return fmt.Errorf("%w: %s", registry.ErrUnknownDashboard, dashboardID)
				}
				names = cfg.ChartNames(dashboardID)
			} else {
				for name := range cfg.Charts {
					names = append(names, name)
				}
				sort.Strings(names)
			}

			infos := make([]ChartInfo, 0, len(names))
			for _, name := range names {
				ch := cfg.Charts[name]
				infos = append(infos, ChartInfo{
					Name:      name,
					Label:     registry.Label(name, ch),
					Type:      ch.Type,
					Source:    ch.Source,
					Transform: ch.Transform,
				})
			}

			if done, err := writeStructured(cmdCtx.Out, format, infos); done {
				return err
			}

			if len(infos) == 0 {
				_, _ = fmt.Fprintln(cmdCtx.Out, "No charts configured")
				return nil
			}
			rows := make([]table.Row, 0, len(infos))
			for _, c := range infos {
				rows = append(rows, table.Row{c.Name, c.Label, c.Type, c.Source, c.Transform})
			}
			renderTable(cmdCtx.Out, table.Row{"Name", "Label", "Type", "Source", "Transform"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", FormatTable, "Output format: table, json, yaml")
	cmd.Flags().StringVarP(&dashboardID, "dashboard", "d", "", "Only list the charts this dashboard offers")
	_ = cmd.RegisterFlagCompletionFunc("format", completeFormats)

	return cmd
}

// NewDashboardsCommand creates the dashboards command.
func NewDashboardsCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "dashboards",
		Short: "List the configured dashboards",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd)
			cfg := cmdCtx.Cfg

			ids := make([]string, 0, len(cfg.Dashboards))
			for id := range cfg.Dashboards {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			infos := make([]DashboardInfo, 0, len(ids))
			for _, id := range ids {
				d := cfg.Dashboards[id]
				infos = append(infos, DashboardInfo{
					ID:      id,
					Title:   d.Title,
					Charts:  cfg.ChartNames(id),
					Filters: len(d.Filters),
					Rows:    len(d.DefaultLayout),
				})
			}

			if done, err := writeStructured(cmdCtx.Out, format, infos); done {
				return err
			}

			if len(infos) == 0 {
				_, _ = fmt.Fprintln(cmdCtx.Out, "No dashboards configured")
				return nil
			}
			rows := make([]table.Row, 0, len(infos))
			for _, d := range infos {
				rows = append(rows, table.Row{d.ID, d.Title, strings.Join(d.Charts, ", "), d.Filters, d.Rows})
			}
			renderTable(cmdCtx.Out, table.Row{"ID", "Title", "Charts", "Filters", "Default Rows"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", FormatTable, "Output format: table, json, yaml")
	_ = cmd.RegisterFlagCompletionFunc("format", completeFormats)

	return cmd
}
