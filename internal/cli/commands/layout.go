package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/vulndash/internal/dashboard"
	"github.com/leapstack-labs/vulndash/internal/registry"
)

// LayoutOutput is the stored or default layout of one dashboard for one
// user.
type LayoutOutput struct {
	Dashboard string           `json:"dashboard" yaml:"dashboard"`
	User      string           `json:"user" yaml:"user"`
	Default   bool             `json:"default" yaml:"default"`
	Layout    dashboard.Layout `json:"layout" yaml:"layout"`
}

// NewLayoutCommand creates the layout command with its subcommands.
func NewLayoutCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Inspect and reset stored dashboard layouts",
		Long: `Inspect and reset the per-user dashboard layouts kept in the state
database. User ids are the ids the server stores in its session cookie.`,
	}
	cmd.AddCommand(newLayoutShowCommand())
	cmd.AddCommand(newLayoutResetCommand())
	cmd.AddCommand(newLayoutParseCommand())
	return cmd
}

func newLayoutShowCommand() *cobra.Command {
	var user, format string

	cmd := &cobra.Command{
		Use:   "show <dashboard>",
		Short: "Show the layout a user sees on a dashboard",
		Example: `  vulndash layout show nvts --user 6f1c...
  vulndash layout show nvts --user 6f1c... --format yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContext(cmd)
			id := args[0]
			dc, ok := cmdCtx.Cfg.Dashboards[id]
			if !ok {
				return fmt.Errorf("%w: %s", registry.ErrUnknownDashboard, id)
			}

			store, err := openStore(cmdCtx.Cfg.State.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ctx := cmd.Context()
			var stored [3]string
			for i, prefID := range []string{dc.Preferences.Controllers, dc.Preferences.Heights, dc.Preferences.Filters} {
				if prefID == "" {
					continue
				}
				value, _, err := store.GetPreference(ctx, user, prefID)
				if err != nil {
					return err
				}
				stored[i] = value
			}

			out := LayoutOutput{Dashboard: id, User: user}
			out.Layout = dashboard.ParseLayout(stored[0], stored[1], stored[2])
			if len(out.Layout.Rows) == 0 {
				out.Layout = dashboard.FromConfig(dc.DefaultLayout)
				out.Default = true
			}

			if done, err := writeStructured(cmdCtx.Out, format, out); done {
				return err
			}

			if out.Default {
				_, _ = fmt.Fprintf(cmdCtx.Out, "No stored layout for user %q, showing the default of %s\n", user, id)
			}
			renderLayout(cmdCtx, out.Layout)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User id whose layout to show")
	cmd.Flags().StringVarP(&format, "format", "f", FormatTable, "Output format: table, json, yaml")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.RegisterFlagCompletionFunc("format", completeFormats)

	return cmd
}

func newLayoutResetCommand() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every stored layout of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd)
			store, err := openStore(cmdCtx.Cfg.State.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			n, err := store.ResetUser(cmd.Context(), user)
			if err != nil {
				return err
			}
			cmdCtx.Logger.Debug("layouts reset", "user", user, "preferences", n)
			_, _ = fmt.Fprintf(cmdCtx.Out, "Removed %d stored preferences of user %q\n", n, user)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User id whose layouts to delete")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newLayoutParseCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "parse <controllers> [heights] [filters]",
		Short: "Decode stored layout strings",
		Long: `Decode the three stored layout strings of a dashboard: chart names,
row heights and filter ids. Rows are separated by '#', boxes within a row
by '|'. Heights and filters that do not line up are treated as missing.`,
		Example: `  vulndash layout parse 'nvts-by-cvss|nvts-by-class#results-by-cvss' '300#280' '|#high'`,
		Args:    cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContext(cmd)
			var parts [3]string
			copy(parts[:], args)

			layout := dashboard.ParseLayout(parts[0], parts[1], parts[2])
			if done, err := writeStructured(cmdCtx.Out, format, layout); done {
				return err
			}
			renderLayout(cmdCtx, layout)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", FormatTable, "Output format: table, json, yaml")
	_ = cmd.RegisterFlagCompletionFunc("format", completeFormats)

	return cmd
}

// renderLayout prints one table row per layout row.
func renderLayout(cmdCtx *CommandContext, layout dashboard.Layout) {
	rows := make([]table.Row, 0, len(layout.Rows))
	for i, row := range layout.Rows {
		charts := make([]string, 0, len(row.Components))
		for _, c := range row.Components {
			entry := c.Chart
			if entry == "" {
				entry = "(empty)"
			}
			if c.Filter != "" {
				entry += " [" + c.Filter + "]"
			}
			charts = append(charts, entry)
		}
		height := "default"
		if row.Height > 0 {
			height = fmt.Sprintf("%dpx", row.Height)
		}
		rows = append(rows, table.Row{i + 1, height, strings.Join(charts, ", ")})
	}
	renderTable(cmdCtx.Out, table.Row{"Row", "Height", "Charts"}, rows)
}
