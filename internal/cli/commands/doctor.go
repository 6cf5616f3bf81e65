package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/vulndash/internal/backend"
	"github.com/leapstack-labs/vulndash/internal/cli/config"
	intconfig "github.com/leapstack-labs/vulndash/internal/config"
)

// Check statuses.
const (
	StatusPass  = "pass"
	StatusWarn  = "warn"
	StatusError = "error"
)

// probeCommand is a cheap backend command used to test connectivity.
const probeCommand = "get_version"

// DoctorOptions holds options for the doctor command.
type DoctorOptions struct {
	Format  string
	Offline bool
	Timeout time.Duration
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Group  string `json:"group" yaml:"group"`
	Name   string `json:"name" yaml:"name"`
	Status string `json:"status" yaml:"status"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// DoctorOutput is the structured output of the doctor command.
type DoctorOutput struct {
	ConfigFile string        `json:"config_file" yaml:"config_file"`
	Checks     []HealthCheck `json:"checks" yaml:"checks"`
	Errors     int           `json:"errors" yaml:"errors"`
	Warnings   int           `json:"warnings" yaml:"warnings"`
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	opts := &DoctorOptions{}
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the configuration, state database and backend",
		Long: `Check that vulndash is ready to serve:
- Configuration: descriptors load and reference each other correctly
- State: the preference database opens and is migrated
- Backend: the management backend answers with the configured token

The command fails when any check reports an error.`,
		Example: `  # Run all checks
  vulndash doctor

  # Skip the backend and print JSON
  vulndash doctor --offline --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", FormatTable, "Output format: table, json, yaml")
	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "Skip the backend check")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "Backend check timeout")
	_ = cmd.RegisterFlagCompletionFunc("format", completeFormats)

	return cmd
}

func runDoctor(cmd *cobra.Command, opts *DoctorOptions) error {
	cmdCtx := NewCommandContext(cmd)
	cfg := cmdCtx.Cfg

	out := &DoctorOutput{ConfigFile: config.GetConfigFileUsed()}
	out.Checks = append(out.Checks, configChecks(cfg, out.ConfigFile)...)
	out.Checks = append(out.Checks, stateCheck(cmd.Context(), cfg))
	if cfg.UI.Stylesheet != "" {
		out.Checks = append(out.Checks, stylesheetCheck(cfg.UI.Stylesheet))
	}
	if !opts.Offline {
		out.Checks = append(out.Checks, backendCheck(cmd.Context(), cfg, cmdCtx, opts.Timeout))
	}

	for _, c := range out.Checks {
		switch c.Status {
		case StatusError:
			out.Errors++
		case StatusWarn:
			out.Warnings++
		}
	}

	done, err := writeStructured(cmdCtx.Out, opts.Format, out)
	if err != nil {
		return err
	}
	if !done {
		renderDoctorText(cmdCtx, out)
	}

	if out.Errors > 0 {
		return fmt.Errorf("doctor found %d problems", out.Errors)
	}
	return nil
}

func configChecks(cfg *intconfig.Config, file string) []HealthCheck {
	checks := []HealthCheck{}

	fileCheck := HealthCheck{Group: "configuration", Name: "config file", Status: StatusPass, Detail: file}
	if file == "" {
		fileCheck.Status = StatusWarn
		fileCheck.Detail = "no vulndash.yaml found, using defaults"
	}
	checks = append(checks, fileCheck)

	descriptors := HealthCheck{
		Group:  "configuration",
		Name:   "descriptors",
		Status: StatusPass,
		Detail: fmt.Sprintf("%d sources, %d charts, %d dashboards", len(cfg.Sources), len(cfg.Charts), len(cfg.Dashboards)),
	}
	if err := cfg.Validate(); err != nil {
		descriptors.Status = StatusError
		descriptors.Detail = err.Error()
	} else if len(cfg.Dashboards) == 0 {
		descriptors.Status = StatusWarn
		descriptors.Detail += "; nothing to serve"
	}
	checks = append(checks, descriptors)

	return checks
}

func stateCheck(ctx context.Context, cfg *intconfig.Config) HealthCheck {
	check := HealthCheck{Group: "state", Name: "preference database", Status: StatusPass}

	store, err := openStore(cfg.State.Path)
	if err != nil {
		check.Status = StatusError
		check.Detail = err.Error()
		return check
	}
	defer func() { _ = store.Close() }()

	version, err := store.GetMigrationVersion()
	if err != nil {
		check.Status = StatusError
		check.Detail = err.Error()
		return check
	}
	users, err := store.CountUsers(ctx)
	if err != nil {
		check.Status = StatusError
		check.Detail = err.Error()
		return check
	}
	check.Detail = fmt.Sprintf("%s (schema v%d, %d users)", cfg.State.Path, version, users)
	return check
}

func stylesheetCheck(path string) HealthCheck {
	check := HealthCheck{Group: "configuration", Name: "stylesheet", Status: StatusPass, Detail: path}
	if _, err := loadStylesheet(path); err != nil {
		check.Status = StatusError
		check.Detail = err.Error()
	}
	return check
}

func backendCheck(ctx context.Context, cfg *intconfig.Config, cmdCtx *CommandContext, timeout time.Duration) HealthCheck {
	check := HealthCheck{Group: "backend", Name: "connectivity", Status: StatusPass}

	if cfg.Backend.BaseURL == "" {
		check.Status = StatusWarn
		check.Detail = "backend.base_url is not set"
		return check
	}
	client, err := newBackend(cfg, cmdCtx.Logger)
	if err != nil {
		check.Status = StatusError
		check.Detail = err.Error()
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	_, err = client.Fetch(ctx, probeCommand, nil)
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		check.Status = StatusError
		check.Detail = "backend rejected the token"
	case err != nil:
		check.Status = StatusError
		check.Detail = err.Error()
	default:
		check.Detail = fmt.Sprintf("%s answered in %s", cfg.Backend.BaseURL, time.Since(start).Round(time.Millisecond))
	}
	return check
}

func renderDoctorText(cmdCtx *CommandContext, out *DoctorOutput) {
	titleCaser := cases.Title(language.English)

	rows := make([]table.Row, 0, len(out.Checks))
	for _, c := range out.Checks {
		rows = append(rows, table.Row{titleCaser.String(c.Group), c.Name, statusLabel(c.Status), c.Detail})
	}
	renderTable(cmdCtx.Out, table.Row{"Group", "Check", "Status", "Detail"}, rows)

	_, _ = fmt.Fprintf(cmdCtx.Out, "%d errors, %d warnings\n", out.Errors, out.Warnings)
}

func statusLabel(status string) string {
	switch status {
	case StatusPass:
		return "OK"
	case StatusWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}
