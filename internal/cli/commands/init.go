package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	intconfig "github.com/leapstack-labs/vulndash/internal/config"
)

// SampleConfig is the vulndash.yaml written by init: the NVT and result
// severity dashboards plus a task overview.
const SampleConfig = `# vulndash configuration
#
# Every value can be overridden with an environment variable, e.g.
# VULNDASH_BACKEND__TOKEN or VULNDASH_UI__ADDR.

backend:
  base_url: https://localhost:9392
  token: ${GMP_TOKEN}
  timeout: 60s
  rate_limit: 20

ui:
  addr: 127.0.0.1:8765
  refresh_interval: 5m
  watch: true

state:
  path: .vulndash/state.db

sources:
  nvts-severity:
    kind: aggregate
    aggregate:
      aggregate_type: nvt
      group_column: severity
  results-severity:
    kind: aggregate
    aggregate:
      aggregate_type: result
      group_column: severity
  results-qod:
    kind: aggregate
    aggregate:
      aggregate_type: result
      group_column: qod_type
  tasks:
    kind: tasks

charts:
  nvts-by-cvss:
    type: bar
    source: nvts-severity
    transform: severity_histogram
    title:
      kind: total
      label: NVTs by CVSS
  nvts-by-class:
    type: donut
    source: nvts-severity
    transform: severity_level_counts
    title:
      kind: total
      label: NVTs by Severity Class
  results-by-cvss:
    type: bar
    source: results-severity
    transform: severity_histogram
    title:
      kind: total
      label: Results by CVSS
  results-by-qod-type:
    type: donut
    source: results-qod
    transform: qod_type_counts
    title:
      kind: total
      label: Results by QoD Type
  task-status:
    type: donut
    source: tasks
    title:
      label: Tasks by Status

dashboards:
  nvts:
    title: NVTs
    charts: [nvts-by-cvss, nvts-by-class]
    preferences:
      controllers: nvts-controllers
      heights: nvts-heights
      filters: nvts-filters
    default_layout:
      - components:
          - chart: nvts-by-cvss
          - chart: nvts-by-class
  results:
    title: Results
    charts: [results-by-cvss, results-by-qod-type]
    preferences:
      controllers: results-controllers
      heights: results-heights
      filters: results-filters
    filters:
      - id: high
        name: High severity
        term: severity>7
    default_layout:
      - components:
          - chart: results-by-cvss
          - chart: results-by-qod-type
  tasks:
    title: Tasks
    charts: [task-status]
    default_layout:
      - components:
          - chart: task-status
`

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a starter vulndash.yaml",
		Long: `Write a vulndash.yaml with example sources, charts and dashboards for
NVTs, results and tasks. Point backend.base_url at your backend and set
GMP_TOKEN before serving.`,
		Example: `  # Initialize in current directory
  vulndash init

  # Initialize in a new directory
  vulndash init /etc/vulndash

  # Force overwrite existing config
  vulndash init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(cmd, dir, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")

	return cmd
}

func runInit(cmd *cobra.Command, dir string, force bool) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	path := filepath.Join(dir, intconfig.ConfigFileName)
	if existing := intconfig.FindConfigFile("", dir); existing != "" && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", existing)
	}

	if err := os.WriteFile(path, []byte(SampleConfig), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Created %s\n", path)
	_, _ = fmt.Fprintln(out, "Next steps:")
	_, _ = fmt.Fprintln(out, "  1. Set backend.base_url and export GMP_TOKEN")
	_, _ = fmt.Fprintln(out, "  2. Run 'vulndash doctor' to check the setup")
	_, _ = fmt.Fprintln(out, "  3. Run 'vulndash serve'")
	return nil
}
