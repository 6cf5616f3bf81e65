package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/vulndash/internal/blob"
	"github.com/leapstack-labs/vulndash/internal/cli/config"
	"github.com/leapstack-labs/vulndash/internal/metrics"
	"github.com/leapstack-labs/vulndash/internal/telemetry"
	"github.com/leapstack-labs/vulndash/internal/ui"
)

// telemetryShutdownTimeout bounds the final span flush.
const telemetryShutdownTimeout = 5 * time.Second

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	NoBrowser bool
	Dev       bool
	Version   string
}

// NewServeCommand creates the serve command.
func NewServeCommand(version string) *cobra.Command {
	opts := &ServeOptions{Version: version}

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"ui"},
		Short:   "Start the dashboard server",
		Long: `Start the web server that shows the configured dashboards.

The server provides:
- One page per dashboard with live chart updates
- Edit mode to add, remove, move and resize charts
- Per-user layouts stored in the state database
- Detached charts and CSV, HTML and SVG downloads
- Prometheus metrics on /metrics

Descriptors are reloaded when the config file changes.`,
		Example: `  # Serve the dashboards of ./vulndash.yaml
  vulndash serve

  # Serve on another address against a specific backend
  vulndash serve --addr 0.0.0.0:9000 --backend-url https://gsa.example.com

  # Start without auto-opening browser
  vulndash serve --no-browser`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().String("addr", "", "Address to listen on (default: 127.0.0.1:8765)")
	cmd.Flags().Duration("refresh-interval", 0, "Reload all charts this often; 0 keeps the configured interval")
	cmd.Flags().Bool("watch", true, "Reload descriptors when the config file changes")
	cmd.Flags().Bool("telemetry", false, "Export traces over OTLP")
	cmd.Flags().String("otlp-endpoint", "", "OTLP gRPC endpoint (default: localhost:4317)")
	cmd.Flags().BoolVar(&opts.NoBrowser, "no-browser", false, "Don't auto-open browser")
	cmd.Flags().BoolVar(&opts.Dev, "dev", false, "Enable the hot reload endpoint")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cmdCtx := NewCommandContext(cmd)
	cfg := cmdCtx.Cfg
	logger := cmdCtx.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, opts.Version, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	client, err := newBackend(cfg, logger)
	if err != nil {
		return err
	}

	store, err := openStore(cfg.State.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	m := metrics.New()
	blobs := blob.NewStore(cfg.UI.BlobPrefix, m)

	// The server does not exist yet when the registry is built; data
	// sources only report after it started serving.
	var server *ui.Server
	reg, err := newRegistry(cfg, logger, registryOptions{
		fetcher: client,
		blobs:   blobs,
		metrics: m,
		onUnauthorized: func() {
			server.ResetAll("backend session expired")
		},
	})
	if err != nil {
		return err
	}
	defer reg.Close()

	server = ui.NewServer(ui.Config{
		Registry:        reg,
		Blobs:           blobs,
		Prefs:           store,
		Metrics:         m,
		Addr:            cfg.UI.Addr,
		RefreshInterval: cfg.UI.RefreshInterval,
		SessionSecret:   cfg.UI.SessionSecret,
		Watch:           cfg.UI.Watch,
		ConfigPath:      config.GetConfigFileUsed(),
		Dev:             opts.Dev,
		Logger:          logger,
	})

	url := browserURL(cfg.UI.Addr)
	if !opts.NoBrowser {
		go openBrowser(url)
	}

	_, _ = fmt.Fprintf(cmdCtx.Out, "Serving %d dashboards on %s\n", len(cfg.Dashboards), url)
	_, _ = fmt.Fprintln(cmdCtx.Out, "Press Ctrl+C to stop")

	return server.Serve(ctx)
}

// browserURL turns a listen address into a URL a local browser can open.
func browserURL(addr string) string {
	switch {
	case strings.HasPrefix(addr, ":"):
		addr = "localhost" + addr
	case strings.HasPrefix(addr, "0.0.0.0:"):
		addr = "localhost" + strings.TrimPrefix(addr, "0.0.0.0")
	}
	return "http://" + addr
}

// openBrowser opens the default browser to the specified URL.
func openBrowser(url string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url) //nolint:noctx
	case "linux":
		cmd = exec.Command("xdg-open", url) //nolint:noctx
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url) //nolint:noctx
	default:
		return
	}

	_ = cmd.Start()
}
