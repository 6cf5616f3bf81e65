// Package config loads the service configuration for the CLI: defaults,
// the config file, VULNDASH_ environment variables and command-line
// flags, lowest priority first.
package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/knadh/koanf/providers/posflag"
	"github.com/spf13/pflag"

	intconfig "github.com/leapstack-labs/vulndash/internal/config"
)

// loggerKey is used to store logger in context.
type loggerKey struct{}

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// flagKeys maps command-line flags to config keys. Flags not listed here
// are command options and never reach the config.
var flagKeys = map[string]string{
	"addr":             "ui.addr",
	"backend-url":      "backend.base_url",
	"token":            "backend.token",
	"state":            "state.path",
	"refresh-interval": "ui.refresh_interval",
	"watch":            "ui.watch",
	"telemetry":        "telemetry.enabled",
	"otlp-endpoint":    "telemetry.endpoint",
	"verbose":          "verbose",
}

// Package-level config file tracking
var (
	configFileUsed string
	currentConfig  *intconfig.Config // Stores the loaded config for access by commands
)

// findProjectRootUpward searches upward from startDir for a config file.
// Returns empty string if not found within maxUpwardSearchLevels.
func findProjectRootUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if path := intconfig.FindConfigFile("", dir); path != "" {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}
	return ""
}

// FindConfigFile returns the config file to use: the explicit path, else
// the nearest vulndash.yaml or vulndash.yml at or above the working
// directory. It returns "" when there is none.
func FindConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findProjectRootUpward(cwd)
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
// Returns the path unchanged if it's empty or already absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ResetConfig forgets the loaded config. Used for testing.
func ResetConfig() {
	configFileUsed = ""
	currentConfig = nil
}

// LoadConfig loads configuration from defaults, the config file,
// environment variables and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*intconfig.Config, error) {
	path := FindConfigFile(cfgFile)

	// 1-3. Defaults, config file and environment
	k, err := intconfig.NewKoanf(path)
	if err != nil {
		return nil, err
	}

	// 4. Load flags (highest priority - overrides env vars and config file)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Decode, apply defaults and validate
	cfg, err := intconfig.Unmarshal(k)
	if err != nil {
		if path != "" {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return nil, err
	}

	// 6. Paths in the config file are relative to the file, flags to the CWD
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			baseDir := filepath.Dir(abs)
			if flags == nil || !flags.Changed("state") {
				cfg.State.Path = resolvePathRelativeTo(cfg.State.Path, baseDir)
			}
			cfg.UI.Stylesheet = resolvePathRelativeTo(cfg.UI.Stylesheet, baseDir)
		}
	}

	cfg.Backend.Token = expandEnvVars(cfg.Backend.Token)
	cfg.UI.SessionSecret = expandEnvVars(cfg.UI.SessionSecret)

	configFileUsed = path
	currentConfig = cfg

	return cfg, nil
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the currently loaded configuration.
// This is available after LoadConfig is called.
func GetCurrentConfig() *intconfig.Config {
	return currentConfig
}

// NewLogger returns the CLI logger: text output, debug level when verbose.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	// Return discard logger as safe fallback
	return slog.New(slog.DiscardHandler)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR}
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}
