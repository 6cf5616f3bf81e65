package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intconfig "github.com/leapstack-labs/vulndash/internal/config"
)

const testConfig = `
backend:
  base_url: https://gsa.example.com
  token: ${VULNDASH_TEST_TOKEN}
state:
  path: data/state.db
sources:
  nvts:
    kind: aggregate
    aggregate:
      aggregate_type: nvt
      group_column: severity
charts:
  by-cvss:
    type: bar
    source: nvts
    transform: severity_histogram
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, intconfig.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", "", "")
	flags.String("state", "", "")
	flags.String("backend-url", "", "")
	flags.Duration("refresh-interval", 0, "")
	flags.Bool("verbose", false, "")
	flags.Bool("no-browser", false, "")
	return flags
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("VULNDASH_TEST_TOKEN", "s3cret")
	dir := t.TempDir()
	path := writeConfig(t, dir, testConfig)
	t.Cleanup(ResetConfig)

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://gsa.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "s3cret", cfg.Backend.Token, "${VAR} is expanded")
	assert.Equal(t, filepath.Join(dir, "data", "state.db"), cfg.State.Path, "relative to the config file")
	assert.Equal(t, intconfig.DefaultAddr, cfg.UI.Addr)
	assert.Contains(t, cfg.Charts, "by-cvss")
	assert.Equal(t, path, GetConfigFileUsed())
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, testConfig+"ui:\n  addr: 0.0.0.0:9000\n  refresh_interval: 1m\n")
	t.Cleanup(ResetConfig)

	tests := []struct {
		name        string
		env         map[string]string
		args        []string
		wantAddr    string
		wantRefresh time.Duration
		wantBackend string
	}{
		{
			name:        "file over defaults",
			wantAddr:    "0.0.0.0:9000",
			wantRefresh: time.Minute,
			wantBackend: "https://gsa.example.com",
		},
		{
			name:        "env over file",
			env:         map[string]string{"VULNDASH_UI__ADDR": "127.0.0.1:7000"},
			wantAddr:    "127.0.0.1:7000",
			wantRefresh: time.Minute,
			wantBackend: "https://gsa.example.com",
		},
		{
			name:        "flags over env",
			env:         map[string]string{"VULNDASH_UI__ADDR": "127.0.0.1:7000"},
			args:        []string{"--addr", ":8000", "--refresh-interval", "10s", "--backend-url", "http://localhost:9392"},
			wantAddr:    ":8000",
			wantRefresh: 10 * time.Second,
			wantBackend: "http://localhost:9392",
		},
		{
			name:        "unmapped flags are ignored",
			args:        []string{"--no-browser"},
			wantAddr:    "0.0.0.0:9000",
			wantRefresh: time.Minute,
			wantBackend: "https://gsa.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			flags := newFlags()
			require.NoError(t, flags.Parse(tt.args))

			cfg, err := LoadConfig(path, flags)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, cfg.UI.Addr)
			assert.Equal(t, tt.wantRefresh, cfg.UI.RefreshInterval)
			assert.Equal(t, tt.wantBackend, cfg.Backend.BaseURL)
		})
	}
}

func TestLoadConfig_StateFlagIsRelativeToCWD(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, testConfig)
	t.Cleanup(ResetConfig)

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--state", "other.db"}))

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "other.db", cfg.State.Path)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Cleanup(ResetConfig)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	path := writeConfig(t, t.TempDir(), "charts:\n  broken:\n    type: pie\n    source: nope\n")
	_, err = LoadConfig(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
	assert.Contains(t, err.Error(), `unknown type "pie"`)
}

func TestFindConfigFile(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, root, testConfig)
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o750))
	t.Chdir(nested)

	assert.Equal(t, "explicit.yaml", FindConfigFile("explicit.yaml"))

	found := FindConfigFile("")
	want, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(found)
	require.NoError(t, err)
	assert.Equal(t, want, got, "found by searching upward")
}

func TestResolvePathRelativeTo(t *testing.T) {
	tests := []struct {
		path, base, want string
	}{
		{"", "/etc", ""},
		{":memory:", "/etc", ":memory:"},
		{"/abs/state.db", "/etc", "/abs/state.db"},
		{"state.db", "/etc/vulndash", "/etc/vulndash/state.db"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resolvePathRelativeTo(tt.path, tt.base))
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("VULNDASH_TEST_VAR", "value")
	assert.Equal(t, "a-value-b", expandEnvVars("a-${VULNDASH_TEST_VAR}-b"))
	assert.Equal(t, "${VULNDASH_UNSET_VAR}", expandEnvVars("${VULNDASH_UNSET_VAR}"))
}

func TestGetLogger(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()), "falls back to a discard logger")

	logger := NewLogger(os.Stderr, true)
	assert.Same(t, logger, GetLogger(WithLogger(context.Background(), logger)))
	assert.True(t, logger.Enabled(context.Background(), -4), "verbose enables debug")
	assert.False(t, NewLogger(os.Stderr, false).Enabled(context.Background(), -4))
}
