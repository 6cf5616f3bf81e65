// Package main provides tests for the vulndash CLI.
package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/vulndash/internal/cli"
	"github.com/leapstack-labs/vulndash/internal/cli/config"
	"github.com/leapstack-labs/vulndash/internal/cli/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(config.ResetConfig)
	cmd := cli.NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "vulndash v"+cli.Version)
}

func TestHelpCommand(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	for _, want := range []string{"serve", "charts", "dashboards", "export", "layout", "doctor", "init"} {
		assert.Contains(t, out, want)
	}
}

func TestChartsCommand(t *testing.T) {
	backend := testutil.NewBackend(t)
	path := testutil.SetupTestProject(t, backend.URL)

	out, err := execute(t, "charts", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "by-cvss")
}

func TestFlagsOverrideConfig(t *testing.T) {
	backend := testutil.NewBackend(t)
	path := testutil.SetupTestProject(t, "http://127.0.0.1:1")
	state := filepath.Join(t.TempDir(), "other.db")

	out, err := execute(t, "doctor", "--config", path, "--backend-url", backend.URL, "--state", state)
	require.NoError(t, err, out)
	assert.Contains(t, out, backend.URL)

	_, err = os.Stat(state)
	assert.NoError(t, err, "--state selects the database")
}

func TestEnvOverridesConfig(t *testing.T) {
	backend := testutil.NewBackend(t)
	path := testutil.SetupTestProject(t, backend.URL)
	t.Setenv("VULNDASH_BACKEND__TOKEN", "wrong")

	out, err := execute(t, "doctor", "--config", path)
	assert.Error(t, err)
	assert.Contains(t, out, "backend rejected the token")
}

func TestVerboseLogsConfigFile(t *testing.T) {
	backend := testutil.NewBackend(t)
	path := testutil.SetupTestProject(t, backend.URL)

	out, err := execute(t, "dashboards", "--config", path, "-v")
	require.NoError(t, err)
	assert.Contains(t, out, "using config file")
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vulndash.yaml")
	require.NoError(t, os.WriteFile(path, []byte("charts:\n  c:\n    type: pie\n    source: s\n"), 0o600))

	_, err := execute(t, "charts", "--config", path)
	assert.ErrorContains(t, err, `unknown type "pie"`)
}

func TestInitSkipsConfig(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "init", dir, "--config", filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "Created")
}

func TestCompletionCommand(t *testing.T) {
	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		t.Run(shell, func(t *testing.T) {
			out, err := execute(t, "completion", shell)
			require.NoError(t, err)
			assert.Contains(t, out, "vulndash")
		})
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, "unknown-command")
	assert.Error(t, err)
}
