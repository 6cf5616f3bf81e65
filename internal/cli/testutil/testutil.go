// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// ValidToken is the only token Backend accepts.
const ValidToken = "test-token"

// AggregateXML answers every aggregate query: CVSS 5.0 counted three times
// and 9.8 counted once.
const AggregateXML = `<get_aggregates_response status="200" status_text="OK"><aggregate>` +
	`<group><value>5.0</value><count>3</count></group>` +
	`<group><value>9.8</value><count>1</count></group>` +
	`</aggregate></get_aggregates_response>`

// VersionXML answers get_version.
const VersionXML = `<get_version_response status="200" status_text="OK"><version>22.4</version></get_version_response>`

// ProjectConfig is a project with one aggregate source, two charts over it
// and a dashboard showing both. The backend URL is filled in by
// SetupTestProject.
const ProjectConfig = `
backend:
  base_url: {{BACKEND}}
  token: test-token
state:
  path: state.db
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
    title:
      kind: total
      label: NVTs by CVSS
  by-class:
    type: donut
    source: nvts
    transform: severity_level_counts
dashboards:
  main:
    title: NVTs
    charts: [by-cvss, by-class]
    preferences:
      controllers: main-controllers
      heights: main-heights
      filters: main-filters
    default_layout:
      - height: 300
        components:
          - chart: by-cvss
          - chart: by-class
`

// Backend is a fake management backend serving /gmp.
type Backend struct {
	*httptest.Server

	mu      sync.Mutex
	queries []url.Values
}

// NewBackend starts a fake backend that is closed with the test.
func NewBackend(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Close)
	return b
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/gmp" {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	b.mu.Lock()
	b.queries = append(b.queries, q)
	b.mu.Unlock()

	if q.Get("token") != ValidToken {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	switch q.Get("cmd") {
	case "get_version":
		_, _ = w.Write([]byte(VersionXML))
	case "get_aggregate":
		_, _ = w.Write([]byte(AggregateXML))
	default:
		http.Error(w, "unknown command", http.StatusBadRequest)
	}
}

// Queries returns the query strings received so far.
func (b *Backend) Queries() []url.Values {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]url.Values, len(b.queries))
	copy(out, b.queries)
	return out
}

// SetupTestProject writes ProjectConfig pointing at backendURL into a
// temporary directory and returns the config file path.
func SetupTestProject(t *testing.T, backendURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "vulndash.yaml")
	content := strings.ReplaceAll(ProjectConfig, "{{BACKEND}}", backendURL)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// ExecuteCommand runs cmd with args and returns everything it printed.
func ExecuteCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
