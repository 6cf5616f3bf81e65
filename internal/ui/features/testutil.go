// Package features provides shared test utilities for UI feature tests.
package features

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/vulndash/internal/backend"
	"github.com/leapstack-labs/vulndash/internal/blob"
	"github.com/leapstack-labs/vulndash/internal/chart"
	"github.com/leapstack-labs/vulndash/internal/config"
	"github.com/leapstack-labs/vulndash/internal/extract"
	"github.com/leapstack-labs/vulndash/internal/metrics"
	"github.com/leapstack-labs/vulndash/internal/registry"
	"github.com/leapstack-labs/vulndash/internal/state"
	"github.com/leapstack-labs/vulndash/internal/testutil"
	"github.com/leapstack-labs/vulndash/internal/ui/notifier"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// AggregateXML is the canned backend answer of StaticFetcher: one group
// with CVSS 5.0 counted three times.
const AggregateXML = `<get_aggregates_response status="200" status_text="OK"><aggregate>` +
	`<group><value>5.0</value><count>3</count></group>` +
	`</aggregate></get_aggregates_response>`

// StaticFetcher answers every backend call with the same body and records
// the calls.
type StaticFetcher struct {
	Body []byte
	Err  error

	mu    sync.Mutex
	calls []url.Values
}

// Fetch implements datasource.Fetcher.
func (f *StaticFetcher) Fetch(_ context.Context, _ string, params url.Values) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, params)
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Body == nil {
		return []byte(AggregateXML), nil
	}
	return f.Body, nil
}

// Calls returns the number of backend calls so far.
func (f *StaticFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// TestFixture holds all dependencies needed for UI handler tests.
type TestFixture struct {
	Config       *config.Config
	Fetcher      *StaticFetcher
	Registry     *registry.Registry
	Blobs        *blob.Store
	Prefs        core.PreferenceStore
	Metrics      *metrics.Metrics
	Notifier     *notifier.Notifier
	SessionStore *sessions.CookieStore
}

// TestConfig returns a configuration with one aggregate source, two charts
// over it and a dashboard "main" showing both side by side.
func TestConfig() *config.Config {
	cfg := &config.Config{
		Sources: map[string]config.SourceConfig{
			"nvts": {
				Kind:      extract.KindAggregate,
				Aggregate: backend.AggregateParams{AggregateType: "nvt", GroupColumn: "severity"},
			},
		},
		Charts: map[string]config.ChartConfig{
			"by-cvss": {
				Type:      chart.TypeBar,
				Source:    "nvts",
				Transform: "severity_histogram",
				Title:     config.TitleConfig{Kind: "total", Label: "NVTs by CVSS"},
			},
			"by-class": {
				Type:      chart.TypeDonut,
				Source:    "nvts",
				Transform: "severity_level_counts",
				Title:     config.TitleConfig{Kind: "total", Label: "NVTs by Severity Class"},
			},
		},
		Dashboards: map[string]config.DashboardConfig{
			"main": {
				Title:  "NVTs",
				Charts: []string{"by-cvss", "by-class"},
				DefaultLayout: []config.RowConfig{
					{Height: 300, Components: []config.ComponentConfig{{Chart: "by-cvss"}, {Chart: "by-class"}}},
				},
				Preferences: config.PreferenceIDs{
					Controllers: "main-controllers",
					Heights:     "main-heights",
					Filters:     "main-filters",
				},
				Filters: []core.Filter{{ID: "f1", Name: "High", Term: "severity>7"}},
			},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

// SetupTestFixture creates a registry over TestConfig backed by a
// StaticFetcher and an in-memory preference store.
func SetupTestFixture(t *testing.T) *TestFixture {
	t.Helper()

	logger := testutil.NewTestLogger(t)

	prefs := state.NewSQLiteStore()
	require.NoError(t, prefs.Open(":memory:"))
	require.NoError(t, prefs.InitSchema())
	t.Cleanup(func() { _ = prefs.Close() })

	m := metrics.New()
	cfg := TestConfig()
	fetcher := &StaticFetcher{}
	blobs := blob.NewStore(cfg.UI.BlobPrefix, m)

	reg, err := registry.New(registry.Options{
		Config:  cfg,
		Fetcher: fetcher,
		Store:   blobs,
		Metrics: m,
		Logger:  logger,
	})
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	return &TestFixture{
		Config:       cfg,
		Fetcher:      fetcher,
		Registry:     reg,
		Blobs:        blobs,
		Prefs:        prefs,
		Metrics:      m,
		Notifier:     notifier.New(),
		SessionStore: NewTestSessionStore(),
	}
}

// RequestWithPathParam wraps a request with chi URL params, given as
// key/value pairs.
func RequestWithPathParam(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// NewTestSessionStore creates a session store for testing.
func NewTestSessionStore() *sessions.CookieStore {
	return sessions.NewCookieStore([]byte("test-secret-key-32-bytes-long!!"))
}

// SessionCookies returns the cookies set on a response, for replaying a
// session in follow-up requests.
func SessionCookies(h http.Header) []*http.Cookie {
	return (&http.Response{Header: h}).Cookies()
}
