package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/vulndash/internal/blob"
	"github.com/leapstack-labs/vulndash/internal/chart"
	"github.com/leapstack-labs/vulndash/internal/chart/svgrender"
	"github.com/leapstack-labs/vulndash/internal/config"
	"github.com/leapstack-labs/vulndash/internal/datasource"
	"github.com/leapstack-labs/vulndash/internal/extract"
	"github.com/leapstack-labs/vulndash/internal/testutil"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// quiet drops logs of background fetches that may outlive a test.
var quiet = slog.New(slog.DiscardHandler)

type countingFetcher struct {
	calls atomic.Int32
}

func (f *countingFetcher) Fetch(_ context.Context, _ string, params url.Values) ([]byte, error) {
	f.calls.Add(1)
	value := params.Get("filt_id")
	if value == "" {
		value = "all"
	}
	return []byte(`<get_aggregates_response status="200" status_text="OK"><aggregate>` +
		`<group><value>` + value + `</value><count>2</count></group>` +
		`</aggregate></get_aggregates_response>`), nil
}

type testFactory struct {
	source *datasource.DataSource
	store  *blob.Store
}

func (f *testFactory) NewController(name string, display chart.Display) (*chart.Controller, error) {
	if name == "broken" {
		return nil, errors.New("no such source")
	}
	gen, err := chart.New(chart.TypeBar, chart.Options{Name: name, Store: f.store})
	if err != nil {
		return nil, err
	}
	return chart.NewController(chart.ControllerConfig{
		Name:      name,
		Source:    f.source,
		Generator: gen,
		Display:   display,
		Logger:    quiet,
	}), nil
}

// memStore is an in-memory preference store recording every write.
type memStore struct {
	mu     sync.Mutex
	values map[string]string
	writes []string
	// block, when set, holds writes until closed or canceled.
	block chan struct{}
	// failures is the number of upcoming writes that fail.
	failures int
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]string)}
}

func (s *memStore) Open(string) error { return nil }
func (s *memStore) Close() error      { return nil }
func (s *memStore) InitSchema() error { return nil }

func (s *memStore) GetPreference(_ context.Context, userID, prefID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[userID+"/"+prefID]
	return v, ok, nil
}

func (s *memStore) SavePreference(ctx context.Context, userID, prefID, value string) error {
	s.mu.Lock()
	block := s.block
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("database is locked")
	}
	s.values[userID+"/"+prefID] = value
	s.writes = append(s.writes, prefID+"="+value)
	return nil
}

func (s *memStore) DeletePreference(_ context.Context, userID, prefID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, userID+"/"+prefID)
	return nil
}

func (s *memStore) ListPreferences(_ context.Context, userID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for k, v := range s.values {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) writeLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

func (s *memStore) resetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = nil
}

type recordingReorderer struct {
	mu    sync.Mutex
	calls []bool
}

func (r *recordingReorderer) SetEditable(editable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, editable)
}

var testPrefs = config.PreferenceIDs{
	Controllers: "dash-controllers",
	Heights:     "dash-heights",
	Filters:     "dash-filters",
}

var testFilters = []core.Filter{{ID: "f1", Name: "One"}, {ID: "f2", Name: "Two"}, {ID: "f3", Name: "Three"}}

type harness struct {
	fetcher   *countingFetcher
	store     *memStore
	reorderer *recordingReorderer
	factory   *testFactory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := &countingFetcher{}
	ds, err := datasource.New(datasource.Config{
		Name:    "nvts",
		Kind:    extract.KindAggregate,
		Fetcher: f,
		Logger:  quiet,
	})
	require.NoError(t, err)
	t.Cleanup(ds.Close)

	return &harness{
		fetcher:   f,
		store:     newMemStore(),
		reorderer: &recordingReorderer{},
		factory:   &testFactory{source: ds, store: blob.NewStore("", nil)},
	}
}

func (h *harness) config(t *testing.T, mutate ...func(*Config)) Config {
	t.Helper()
	cfg := Config{
		ID:          "dash",
		Charts:      []string{"A", "B", "C"},
		Filters:     testFilters,
		Preferences: testPrefs,
		Limits:      config.DefaultLayoutLimits(),
		Controllers: h.factory,
		Displays: func(id string, w, hgt int) chart.Display {
			return svgrender.New(id, w, hgt, nil)
		},
		Saver:     NewSaver(h.store, "user-1", testutil.NewTestLogger(t), nil),
		Reorderer: h.reorderer,
		Logger:    testutil.NewTestLogger(t),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return cfg
}

func (h *harness) load(t *testing.T, cfg Config) *Dashboard {
	t.Helper()
	d, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, d.Load(context.Background()))
	t.Cleanup(d.Close)
	return d
}

func chartNames(d *Dashboard) [][]string {
	var out [][]string
	for _, r := range d.Rows() {
		var row []string
		for _, c := range r.Components() {
			row = append(row, c.ChartName())
		}
		out = append(out, row)
	}
	return out
}
