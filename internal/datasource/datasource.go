// Package datasource coordinates backend fetches for one query shape.
//
// A DataSource is shared by many chart controllers. It keeps at most one
// outstanding fetch per filter key, caches the last successful response
// per filter and fans each result out to every requester still waiting
// for it.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/leapstack-labs/vulndash/internal/backend"
	"github.com/leapstack-labs/vulndash/internal/extract"
	"github.com/leapstack-labs/vulndash/internal/metrics"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// Requester receives the outcome of a request.
type Requester interface {
	// DataLoaded delivers the parsed result for filter with the params
	// the request was registered with. Delivery happens outside the
	// source's lock, so a requester that has moved on to another filter
	// must drop it.
	DataLoaded(filter core.Filter, data *core.Data, params core.GenParams)
	// ShowError reports a user-facing failure message for filter.
	ShowError(filter core.Filter, msg string)
	// DisplayID identifies the display the requester draws into. A new
	// request for a display supersedes the previous one.
	DisplayID() string
}

// Fetcher runs a backend command.
type Fetcher interface {
	Fetch(ctx context.Context, cmd string, params url.Values) ([]byte, error)
}

// RequestOptions tune a single request.
type RequestOptions struct {
	// Reload drops the cached response for the filter and forces a fetch.
	Reload bool
}

// Config holds everything a DataSource needs.
type Config struct {
	Name    string
	Kind    extract.Kind
	Command string
	Params  url.Values
	Fetcher Fetcher
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// OnUnauthorized is called when the backend reports an expired session.
	OnUnauthorized func()
}

type pending struct {
	params core.GenParams
	active bool
}

type inflight struct {
	cancel context.CancelFunc
}

type lastRequest struct {
	requester Requester
	filterKey string
}

type delivery struct {
	requester Requester
	filter    core.Filter
	params    core.GenParams
}

// DataSource is safe for concurrent use.
type DataSource struct {
	cfg     Config
	extract extract.Func
	logger  *slog.Logger

	mu       sync.Mutex
	requests map[string]map[Requester]*pending
	filters  map[string]core.Filter
	active   map[string]*inflight
	last     map[string]lastRequest
	xmlData  map[string][]byte
	data     map[string]*core.Data
	closed   bool
}

// New creates a DataSource.
func New(cfg Config) (*DataSource, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("datasource: fetcher is required")
	}
	fn, err := extract.ForKind(cfg.Kind)
	if err != nil {
		return nil, err
	}
	if cfg.Command == "" {
		cfg.Command = commandFor(cfg.Kind)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &DataSource{
		cfg:      cfg,
		extract:  fn,
		logger:   logger.With("source", cfg.Name),
		requests: make(map[string]map[Requester]*pending),
		filters:  make(map[string]core.Filter),
		active:   make(map[string]*inflight),
		last:     make(map[string]lastRequest),
		xmlData:  make(map[string][]byte),
		data:     make(map[string]*core.Data),
	}, nil
}

func commandFor(kind extract.Kind) string {
	if kind == extract.KindTasks {
		return backend.CmdTasks
	}
	return backend.CmdAggregate
}

// Name returns the configured source name.
func (ds *DataSource) Name() string { return ds.cfg.Name }

// Command returns the backend command this source issues.
func (ds *DataSource) Command() string { return ds.cfg.Command }

// Params returns a copy of the fixed query parameters.
func (ds *DataSource) Params() url.Values {
	return backend.WithFilter(ds.cfg.Params, core.Filter{})
}

// AddRequest registers r as waiting for filter. An earlier request from the
// same display is removed first, so only the newest one is answered.
func (ds *DataSource) AddRequest(r Requester, filter core.Filter, params core.GenParams) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.addLocked(r, filter, params)
}

func (ds *DataSource) addLocked(r Requester, filter core.Filter, params core.GenParams) {
	if ds.closed {
		return
	}
	key := filter.Key()
	display := r.DisplayID()
	prev, hadPrev := ds.last[display]

	reqs, ok := ds.requests[key]
	if !ok {
		reqs = make(map[Requester]*pending)
		ds.requests[key] = reqs
	}
	reqs[r] = &pending{params: params.Clone(), active: true}
	ds.filters[key] = filter
	ds.last[display] = lastRequest{requester: r, filterKey: key}

	// The new entry is in place before the superseded one goes, so a
	// fetch shared by both is not aborted.
	if hadPrev && (prev.requester != r || prev.filterKey != key) {
		ds.removeLocked(prev.requester, prev.filterKey)
	}
}

// RemoveRequest deregisters r from filter. When no requester remains for
// the filter, its in-flight fetch is aborted.
func (ds *DataSource) RemoveRequest(r Requester, filter core.Filter) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.removeLocked(r, filter.Key())
}

func (ds *DataSource) removeLocked(r Requester, key string) {
	if last, ok := ds.last[r.DisplayID()]; ok && last.requester == r && last.filterKey == key {
		delete(ds.last, r.DisplayID())
	}

	reqs, ok := ds.requests[key]
	if !ok {
		return
	}
	delete(reqs, r)
	if len(reqs) > 0 {
		return
	}
	delete(ds.requests, key)

	if fl, ok := ds.active[key]; ok {
		fl.cancel()
		delete(ds.active, key)
		ds.cfg.Metrics.FetchAborted(ds.cfg.Name)
		ds.logger.Debug("aborted fetch without requesters", "filter", key)
	}
}

// SendRequest registers r and immediately checks for work.
func (ds *DataSource) SendRequest(r Requester, filter core.Filter, params core.GenParams, opts RequestOptions) {
	ds.mu.Lock()
	ds.addLocked(r, filter, params)
	if opts.Reload {
		key := filter.Key()
		if _, busy := ds.active[key]; !busy {
			delete(ds.xmlData, key)
			delete(ds.data, key)
		}
	}
	ds.mu.Unlock()

	ds.CheckRequests(filter)
}

// CheckRequests answers waiting requesters of filter from the cache, or
// starts the single fetch for it.
func (ds *DataSource) CheckRequests(filter core.Filter) {
	key := filter.Key()

	ds.mu.Lock()
	if ds.closed || len(ds.requests[key]) == 0 {
		ds.mu.Unlock()
		return
	}
	if _, busy := ds.active[key]; busy {
		ds.mu.Unlock()
		return
	}

	if data, ok := ds.data[key]; ok {
		out := ds.takeActiveLocked(key)
		ds.mu.Unlock()
		if len(out) > 0 {
			ds.cfg.Metrics.CacheHit(ds.cfg.Name)
		}
		deliver(out, data)
		return
	}

	if len(ds.activeRequestersLocked(key)) == 0 {
		ds.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	fl := &inflight{cancel: cancel}
	ds.active[key] = fl
	f := ds.filters[key]
	ds.mu.Unlock()

	ds.cfg.Metrics.FetchStarted(ds.cfg.Name)
	go ds.fetch(ctx, fl, key, f)
}

func (ds *DataSource) fetch(ctx context.Context, fl *inflight, key string, filter core.Filter) {
	defer fl.cancel()

	start := time.Now()
	raw, err := ds.cfg.Fetcher.Fetch(ctx, ds.cfg.Command, backend.WithFilter(ds.cfg.Params, filter))
	ds.cfg.Metrics.ObserveFetch(ds.cfg.Name, time.Since(start))

	var data *core.Data
	if err == nil {
		data, err = ds.extract(raw)
	}

	ds.mu.Lock()
	if ds.active[key] != fl {
		// Aborted or superseded; the result must not touch the cache.
		ds.mu.Unlock()
		return
	}
	delete(ds.active, key)

	if err != nil {
		out := ds.takeActiveLocked(key)
		ds.mu.Unlock()
		ds.fail(key, err, out)
		return
	}

	ds.xmlData[key] = raw
	ds.data[key] = data
	out := ds.takeActiveLocked(key)
	ds.mu.Unlock()

	deliver(out, data)
}

func (ds *DataSource) fail(key string, err error, out []delivery) {
	var (
		httpErr   *backend.HTTPError
		statusErr *extract.StatusError
	)
	switch {
	case errors.Is(err, backend.ErrAborted):
		ds.logger.Debug("loading aborted", "filter", key)
		return
	case errors.Is(err, backend.ErrUnauthorized):
		ds.cfg.Metrics.FetchFailed(ds.cfg.Name, "unauthorized")
		ds.logger.Warn("session expired", "filter", key)
		if ds.cfg.OnUnauthorized != nil {
			ds.cfg.OnUnauthorized()
		}
		return
	case errors.As(err, &httpErr):
		ds.cfg.Metrics.FetchFailed(ds.cfg.Name, "http")
		ds.logger.Error("backend request failed", "filter", key, "url", httpErr.URL, "status", httpErr.Code, "error", err)
	case errors.As(err, &statusErr):
		ds.cfg.Metrics.FetchFailed(ds.cfg.Name, "status")
		ds.logger.Error("backend returned error status", "filter", key, "command", ds.cfg.Command, "status", statusErr.Status, "error", err)
	case errors.Is(err, extract.ErrParse):
		ds.cfg.Metrics.FetchFailed(ds.cfg.Name, "parse")
		ds.logger.Error("could not parse response", "filter", key, "command", ds.cfg.Command, "error", err)
	default:
		ds.cfg.Metrics.FetchFailed(ds.cfg.Name, "http")
		ds.logger.Error("backend request failed", "filter", key, "command", ds.cfg.Command, "error", err)
	}

	msg := ErrorMessage(err)
	for _, d := range out {
		d.requester.ShowError(d.filter, msg)
	}
}

// ErrorMessage renders the user-facing text for a fetch failure.
func ErrorMessage(err error) string {
	var (
		httpErr   *backend.HTTPError
		statusErr *extract.StatusError
	)
	switch {
	case errors.As(err, &statusErr):
		return "Error while loading data: " + statusErr.Text
	case errors.As(err, &httpErr):
		return fmt.Sprintf("Error while loading data: HTTP %d", httpErr.Code)
	case errors.Is(err, extract.ErrParse):
		return "Error while parsing data"
	default:
		return "Error while loading data"
	}
}

func (ds *DataSource) activeRequestersLocked(key string) []Requester {
	var out []Requester
	for r, p := range ds.requests[key] {
		if p.active {
			out = append(out, r)
		}
	}
	return out
}

// takeActiveLocked collects the active requesters of key and marks them
// answered.
func (ds *DataSource) takeActiveLocked(key string) []delivery {
	var out []delivery
	filter := ds.filters[key]
	for r, p := range ds.requests[key] {
		if !p.active {
			continue
		}
		p.active = false
		out = append(out, delivery{requester: r, filter: filter, params: p.params})
	}
	return out
}

func deliver(out []delivery, data *core.Data) {
	for _, d := range out {
		d.requester.DataLoaded(d.filter, data, d.params)
	}
}

// Cached returns the last successfully parsed data for filter.
func (ds *DataSource) Cached(filter core.Filter) (*core.Data, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	d, ok := ds.data[filter.Key()]
	return d, ok
}

// CachedXML returns the raw response cached for filter.
func (ds *DataSource) CachedXML(filter core.Filter) ([]byte, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	raw, ok := ds.xmlData[filter.Key()]
	return raw, ok
}

// InFlight reports whether a fetch for filter is outstanding.
func (ds *DataSource) InFlight(filter core.Filter) bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	_, ok := ds.active[filter.Key()]
	return ok
}

// Requesters returns how many requesters are registered for filter.
func (ds *DataSource) Requesters(filter core.Filter) int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return len(ds.requests[filter.Key()])
}

// Close aborts all fetches and drops every requester and cache entry.
func (ds *DataSource) Close() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	for key, fl := range ds.active {
		fl.cancel()
		delete(ds.active, key)
	}
	ds.requests = make(map[string]map[Requester]*pending)
	ds.last = make(map[string]lastRequest)
	ds.xmlData = make(map[string][]byte)
	ds.data = make(map[string]*core.Data)
	ds.closed = true
}
