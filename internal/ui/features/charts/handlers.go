// Package charts serves the chart index and detached charts: a single
// chart rebuilt from its query string outside any dashboard.
package charts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/vulndash/internal/chart"
	"github.com/leapstack-labs/vulndash/internal/registry"
	"github.com/leapstack-labs/vulndash/internal/ui/features/common"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// Detached chart defaults.
const (
	DefaultWidth   = 800
	DefaultHeight  = 500
	DefaultTimeout = 30 * time.Second
)

// ChartInfo is one entry of the chart index.
type ChartInfo struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Type   string `json:"type"`
	Source string `json:"source"`
}

// Handlers provides HTTP handlers for the charts feature.
type Handlers struct {
	registry *registry.Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewHandlers creates a new Handlers instance. A zero timeout means
// DefaultTimeout.
func NewHandlers(reg *registry.Registry, timeout time.Duration, logger *slog.Logger) *Handlers {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{registry: reg, timeout: timeout, logger: logger}
}

// Index lists the configured charts.
func (h *Handlers) Index(w http.ResponseWriter, _ *http.Request) {
	names := h.registry.ChartNames()
	out := make([]ChartInfo, 0, len(names))
	for _, name := range names {
		ch, _ := h.registry.Chart(name)
		out = append(out, ChartInfo{
			Name:   name,
			Label:  registry.Label(name, ch),
			Type:   ch.Type,
			Source: ch.Source,
		})
	}
	common.WriteJSON(w, http.StatusOK, out)
}

// request is a parsed detached chart query.
type request struct {
	name   string
	filter core.Filter
	params core.GenParams
	width  int
	height int
	format chart.ExportKind
}

// viewParams are query keys of the detached page itself.
var viewParams = []string{"width", "height", "format"}

func (h *Handlers) parse(q url.Values) (request, error) {
	req := request{
		name:   q.Get("chart"),
		filter: core.Filter{ID: q.Get("filt_id"), Term: q.Get("filter")},
		width:  DefaultWidth,
		height: DefaultHeight,
		format: chart.ExportKind(q.Get("format")),
	}
	if req.name == "" {
		return req, fmt.Errorf("%w: chart is required", common.ErrBadRequest)
	}
	ch, ok := h.registry.Chart(req.name)
	if !ok {
		return req, fmt.Errorf("%w: %s", registry.ErrUnknownChart, req.name)
	}
	src, err := h.registry.Source(ch.Source)
	if err != nil {
		return req, err
	}

	skip := src.Params()
	for _, k := range viewParams {
		skip.Set(k, "")
	}
	req.params = chart.MergeParams(ch.Params, chart.DecodeParams(q, skip))

	for key, dst := range map[string]*int{"width": &req.width, "height": &req.height} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return req, fmt.Errorf("%w: invalid %s %q", common.ErrBadRequest, key, raw)
		}
		*dst = n
	}

	switch req.format {
	case "", chart.ExportCSV, chart.ExportHTML, chart.ExportSVG:
	default:
		return req, fmt.Errorf("%w: unknown format %q", common.ErrBadRequest, req.format)
	}
	return req, nil
}

// Detached draws one chart and serves it as a page, or as one of its
// exports when format is set.
func (h *Handlers) Detached(w http.ResponseWriter, r *http.Request) {
	req, err := h.parse(r.URL.Query())
	if err != nil {
		common.WriteError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	snap, err := h.registry.RenderOnce(ctx, req.name, req.filter, req.params, req.width, req.height)
	if err != nil {
		h.writeRenderError(w, req.name, err)
		return
	}

	if req.format == "" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		view := detachedView{
			Title:   snap.State.Title,
			Filter:  req.filter,
			State:   snap.State,
			Exports: exportLinks(r.URL.Query(), snap.State.Menu),
		}
		if err := RenderDetached(w, view); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	b, ok := snap.Exports[req.format]
	if !ok {
		common.WriteError(w, fmt.Errorf("%w: chart %s has no %s export", common.ErrBadRequest, req.name, req.format))
		return
	}
	w.Header().Set("Content-Type", b.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", b.Filename))
	_, _ = w.Write(b.Data)
}

// exportLinks points the export entries of a chart menu back at this
// endpoint, since the blobs behind them do not outlive the request.
func exportLinks(q url.Values, menu []chart.MenuItem) []chart.MenuItem {
	var out []chart.MenuItem
	for _, item := range menu {
		if item.Download == "" {
			continue
		}
		v := url.Values{}
		for k, vals := range q {
			v[k] = vals
		}
		v.Set("format", strings.TrimPrefix(filepath.Ext(item.Download), "."))
		out = append(out, chart.MenuItem{Label: item.Label, URL: "?" + v.Encode(), Download: item.Download})
	}
	return out
}

func (h *Handlers) writeRenderError(w http.ResponseWriter, name string, err error) {
	status := common.StatusFor(err)
	switch {
	case errors.Is(err, chart.ErrInvalidParams):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrChartFailed):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return
	}
	if status >= http.StatusInternalServerError {
		h.logger.Warn("detached chart failed", "chart", name, "error", err)
	}
	common.WriteJSON(w, status, map[string]string{"error": err.Error()})
}
