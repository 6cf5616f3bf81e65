// Package dashboards serves mounted dashboards: the page shell, the SSE
// stream of chart state and the edit endpoints.
package dashboards

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/leapstack-labs/vulndash/internal/chart"
	"github.com/leapstack-labs/vulndash/internal/chart/svgrender"
	"github.com/leapstack-labs/vulndash/internal/dashboard"
	"github.com/leapstack-labs/vulndash/internal/metrics"
	"github.com/leapstack-labs/vulndash/internal/registry"
	"github.com/leapstack-labs/vulndash/internal/ui/features/common"
	"github.com/leapstack-labs/vulndash/internal/ui/notifier"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// Signals is the body of the edit endpoints.
type Signals struct {
	Chart     string `json:"chart"`
	Filter    string `json:"filter"`
	Component string `json:"component"`
	Row       string `json:"row"`
	Index     int    `json:"index"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Handlers provides HTTP handlers for the dashboards feature.
type Handlers struct {
	registry     *registry.Registry
	prefs        core.PreferenceStore
	sessionStore sessions.Store
	notifier     *notifier.Notifier
	metrics      *metrics.Metrics
	logger       *slog.Logger

	// mountMu serializes first mounts so concurrent requests of one
	// user share a dashboard.
	mountMu sync.Mutex
}

// NewHandlers creates a new Handlers instance. A nil prefs disables
// layout persistence.
func NewHandlers(reg *registry.Registry, prefs core.PreferenceStore, sessionStore sessions.Store, notify *notifier.Notifier, m *metrics.Metrics, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		registry:     reg,
		prefs:        prefs,
		sessionStore: sessionStore,
		notifier:     notify,
		metrics:      m,
		logger:       logger,
	}
}

// modeNotifier pushes edit mode changes to the browser, which toggles
// drag and drop accordingly.
type modeNotifier struct {
	notify func()
}

func (m modeNotifier) SetEditable(bool) { m.notify() }

// mount returns the dashboard of the session user, mounting it on first use.
func (h *Handlers) mount(ctx context.Context, w http.ResponseWriter, r *http.Request) (*dashboard.Dashboard, string, error) {
	userID, _, err := common.UserID(h.sessionStore, w, r)
	if err != nil {
		return nil, "", err
	}
	id := chi.URLParam(r, "id")
	key := common.MountKey(userID, id)

	if d, ok := h.registry.Mounted(key); ok {
		return d, key, nil
	}

	h.mountMu.Lock()
	defer h.mountMu.Unlock()
	if d, ok := h.registry.Mounted(key); ok {
		return d, key, nil
	}

	notify := func() { h.notifier.Notify(key) }
	d, err := h.registry.NewDashboard(id, registry.DashboardOptions{
		Displays: func(boxID string, width, height int) chart.Display {
			return svgrender.New(boxID, width, height, func(string) { notify() })
		},
		Saver:     dashboard.NewSaver(h.prefs, userID, h.logger, h.metrics),
		Reorderer: modeNotifier{notify: notify},
	})
	if err != nil {
		return nil, "", err
	}
	if err := d.Load(ctx); err != nil {
		d.Close()
		return nil, "", err
	}
	h.registry.Mount(key, d)
	h.logger.Debug("mounted dashboard", "dashboard", id, "user", userID)
	return d, key, nil
}

func (h *Handlers) title(id string) string {
	if dc, ok := h.registry.Config().Dashboards[id]; ok && dc.Title != "" {
		return dc.Title
	}
	return id
}

func (h *Handlers) view(id string, d *dashboard.Dashboard) common.DashboardView {
	return common.BuildDashboardView(id, h.title(id), d, h.registry.Config().Dashboard.MaxComponents)
}

// Index lists the configured dashboards.
func (h *Handlers) Index(w http.ResponseWriter, _ *http.Request) {
	cfg := h.registry.Config()
	links := make([]common.DashboardLink, 0, len(cfg.Dashboards))
	for id := range cfg.Dashboards {
		links = append(links, common.DashboardLink{ID: id, Title: h.title(id)})
	}
	sort.Slice(links, func(i, j int) bool { return links[i].ID < links[j].ID })
	common.WriteJSON(w, http.StatusOK, links)
}

// Page renders the dashboard page with its current content.
func (h *Handlers) Page(w http.ResponseWriter, r *http.Request) {
	d, _, err := h.mount(r.Context(), w, r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := RenderPage(w, h.view(chi.URLParam(r, "id"), d)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// State returns the dashboard state as JSON.
func (h *Handlers) State(w http.ResponseWriter, r *http.Request) {
	d, _, err := h.mount(r.Context(), w, r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.WriteJSON(w, http.StatusOK, h.view(chi.URLParam(r, "id"), d))
}

// Updates is the long-lived SSE endpoint of a dashboard page. It pushes
// the dashboard fragment whenever a chart box changes. When the dashboard
// is unmounted underneath, for example after a configuration reload, the
// page is told to reload.
func (h *Handlers) Updates(w http.ResponseWriter, r *http.Request) {
	d, key, err := h.mount(r.Context(), w, r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	id := chi.URLParam(r, "id")

	sse := datastar.NewSSE(w, r)

	updates := h.notifier.Subscribe(key)
	defer h.notifier.Unsubscribe(key, updates)

	if err := h.send(sse, id, d); err != nil {
		_ = sse.ConsoleError(err)
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			current, ok := h.registry.Mounted(key)
			if !ok || current != d {
				_ = sse.ExecuteScript("window.location.reload()")
				return
			}
			if err := h.send(sse, id, d); err != nil {
				_ = sse.ConsoleError(err)
				// Keep streaming, the next update may succeed
			}
		}
	}
}

func (h *Handlers) send(sse *datastar.ServerSentEventGenerator, id string, d *dashboard.Dashboard) error {
	view := h.view(id, d)
	fragment, err := RenderFragment(view)
	if err != nil {
		return err
	}
	if err := sse.PatchElements(fragment); err != nil {
		return err
	}
	return sse.MarshalAndPatchSignals(map[string]any{
		"editing": view.Editing,
		"total":   view.Total,
	})
}

// action wraps an edit endpoint: it reads the signals, runs fn against the
// mounted dashboard and pings the SSE stream.
func (h *Handlers) action(fn func(d *dashboard.Dashboard, r *http.Request, s Signals) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var signals Signals
		if r.ContentLength != 0 {
			if err := datastar.ReadSignals(r, &signals); err != nil {
				http.Error(w, "invalid signals: "+err.Error(), http.StatusBadRequest)
				return
			}
		}

		d, key, err := h.mount(r.Context(), w, r)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		if err := fn(d, r, signals); err != nil {
			if common.StatusFor(err) == http.StatusInternalServerError {
				h.logger.Error("dashboard action failed", "path", r.URL.Path, "error", err)
			}
			common.WriteError(w, err)
			return
		}
		h.notifier.Notify(key)
		w.WriteHeader(http.StatusNoContent)
	}
}

// StartEdit switches the dashboard into edit mode.
func (h *Handlers) StartEdit() http.HandlerFunc {
	return h.action(func(d *dashboard.Dashboard, _ *http.Request, _ Signals) error {
		d.StartEdit()
		return nil
	})
}

// StopEdit returns the dashboard to view mode.
func (h *Handlers) StopEdit() http.HandlerFunc {
	return h.action(func(d *dashboard.Dashboard, _ *http.Request, _ Signals) error {
		d.StopEdit()
		return nil
	})
}

// AddComponent appends a chart box.
func (h *Handlers) AddComponent() http.HandlerFunc {
	return h.action(func(d *dashboard.Dashboard, _ *http.Request, s Signals) error {
		_, err := d.AddComponent(s.Chart, s.Filter)
		return err
	})
}

// RemoveComponent deletes a chart box. Edit mode only.
func (h *Handlers) RemoveComponent() http.HandlerFunc {
	return h.action(func(d *dashboard.Dashboard, r *http.Request, _ Signals) error {
		return d.RemoveComponent(chi.URLParam(r, "component"))
	})
}

// SelectChart switches the chart of a box.
func (h *Handlers) SelectChart() http.HandlerFunc {
	return h.action(func(d *dashboard.Dashboard, r *http.Request, s Signals) error {
		return d.SelectChart(chi.URLParam(r, "component"), s.Chart)
	})
}

// SelectFilter switches the filter of a box.
func (h *Handlers) SelectFilter() http.HandlerFunc {
	return h.action(func(d *dashboard.Dashboard, r *http.Request, s Signals) error {
		return d.SelectFilter(chi.URLParam(r, "component"), s.Filter)
	})
}

// Reorder moves a box after a drag and drop. Edit mode only.
func (h *Handlers) Reorder() http.HandlerFunc {
	return h.action(func(d *dashboard.Dashboard, _ *http.Request, s Signals) error {
		if s.Component == "" || s.Row == "" {
			return fmt.Errorf("%w: component and row are required", common.ErrBadRequest)
		}
		return d.OnReorder(s.Component, s.Row, s.Index)
	})
}

// ResizeRow changes a row height. Edit mode only.
func (h *Handlers) ResizeRow() http.HandlerFunc {
	return h.action(func(d *dashboard.Dashboard, r *http.Request, s Signals) error {
		return d.OnResizeRow(chi.URLParam(r, "row"), s.Height)
	})
}

// Resize reports the browser viewport; chart boxes are redrawn after a
// short debounce.
func (h *Handlers) Resize() http.HandlerFunc {
	return h.action(func(d *dashboard.Dashboard, _ *http.Request, s Signals) error {
		if s.Width > 0 {
			d.Resize(s.Width, s.Height)
		}
		return nil
	})
}

// Refresh reloads every chart from the backend.
func (h *Handlers) Refresh() http.HandlerFunc {
	return h.action(func(d *dashboard.Dashboard, _ *http.Request, _ Signals) error {
		d.Refresh()
		return nil
	})
}

// Unmount drops the session's dashboard, cancelling its requests.
func (h *Handlers) Unmount(w http.ResponseWriter, r *http.Request) {
	userID, _, err := common.UserID(h.sessionStore, w, r)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	h.registry.Unmount(common.MountKey(userID, chi.URLParam(r, "id")))
	w.WriteHeader(http.StatusNoContent)
}
