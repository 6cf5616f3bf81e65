// Package router sets up HTTP routes for the UI server.
package router

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/leapstack-labs/vulndash/internal/blob"
	"github.com/leapstack-labs/vulndash/internal/metrics"
	"github.com/leapstack-labs/vulndash/internal/registry"
	blobsFeature "github.com/leapstack-labs/vulndash/internal/ui/features/blobs"
	chartsFeature "github.com/leapstack-labs/vulndash/internal/ui/features/charts"
	dashboardsFeature "github.com/leapstack-labs/vulndash/internal/ui/features/dashboards"
	"github.com/leapstack-labs/vulndash/internal/ui/notifier"
	"github.com/leapstack-labs/vulndash/internal/ui/resources"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// Deps are the services the routes are served from.
type Deps struct {
	Registry     *registry.Registry
	Blobs        *blob.Store
	Prefs        core.PreferenceStore
	SessionStore sessions.Store
	Notifier     *notifier.Notifier
	Metrics      *metrics.Metrics
	Logger       *slog.Logger

	// ChartTimeout bounds detached chart requests.
	ChartTimeout time.Duration
}

// SetupRoutes configures all routes for the UI server.
func SetupRoutes(router chi.Router, deps Deps, isDev bool) error {
	// Hot reload endpoint for dev mode
	if isDev {
		setupReload(router)
	}

	// Static assets
	router.Handle("/static/*", resources.Handler())

	if deps.Metrics != nil {
		router.Handle("/metrics", deps.Metrics.Handler())
	}

	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboards", http.StatusFound)
	})

	ui := deps.Registry.Config().UI

	// Feature routes
	if err := dashboardsFeature.SetupRoutes(router, deps.Registry, deps.Prefs, deps.SessionStore, deps.Notifier, deps.Metrics, deps.Logger); err != nil {
		return err
	}

	if err := chartsFeature.SetupRoutes(router, deps.Registry, ui.DetachedPath, deps.ChartTimeout, deps.Logger); err != nil {
		return err
	}

	if err := blobsFeature.SetupRoutes(router, deps.Blobs, ui.BlobPrefix); err != nil {
		return err
	}

	return nil
}

func setupReload(router chi.Router) {
	reloadChan := make(chan struct{}, 1)
	var hotReloadOnce sync.Once

	router.Get("/reload", func(w http.ResponseWriter, r *http.Request) {
		sse := datastar.NewSSE(w, r)
		reload := func() { _ = sse.ExecuteScript("window.location.reload()") }
		hotReloadOnce.Do(reload)
		select {
		case <-reloadChan:
			reload()
		case <-r.Context().Done():
		}
	})

	router.Get("/hotreload", func(w http.ResponseWriter, _ *http.Request) {
		select {
		case reloadChan <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}
