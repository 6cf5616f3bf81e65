package dashboards

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"

	"github.com/leapstack-labs/vulndash/internal/metrics"
	"github.com/leapstack-labs/vulndash/internal/registry"
	"github.com/leapstack-labs/vulndash/internal/ui/notifier"
	"github.com/leapstack-labs/vulndash/pkg/core"
)

// SetupRoutes configures routes for the dashboards feature.
func SetupRoutes(
	router chi.Router,
	reg *registry.Registry,
	prefs core.PreferenceStore,
	sessionStore sessions.Store,
	notify *notifier.Notifier,
	m *metrics.Metrics,
	logger *slog.Logger,
) error {
	handlers := NewHandlers(reg, prefs, sessionStore, notify, m, logger)

	router.Get("/dashboards", handlers.Index)
	router.Route("/dashboards/{id}", func(r chi.Router) {
		r.Get("/", handlers.Page)
		r.Get("/state", handlers.State)
		r.Get("/updates", handlers.Updates)
		r.Delete("/", handlers.Unmount)

		r.Post("/edit/start", handlers.StartEdit())
		r.Post("/edit/stop", handlers.StopEdit())
		r.Post("/components", handlers.AddComponent())
		r.Delete("/components/{component}", handlers.RemoveComponent())
		r.Post("/components/{component}/chart", handlers.SelectChart())
		r.Post("/components/{component}/filter", handlers.SelectFilter())
		r.Post("/reorder", handlers.Reorder())
		r.Post("/rows/{row}/height", handlers.ResizeRow())
		r.Post("/resize", handlers.Resize())
		r.Post("/refresh", handlers.Refresh())
	})

	return nil
}
