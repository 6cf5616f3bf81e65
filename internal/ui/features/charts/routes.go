package charts

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/vulndash/internal/registry"
)

// SetupRoutes configures routes for the charts feature. detachedPath is
// where detached chart links point.
func SetupRoutes(router chi.Router, reg *registry.Registry, detachedPath string, timeout time.Duration, logger *slog.Logger) error {
	handlers := NewHandlers(reg, timeout, logger)

	router.Get("/charts", handlers.Index)
	router.Get(detachedPath, handlers.Detached)

	return nil
}
