package blobs

import (
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/vulndash/internal/blob"
)

// SetupRoutes configures routes for the blobs feature under prefix.
func SetupRoutes(router chi.Router, store *blob.Store, prefix string) error {
	if prefix == "" {
		prefix = blob.DefaultPrefix
	}
	handlers := NewHandlers(store)
	router.Get(strings.TrimSuffix(prefix, "/")+"/{id}", handlers.Get)
	return nil
}
