// Package blobs serves export artifacts by their revocable URL.
package blobs

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/vulndash/internal/blob"
)

// Handlers provides HTTP handlers for the blobs feature.
type Handlers struct {
	store *blob.Store
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store *blob.Store) *Handlers {
	return &Handlers{store: store}
}

// Get serves one blob. Revoked or unknown ids are not found.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	b, ok := h.store.Get(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", b.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	if b.Filename != "" && r.URL.Query().Get("inline") == "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", b.Filename))
	}
	http.ServeContent(w, r, b.Filename, b.Created, bytes.NewReader(b.Data))
}
