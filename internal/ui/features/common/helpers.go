// Package common provides shared types and utilities for UI features.
package common

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"github.com/leapstack-labs/vulndash/internal/dashboard"
	"github.com/leapstack-labs/vulndash/internal/registry"
)

// SessionName is the cookie carrying the per-browser user id.
const SessionName = "vulndash"

const userIDKey = "user_id"

// ErrBadRequest marks malformed input.
var ErrBadRequest = errors.New("bad request")

// UserID returns the session's user id, issuing a new one on first visit.
// The boolean reports whether the id was just created.
func UserID(store sessions.Store, w http.ResponseWriter, r *http.Request) (string, bool, error) {
	session, err := store.Get(r, SessionName)
	if err != nil && session == nil {
		return "", false, err
	}
	if id, ok := session.Values[userIDKey].(string); ok && id != "" {
		return id, false, nil
	}

	id := uuid.NewString()
	session.Values[userIDKey] = id
	if err := session.Save(r, w); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// MountKey identifies the dashboard id mounted for one user.
func MountKey(userID, dashboardID string) string {
	return userID + "/" + dashboardID
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps domain errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, dashboard.ErrUnknownComponent),
		errors.Is(err, dashboard.ErrUnknownRow),
		errors.Is(err, registry.ErrUnknownDashboard),
		errors.Is(err, registry.ErrUnknownChart):
		return http.StatusNotFound
	case errors.Is(err, dashboard.ErrNotEditing),
		errors.Is(err, dashboard.ErrDashboardFull),
		errors.Is(err, dashboard.ErrRowFull):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a JSON error body.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusFor(err), map[string]string{"error": err.Error()})
}
