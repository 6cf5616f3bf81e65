package core

import "context"

// PreferenceStore persists opaque per-user preference strings such as the
// serialized dashboard layouts.
type PreferenceStore interface {
	Open(path string) error
	Close() error
	InitSchema() error

	// GetPreference returns the stored value and whether it exists.
	GetPreference(ctx context.Context, userID, prefID string) (string, bool, error)
	SavePreference(ctx context.Context, userID, prefID, value string) error
	DeletePreference(ctx context.Context, userID, prefID string) error
	ListPreferences(ctx context.Context, userID string) (map[string]string, error)
}
