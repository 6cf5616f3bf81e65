// Package state persists per-user dashboard preferences in SQLite.
// Values are opaque strings; callers own their encoding.
package state

import (
	"errors"

	"github.com/leapstack-labs/vulndash/pkg/core"
)

var _ core.PreferenceStore = (*SQLiteStore)(nil)

// ErrNotOpen is returned by operations on a store that was never opened
// or has been closed.
var ErrNotOpen = errors.New("database not opened")
