package ir

import (
	"strings"

	"github.com/google/uuid"
)

// LocalIDPrefix marks ids assigned on the device before the first
// successful remote create.
const LocalIDPrefix = "local-"

// IDGenerator produces local entity ids.
// Implemented by UUIDv7IDs (production) and testutil.SequenceIDs (tests).
type IDGenerator interface {
	NewID() string
}

// UUIDv7IDs generates time-sortable local ids ("local-<uuidv7>").
//
// Thread-safety: UUIDv7IDs is stateless and safe for concurrent use.
type UUIDv7IDs struct{}

// NewID returns a fresh local id. Panics if the system entropy source fails.
func (UUIDv7IDs) NewID() string {
	return LocalIDPrefix + uuid.Must(uuid.NewV7()).String()
}

// IsLocalID reports whether id has not been replaced by a server id yet.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}
