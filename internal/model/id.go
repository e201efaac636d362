package model

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string for use as a run identifier. ULIDs sort
// lexicographically by creation time, which the listing cursor relies on as
// an ordering tiebreak.
func NewID() string {
	return ulid.Make().String()
}

// NewTaskID generates an identifier for a task the provider did not name.
func NewTaskID() string {
	return uuid.NewString()
}
