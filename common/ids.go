package common

import "github.com/google/uuid"

// NewID returns a time-ordered identifier, so ordering by id follows
// insertion order within the same timestamp.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
