package util

import "github.com/google/uuid"

// NewID returns a fresh record/request identifier.
func NewID() string {
	return uuid.NewString()
}
