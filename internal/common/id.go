package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique research job ID (bare UUID, used in websocket paths)
func NewJobID() string {
	return uuid.New().String()
}
