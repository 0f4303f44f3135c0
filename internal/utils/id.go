package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID generates a unique ID for requests
func GenerateID() string {
	return uuid.NewString()
}

// GenerateBatchID returns a short random ID for batches that arrive without
// one of their own.
func GenerateBatchID() string {
	return "batch-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
