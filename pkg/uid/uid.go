package uid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random (v4) UUID in canonical form.
func New() string {
	return uuid.NewString()
}

// Short returns 8 hex characters of a fresh UUID, for human-facing suffixes.
func Short() string {
	return strings.ReplaceAll(New(), "-", "")[:8]
}
