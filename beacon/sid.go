package beacon

import (
	"strings"

	"github.com/google/uuid"
)

// SessionIdentifierLen is the length of identifiers from NewSessionIdentifier.
const SessionIdentifierLen = 12

// NewSessionIdentifier returns 12 lowercase hex characters taken from a
// random UUID.
func NewSessionIdentifier() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:SessionIdentifierLen]
}
