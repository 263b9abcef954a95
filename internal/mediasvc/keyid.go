package mediasvc

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// KeyIDPrefix precedes the GUID in every content key identifier.
const KeyIDPrefix = "nb:kid:UUID:"

// KeyIDFromGUID builds a content key identifier.
func KeyIDFromGUID(guid string) string {
	return KeyIDPrefix + guid
}

// GUIDFromKeyID extracts the GUID from a content key identifier. Restoring a
// removed key requires recreating it under the same GUID.
func GUIDFromKeyID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if !strings.HasPrefix(trimmed, KeyIDPrefix) {
		return "", fmt.Errorf("content key id %q: missing %q prefix", id, KeyIDPrefix)
	}
	parsed, err := uuid.Parse(strings.TrimPrefix(trimmed, KeyIDPrefix))
	if err != nil {
		return "", fmt.Errorf("content key id %q: %w", id, err)
	}
	return parsed.String(), nil
}

// NewKeyGUID returns a random GUID for a new content key.
func NewKeyGUID() string {
	return uuid.NewString()
}
