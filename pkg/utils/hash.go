package utils

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// HashKey derives a stable key from the given parts, used for
// notification idempotency and cache keys.
func HashKey(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", hash[:16])
}
