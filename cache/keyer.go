package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Key builds a deterministic cache key from an operation name and its
// parts, e.g. Key("daily_bars", "ESZ6", "20260823") -> "daily_bars:ESZ6:20260823".
// Keys that would exceed MaxKeyLength collapse the parts to a SHA-256 hash.
func Key(operation string, parts ...string) string {
	key := operation
	if len(parts) > 0 {
		key = operation + ":" + strings.Join(parts, ":")
	}
	if len(key) <= MaxKeyLength {
		return key
	}

	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s:%s", operation, hex.EncodeToString(sum[:8]))
}
