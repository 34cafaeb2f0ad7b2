package provision

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GeneratePassword produces a one-time database password for a newly created
// project. 32 hex characters of entropy plus a fixed suffix satisfying the
// platform's uppercase/digit/symbol complexity rules.
//
// The password exists only in process memory between project creation and
// schema synchronization; it is never written to a durable store.
func GeneratePassword() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate db password: %w", err)
	}
	return hex.EncodeToString(raw) + "A1!", nil
}
