package controlplane

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// generateID creates a unique row ID in <prefix>_xxxxxxxx format.
func generateID(prefix string) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("controlplane: generate ID: %w", err)
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}
