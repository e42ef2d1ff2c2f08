package controlplane

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// isUniqueViolation detects a unique-constraint collision across the
// supported drivers (sqlite and mysql phrase it differently, and gorm
// only translates it when configured to).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry")
}
