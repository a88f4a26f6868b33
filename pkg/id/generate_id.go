package id

import (
	"strings"

	"github.com/google/uuid"
)

// NewID32 returns exactly 32 hex characters (no separators/prefixes).
func NewID32() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewTxRef returns a prefixed reference for locally generated transaction ids,
// e.g. "pay_3f1c...".
func NewTxRef(prefix string) string {
	return prefix + "_" + NewID32()
}
