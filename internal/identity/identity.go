// Package identity implements the two-level issue identity scheme: a
// globally unique, time-sortable internal ID minted once per issue, and a
// short prefixed display ID derived from it for humans to type. The mapping
// between the two lives in an append-only table stored on the sync branch,
// so display IDs stay unique across every clone and are never reassigned.
package identity

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
)

// Display code lengths. Minting starts at DefaultCodeLength and extends one
// character at a time when the candidate collides with any entry ever
// recorded, live or deleted. Codes are never truncated below the default.
const (
	DefaultCodeLength = 4
	MaxCodeLength     = 16
)

// NewInternalID mints a new internal issue ID. UUIDv7 is time-ordered, so
// issue files and log output sort by creation time for free.
func NewInternalID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate internal ID: %w", err)
	}
	return id.String(), nil
}

// IsInternalID reports whether input has the shape of a full internal ID.
func IsInternalID(input string) bool {
	_, err := uuid.Parse(input)
	return err == nil
}

// DeriveCode computes the display shortcode for an internal ID at the given
// length. Derivation is pure: same internal ID and length always produce the
// same code, on every clone.
func DeriveCode(internalID string, length int) string {
	if length < DefaultCodeLength {
		length = DefaultCodeLength
	}
	if length > MaxCodeLength {
		length = MaxCodeLength
	}
	sum := sha256.Sum256([]byte(internalID))
	return EncodeBase36(sum[:12], length)
}

// FormatDisplayID renders the display form for a code under a project
// prefix, e.g. ("spool", "a3f8") → "spool-a3f8".
func FormatDisplayID(prefix, code string) string {
	return prefix + "-" + code
}
