package models

import "github.com/google/uuid"

// CanonicalID returns id in lowercase hyphenated form. Every spelling
// uuid.Parse accepts maps to the same string. ok is false for non-UUIDs.
func CanonicalID(id string) (string, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return u.String(), true
}
