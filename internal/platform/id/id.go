// Package id generates globally unique identifiers for new records.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a collision-resistant, non-sequential identifier.
//
// The value is a random UUIDv4 encoded as 26 lowercase base32 characters,
// which keeps ids URL-safe and case-stable across storage backends.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}
