// Package channel derives the shared channel identity from the human secret.
package channel

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// separator joins the two secret fields before hashing. It must not be a
// string users would plausibly type into either field; changing it changes
// every derived channel ID.
const separator = "|||"

// ErrInvalidSecret is returned when either half of the shared secret is
// empty or whitespace-only.
var ErrInvalidSecret = errors.New("document name and access phrase are required")

// Derive computes the channel ID for a (documentName, accessPhrase) pair.
// The result is the lowercase hex SHA-256 of the joined secret: two clients
// holding the same pair always land on the same channel, and changing
// either field moves to an unrelated one.
func Derive(documentName, accessPhrase string) (string, error) {
	if strings.TrimSpace(documentName) == "" || strings.TrimSpace(accessPhrase) == "" {
		return "", ErrInvalidSecret
	}
	sum := sha256.Sum256([]byte(documentName + separator + accessPhrase))
	return hex.EncodeToString(sum[:]), nil
}
