// Package jobs generates and validates AI job identifiers.
package jobs

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/rs/zerolog/log"
)

// AIJobPrefix is the prefix of every AI pipeline job ID.
const AIJobPrefix = "aijob-"

// idHexLen is the hex length of the random suffix (16 bytes).
const idHexLen = 32

// GenerateID creates a new cryptographically random job ID with the given prefix.
// The prefix should include a trailing dash, e.g. "aijob-".
func GenerateID(prefix string) string {
	b := make([]byte, idHexLen/2)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msgf("Failed to generate random %s job ID", prefix)
	}
	return prefix + hex.EncodeToString(b)
}

// ValidID reports whether id has the given prefix followed by exactly
// idHexLen lowercase hex characters. API handlers use it to reject
// malformed path parameters before touching the store.
func ValidID(prefix, id string) bool {
	suffix, ok := strings.CutPrefix(id, prefix)
	if !ok || len(suffix) != idHexLen {
		return false
	}
	for _, c := range suffix {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
