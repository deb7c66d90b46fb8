package utils

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewVisitorID returns a fresh, time-ordered visitor id.
func NewVisitorID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// NormalizeVisitorID returns the canonical form of id and whether it is a
// well-formed visitor id.
func NormalizeVisitorID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}
