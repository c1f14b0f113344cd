package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a time-ordered ULID. Used for sessions, audit entries and
// request ids where sort order matters.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewEntity returns a random UUID for tenant and user rows.
func NewEntity() string {
	return uuid.NewString()
}

// ValidEntity reports whether s parses as a UUID.
func ValidEntity(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// ValidULID reports whether s is a well-formed ULID.
func ValidULID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
