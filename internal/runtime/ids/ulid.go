package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// OrNew returns id unless it is blank, in which case a fresh ULID is minted.
// Deliveries without a broker message id still need a stable handle for logs.
func OrNew(id string) string {
	if strings.TrimSpace(id) != "" {
		return id
	}
	return CreateULID()
}
