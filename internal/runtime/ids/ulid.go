package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ExchangePrefix is prepended to every exchange identifier so ids stay
// recognisable in logs and management dumps.
const ExchangePrefix = "ID-"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID encoded as a 26-character string.
func CreateULID() string {
	return CreateULIDAt(time.Now())
}

// CreateULIDAt returns a ULID for the supplied timestamp. Ids created for the
// same millisecond remain strictly increasing.
func CreateULIDAt(ts time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(ts), entropy)
	return id.String()
}

// NewExchangeID returns a fresh exchange identifier.
func NewExchangeID() string {
	return ExchangePrefix + CreateULID()
}

// ExchangeTime extracts the creation time encoded in an exchange identifier.
func ExchangeTime(exchangeID string) (time.Time, bool) {
	if len(exchangeID) <= len(ExchangePrefix) || exchangeID[:len(ExchangePrefix)] != ExchangePrefix {
		return time.Time{}, false
	}
	parsed, err := ulid.Parse(exchangeID[len(ExchangePrefix):])
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()), true
}
