// Package fileid generates the prefixed ULID identifiers used for clinical file
// records, transfer slots and storage key suffixes.
package fileid

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	RecordPrefix   = "cf_"
	TransferPrefix = "tr_"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func next() ulid.ULID {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// NewRecordID returns a cf_* id.
func NewRecordID() string {
	return RecordPrefix + strings.ToLower(next().String())
}

// NewTransferID returns a tr_* id.
func NewTransferID() string {
	return TransferPrefix + strings.ToLower(next().String())
}

// NewObjectName returns a bare lower-case ULID for storage keys.
func NewObjectName() string {
	return strings.ToLower(next().String())
}

// IsRecordID reports whether value is a cf_* ULID.
func IsRecordID(value string) bool {
	return hasValid(value, RecordPrefix)
}

// IsTransferID reports whether value is a tr_* ULID.
func IsTransferID(value string) bool {
	return hasValid(value, TransferPrefix)
}

func hasValid(value, prefix string) bool {
	if !strings.HasPrefix(value, prefix) {
		return false
	}
	_, err := ulid.ParseStrict(strings.TrimPrefix(value, prefix))
	return err == nil
}
