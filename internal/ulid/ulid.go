// Package ulid wraps github.com/oklog/ulid/v2 with prefixed identifiers used
// for local records, queued operations, conflicts and sync cycles.
//
// ULIDs sort lexicographically by creation time, which the sync queue relies
// on: operation ids generated on one device are strictly increasing, so they
// double as a stable tie-breaker when two entries share a timestamp.
package ulid

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Prefixes for the identifiers generated on a device
const (
	// PrefixJob marks a locally created job record
	PrefixJob = "job"

	// PrefixCustomer marks a locally created customer record
	PrefixCustomer = "cus"

	// PrefixPriceBookItem marks a locally created price book record
	PrefixPriceBookItem = "pbi"

	// PrefixOperation marks a queued outbound operation (idempotency key)
	PrefixOperation = "op"

	// PrefixBatch marks a push batch
	PrefixBatch = "bat"

	// PrefixConflict marks a conflict record
	PrefixConflict = "cfl"

	// PrefixCycle marks one sync cycle
	PrefixCycle = "cyc"

	// PrefixAudit marks an audit trail entry
	PrefixAudit = "aud"

	// PrefixSetting marks a persisted setting
	PrefixSetting = "set"

	// PrefixSeparator separates the prefix from the ULID
	PrefixSeparator = "-"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// ULID is a ulid.ULID with an optional textual prefix.
type ULID struct {
	ulid.ULID
	prefix string
}

// GenerateWithPrefix creates a ULID for the current time carrying prefix.
func GenerateWithPrefix(prefix string) ULID {
	id := NewWithTime(time.Now())
	id.prefix = prefix
	return id
}

// NewWithTime creates a ULID for t. Entropy is monotonic within the same
// millisecond, so consecutive calls always sort in call order.
func NewWithTime(t time.Time) ULID {
	entropyLock.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), entropy)
	entropyLock.Unlock()
	return ULID{id, ""}
}

// Parse parses a plain ("01AN4Z07BY79KA1307SR9X4MV3") or prefixed
// ("op-01AN4Z07BY79KA1307SR9X4MV3") identifier.
func Parse(id string) (ULID, error) {
	prefix, raw := split(id)

	parsed, err := ulid.Parse(raw)
	if err != nil {
		return ULID{}, err
	}

	return ULID{parsed, prefix}, nil
}

// HasPrefix reports whether id is a valid ULID carrying the given prefix.
func HasPrefix(id, prefix string) bool {
	parsed, err := Parse(id)
	if err != nil {
		return false
	}
	return parsed.prefix == prefix
}

func split(id string) (string, string) {
	if i := strings.Index(id, PrefixSeparator); i >= 0 {
		return id[:i], id[i+1:]
	}
	return "", id
}

// String returns "prefix-ULID", or the bare ULID when there is no prefix.
func (u ULID) String() string {
	if u.prefix != "" {
		return u.prefix + PrefixSeparator + u.ULID.String()
	}
	return u.ULID.String()
}

// RecordID generates a local record id for the given entity prefix.
func RecordID(prefix string) string {
	return GenerateWithPrefix(prefix).String()
}

// OperationID generates the idempotency key of a queued operation.
func OperationID() string {
	return GenerateWithPrefix(PrefixOperation).String()
}

// BatchID generates the id of one push batch.
func BatchID() string {
	return GenerateWithPrefix(PrefixBatch).String()
}

// ConflictID generates a conflict id.
func ConflictID() string {
	return GenerateWithPrefix(PrefixConflict).String()
}

// CycleID generates a sync cycle id.
func CycleID() string {
	return GenerateWithPrefix(PrefixCycle).String()
}

// AuditID generates an audit trail entry id.
func AuditID() string {
	return GenerateWithPrefix(PrefixAudit).String()
}

// SettingID generates a setting id.
func SettingID() string {
	return GenerateWithPrefix(PrefixSetting).String()
}
