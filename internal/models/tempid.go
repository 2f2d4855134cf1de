package models

import (
	"sync/atomic"
	"time"
)

// TempIDThreshold separates client-assigned temporary identifiers from
// server-assigned ones. Temporary ids are millisecond wall-clock timestamps
// (≈1.7e12 and rising); server ids are small sequence numbers. Any id at or
// above the threshold is temporary.
const TempIDThreshold int64 = 1_000_000_000_000

var lastTempID atomic.Int64

// NewTempID returns a locally unique temporary identifier: the current
// wall-clock in milliseconds, bumped when two records are created within
// the same millisecond.
//
// A temporary id is never a valid server target; it travels only inside the
// matching outbox entry as a correlation token until the CREATE is
// reconciled.
func NewTempID() int64 {
	for {
		now := time.Now().UnixMilli()
		last := lastTempID.Load()
		if now <= last {
			now = last + 1
		}
		if lastTempID.CompareAndSwap(last, now) {
			return now
		}
	}
}

// IsTempID reports whether id is a client-assigned temporary identifier.
func IsTempID(id int64) bool {
	return id >= TempIDThreshold
}
