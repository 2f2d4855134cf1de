package models

import (
	"encoding/json"
	"time"
)

// OutboxEntry is one pending mutation intent, created atomically with its
// optimistic local write and deleted only after the remote call succeeds.
//
// Replay order is ascending Seq; this preserves per-record causality (the
// CREATE for a temporary id must reconcile before any later entry that
// references it).
type OutboxEntry struct {
	// Seq is the auto-incrementing primary ordering key.
	Seq int64

	Collection Collection

	// RecordID is the identifier of the record this entry targets —
	// temporary for a not-yet-reconciled CREATE, server-assigned otherwise.
	// It is the lookup key for reconciliation rewrites and coalescing.
	RecordID int64

	// Method is the HTTP verb: http.MethodPost, http.MethodPut or
	// http.MethodDelete.
	Method string

	// URL is the target resource path. For a CREATE it is the collection
	// path; the temporary id is carried inside Body, not here.
	URL string

	// Body is the mutation payload. For a CREATE it includes the temporary
	// id in its `id` field as the correlation token; it is stripped before
	// the request goes on the wire. Nil for DELETE.
	Body json.RawMessage

	// IdempotencyKey is minted once at enqueue time and resent unchanged on
	// every replay attempt, letting the server deduplicate a mutation whose
	// first delivery succeeded but whose dequeue was lost.
	IdempotencyKey string

	CreatedAt time.Time
}
