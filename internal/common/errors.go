// Package common defines shared constants and sentinel errors used across
// the FleetSync client layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound          = errors.New("not found")
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrStoreCorrupt signals that the local database is unreadable or
	// unwritable. It is fatal: the coordinator aborts rather than risk
	// silently dropping queued mutations.
	ErrStoreCorrupt = errors.New("local store corrupt")

	// Gateway-level errors. ErrUnreachable means no network path at all,
	// ErrTransient a server-side failure assumed to heal on its own.
	// Both are retried by the outbox; ErrRejected is not.
	ErrUnreachable = errors.New("server unreachable")
	ErrTransient   = errors.New("transient server error")
	ErrRejected    = errors.New("request rejected")

	// Auth errors. A missing or expired session token is repaired by a
	// new login, so queued mutations stay pending until then instead of
	// being dropped. ErrRejected is reserved for refusals the server
	// actually issued.
	ErrNoToken      = errors.New("no session token")
	ErrTokenExpired = errors.New("token expired")
)
