// Package gateway implements the thin HTTP client for the authoritative
// server: stateless request execution for the administrative collections,
// with the error taxonomy the outbox depends on.
//
// Mutations are never retried here — redelivery is the outbox's job and
// retrying below it would break its ordering and idempotency guarantees.
// ListAll and Ping are idempotent GETs and retry transient failures with a
// short backoff.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sisbm/fleetsync/internal/common"
	"github.com/sisbm/fleetsync/internal/models"
)

// Gateway executes remote calls for the synchronized collections.
type Gateway interface {
	// Create posts a new record (body carries no id) and returns the
	// server-confirmed record with its assigned identifier.
	Create(ctx context.Context, c models.Collection, body json.RawMessage, idempotencyKey string) (models.Record, error)

	// Update replaces the record with the given server id.
	Update(ctx context.Context, c models.Collection, id int64, body json.RawMessage, idempotencyKey string) (models.Record, error)

	// Delete removes the record with the given server id.
	Delete(ctx context.Context, c models.Collection, id int64, idempotencyKey string) error

	// ListAll returns the server's full snapshot of the collection.
	ListAll(ctx context.Context, c models.Collection) ([]models.Record, error)

	// Ping probes server reachability. Used by the connectivity monitor.
	Ping(ctx context.Context) error
}

// RejectedError is a non-retryable refusal: the server understood the
// request and said no (validation failure, malformed payload, auth).
// It unwraps to common.ErrRejected.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rejected with status %d", e.Status)
	}
	return fmt.Sprintf("rejected with status %d: %s", e.Status, e.Message)
}

func (e *RejectedError) Unwrap() error { return common.ErrRejected }

// Retryable reports whether err is worth another delivery attempt:
// unreachable and transient failures are, rejections are not. A missing or
// expired session token also is — the request never reached the server, and
// the next login makes it deliverable.
func Retryable(err error) bool {
	return errorsIsAny(err, common.ErrUnreachable, common.ErrTransient, common.ErrNoToken)
}

func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
