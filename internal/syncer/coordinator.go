// Package syncer presents the per-collection read/write façade consumed by
// the UI layer, hiding the online/offline branching: online mutations go to
// the server first and are confirmed locally, offline (or failed) mutations
// are written optimistically and queued in the outbox for replay.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sisbm/fleetsync/internal/common"
	"github.com/sisbm/fleetsync/internal/connectivity"
	"github.com/sisbm/fleetsync/internal/gateway"
	"github.com/sisbm/fleetsync/internal/logging"
	"github.com/sisbm/fleetsync/internal/models"
	"github.com/sisbm/fleetsync/internal/outbox"
	"github.com/sisbm/fleetsync/internal/store"
)

// Coordinator is the façade for one collection. It holds no persistent
// state of its own; the store owns everything durable.
type Coordinator struct {
	collection models.Collection
	store      *store.Store
	gw         gateway.Gateway
	monitor    *connectivity.Monitor
	outbox     *outbox.Manager
	log        logging.Logger
}

func NewCoordinator(c models.Collection, s *store.Store, gw gateway.Gateway, monitor *connectivity.Monitor, ob *outbox.Manager, log logging.Logger) *Coordinator {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Coordinator{
		collection: c,
		store:      s,
		gw:         gw,
		monitor:    monitor,
		outbox:     ob,
		log:        log.With("collection", string(c)),
	}
}

// GetAll returns the local view of the collection, pending mutations
// included. Callers re-read after mutating; records with Synced=false are
// awaiting server confirmation.
func (c *Coordinator) GetAll(ctx context.Context) ([]models.Record, error) {
	return c.store.ReadAll(ctx, c.collection)
}

// Add creates a record. Online, the server is tried first and its confirmed
// copy cached; a rejection is surfaced so the UI can show the validation
// message. Offline — known or discovered by the failed attempt — the record
// is written optimistically under a temporary id and the CREATE queued.
func (c *Coordinator) Add(ctx context.Context, body json.RawMessage) (models.Record, error) {
	if c.monitor.IsOnline() {
		rec, err := c.gw.Create(ctx, c.collection, body, uuid.NewString())
		switch {
		case err == nil:
			if err := c.store.Upsert(ctx, c.collection, rec); err != nil {
				return models.Record{}, err
			}
			c.monitor.MarkOnline()
			return rec, nil
		case errors.Is(err, common.ErrRejected):
			return models.Record{}, err
		default:
			c.noteFailedAttempt(ctx, err)
		}
	}

	return c.outbox.EnqueueCreate(ctx, body)
}

// Update edits a record. A record still under a temporary id is never sent
// to the server; its pending CREATE absorbs the edit instead.
func (c *Coordinator) Update(ctx context.Context, id int64, body json.RawMessage) (models.Record, error) {
	if !models.IsTempID(id) && c.monitor.IsOnline() {
		rec, err := c.gw.Update(ctx, c.collection, id, body, uuid.NewString())
		switch {
		case err == nil:
			if err := c.store.Upsert(ctx, c.collection, rec); err != nil {
				return models.Record{}, err
			}
			c.monitor.MarkOnline()
			return rec, nil
		case errors.Is(err, common.ErrRejected):
			return models.Record{}, err
		default:
			c.noteFailedAttempt(ctx, err)
		}
	}

	return c.outbox.EnqueueUpdate(ctx, id, body)
}

// Remove deletes a record. Deletes apply to the local cache immediately and
// are not reversible locally; only an interactive rejection leaves the
// record in place.
func (c *Coordinator) Remove(ctx context.Context, id int64) error {
	if !models.IsTempID(id) && c.monitor.IsOnline() {
		err := c.gw.Delete(ctx, c.collection, id, uuid.NewString())
		switch {
		case err == nil:
			if err := c.store.Delete(ctx, c.collection, id); err != nil {
				return err
			}
			c.monitor.MarkOnline()
			return nil
		case errors.Is(err, common.ErrRejected):
			return err
		default:
			c.noteFailedAttempt(ctx, err)
		}
	}

	return c.outbox.EnqueueDelete(ctx, id)
}

// Sync refreshes the local cache from the server's full snapshot. The
// collection's outbox is drained first, and the refresh is skipped while
// anything remains queued — a snapshot taken mid-backlog would overwrite
// optimistic records whose mutations are still undelivered. Unsynced local
// rows survive the refresh either way.
//
// On failure the existing cache is left untouched.
func (c *Coordinator) Sync(ctx context.Context) error {
	if !c.monitor.IsOnline() {
		return fmt.Errorf("sync skipped: %w", common.ErrUnreachable)
	}

	if err := c.outbox.Replay(ctx); err != nil {
		return fmt.Errorf("failed to drain outbox before sync: %w", err)
	}

	depth, err := c.outbox.Depth(ctx)
	if err != nil {
		return err
	}
	if depth > 0 {
		c.log.Warn(ctx, "outbox not drained, skipping snapshot refresh", "pending", depth)
		return fmt.Errorf("outbox still has %d pending entries: %w", depth, common.ErrUnreachable)
	}

	snapshot, err := c.gw.ListAll(ctx, c.collection)
	if err != nil {
		c.noteFailedAttempt(ctx, err)
		return fmt.Errorf("failed to fetch snapshot: %w", err)
	}

	if err := c.store.WithTx(ctx, func(ctx context.Context, q *store.Queries) error {
		return q.ReplaceSynced(ctx, c.collection, snapshot)
	}); err != nil {
		return err
	}

	c.monitor.MarkOnline()
	c.log.Info(ctx, "snapshot installed", "records", len(snapshot))
	return nil
}

// Replay triggers outbox delivery for this collection.
func (c *Coordinator) Replay(ctx context.Context) error {
	return c.outbox.Replay(ctx)
}

// Unsynced returns how many local records await server confirmation, for
// the UI's pending indicator.
func (c *Coordinator) Unsynced(ctx context.Context) (int, error) {
	return c.store.UnsyncedCount(ctx, c.collection)
}

// PendingMutations returns the outbox depth for this collection.
func (c *Coordinator) PendingMutations(ctx context.Context) (int, error) {
	return c.outbox.Depth(ctx)
}

// noteFailedAttempt records the evidence of a failed online call: an
// unreachable server flips the monitor offline so subsequent calls skip the
// doomed network attempt.
func (c *Coordinator) noteFailedAttempt(ctx context.Context, err error) {
	c.log.Debug(ctx, "online attempt failed, falling back to outbox", "error", err)
	if errors.Is(err, common.ErrUnreachable) {
		c.monitor.MarkOffline()
	}
}
