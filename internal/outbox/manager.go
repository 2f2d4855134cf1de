// Package outbox manages the pending-mutation queue of one collection:
// appending intents atomically with their optimistic local writes, replaying
// them in FIFO order against the remote gateway, and reconciling temporary
// identifiers with server-assigned ones.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/sisbm/fleetsync/internal/common"
	"github.com/sisbm/fleetsync/internal/gateway"
	"github.com/sisbm/fleetsync/internal/logging"
	"github.com/sisbm/fleetsync/internal/models"
	"github.com/sisbm/fleetsync/internal/store"
)

// Manager owns the outbox of a single collection. Replay is single-flight:
// a trigger arriving while a pass is active is coalesced into a follow-up
// pass that runs when the current one finishes.
type Manager struct {
	store      *store.Store
	gw         gateway.Gateway
	collection models.Collection
	log        logging.Logger
	coalesce   bool

	mu        sync.Mutex
	replaying bool
	rerun     bool
}

type Option func(*Manager)

// WithLogger sets the logger; default is silent.
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithCoalescing controls whether successive offline edits to one record
// collapse into a single pending intent. On by default; off reproduces the
// append-only log where every edit is replayed in turn.
func WithCoalescing(enabled bool) Option {
	return func(m *Manager) { m.coalesce = enabled }
}

func NewManager(s *store.Store, gw gateway.Gateway, c models.Collection, opts ...Option) *Manager {
	m := &Manager{
		store:      s,
		gw:         gw,
		collection: c,
		log:        logging.NewNopLogger(),
		coalesce:   true,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("collection", string(c))
	return m
}

// EnqueueCreate assigns a temporary identifier, writes the record
// optimistically (synced=false) and queues the CREATE, all in one
// transaction. Returns the record as stored locally.
func (m *Manager) EnqueueCreate(ctx context.Context, body json.RawMessage) (models.Record, error) {
	tempID := models.NewTempID()

	// the temporary id rides inside the queued body as the correlation
	// token; it never reaches the wire
	createBody, err := models.InjectID(body, tempID)
	if err != nil {
		return models.Record{}, err
	}

	rec := models.Record{ID: tempID, Body: body, Synced: false}
	entry := models.OutboxEntry{
		Collection:     m.collection,
		RecordID:       tempID,
		Method:         http.MethodPost,
		URL:            m.collection.Path(),
		Body:           createBody,
		IdempotencyKey: uuid.NewString(),
	}

	seq, err := m.store.UpsertAndEnqueue(ctx, m.collection, rec, entry)
	if err != nil {
		return models.Record{}, fmt.Errorf("failed to queue create: %w", err)
	}
	m.log.Debug(ctx, "queued create", "temp_id", tempID, "seq", seq)
	return rec, nil
}

// EnqueueUpdate writes the new body optimistically and queues the UPDATE.
// Under coalescing, a pending CREATE or UPDATE for the same record is
// rewritten in place instead of growing the queue.
func (m *Manager) EnqueueUpdate(ctx context.Context, id int64, body json.RawMessage) (models.Record, error) {
	rec := models.Record{ID: id, Body: body, Synced: false}

	if m.coalesce {
		collapsed, err := m.collapseUpdate(ctx, rec)
		if err != nil {
			return models.Record{}, err
		}
		if collapsed {
			return rec, nil
		}
	}

	queuedBody, err := models.InjectID(body, id)
	if err != nil {
		return models.Record{}, err
	}
	entry := models.OutboxEntry{
		Collection:     m.collection,
		RecordID:       id,
		Method:         http.MethodPut,
		URL:            m.collection.ItemPath(id),
		Body:           queuedBody,
		IdempotencyKey: uuid.NewString(),
	}

	seq, err := m.store.UpsertAndEnqueue(ctx, m.collection, rec, entry)
	if err != nil {
		return models.Record{}, fmt.Errorf("failed to queue update: %w", err)
	}
	m.log.Debug(ctx, "queued update", "id", id, "seq", seq)
	return rec, nil
}

// EnqueueDelete removes the local record and queues the DELETE. Deletes are
// optimistic and locally irreversible. Under coalescing a pending UPDATE
// becomes a DELETE in place, and the pair CREATE-then-DELETE of a record the
// server never saw collapses into nothing at all.
func (m *Manager) EnqueueDelete(ctx context.Context, id int64) error {
	if m.coalesce {
		collapsed, err := m.collapseDelete(ctx, id)
		if err != nil {
			return err
		}
		if collapsed {
			return nil
		}
	}

	entry := models.OutboxEntry{
		Collection:     m.collection,
		RecordID:       id,
		Method:         http.MethodDelete,
		URL:            m.collection.ItemPath(id),
		IdempotencyKey: uuid.NewString(),
	}

	seq, err := m.store.DeleteAndEnqueue(ctx, m.collection, id, entry)
	if err != nil {
		return fmt.Errorf("failed to queue delete: %w", err)
	}
	m.log.Debug(ctx, "queued delete", "id", id, "seq", seq)
	return nil
}

// collapseUpdate folds the new body into an existing pending entry for the
// record. Reports whether it did.
func (m *Manager) collapseUpdate(ctx context.Context, rec models.Record) (bool, error) {
	prev, err := m.store.PendingForRecord(ctx, m.collection, rec.ID)
	if err != nil {
		return false, err
	}
	if prev == nil || prev.Method == http.MethodDelete {
		// nothing pending, or the record is already queued for deletion;
		// the latter cannot be updated and falls through to a fresh entry
		return false, nil
	}

	queuedBody, err := models.InjectID(rec.Body, rec.ID)
	if err != nil {
		return false, err
	}
	next := *prev
	next.Body = queuedBody
	next.IdempotencyKey = uuid.NewString() // payload changed, new delivery identity

	err = m.store.WithTx(ctx, func(ctx context.Context, q *store.Queries) error {
		if err := q.Upsert(ctx, m.collection, rec); err != nil {
			return err
		}
		return q.ReplaceOutboxEntry(ctx, prev.Seq, next)
	})
	if err != nil {
		return false, fmt.Errorf("failed to collapse update: %w", err)
	}
	m.log.Debug(ctx, "collapsed update into pending entry", "id", rec.ID, "seq", prev.Seq, "method", prev.Method)
	return true, nil
}

// collapseDelete resolves a DELETE against an existing pending entry.
// CREATE+DELETE of a never-confirmed record cancels out locally: the server
// never heard of the record, so nothing needs to be sent.
func (m *Manager) collapseDelete(ctx context.Context, id int64) (bool, error) {
	prev, err := m.store.PendingForRecord(ctx, m.collection, id)
	if err != nil {
		return false, err
	}
	if prev == nil || prev.Method == http.MethodDelete {
		return false, nil
	}

	if prev.Method == http.MethodPost && models.IsTempID(id) {
		err := m.store.WithTx(ctx, func(ctx context.Context, q *store.Queries) error {
			if err := q.Delete(ctx, m.collection, id); err != nil {
				return err
			}
			return q.DequeueOutbox(ctx, prev.Seq)
		})
		if err != nil {
			return false, fmt.Errorf("failed to cancel pending create: %w", err)
		}
		m.log.Debug(ctx, "delete cancelled pending create", "temp_id", id, "seq", prev.Seq)
		return true, nil
	}

	// pending UPDATE becomes a DELETE in the same ordering slot
	next := models.OutboxEntry{
		Collection:     m.collection,
		RecordID:       id,
		Method:         http.MethodDelete,
		URL:            m.collection.ItemPath(id),
		IdempotencyKey: uuid.NewString(),
	}
	err = m.store.WithTx(ctx, func(ctx context.Context, q *store.Queries) error {
		if err := q.Delete(ctx, m.collection, id); err != nil {
			return err
		}
		return q.ReplaceOutboxEntry(ctx, prev.Seq, next)
	})
	if err != nil {
		return false, fmt.Errorf("failed to collapse delete: %w", err)
	}
	m.log.Debug(ctx, "collapsed delete over pending update", "id", id, "seq", prev.Seq)
	return true, nil
}

// Replay delivers queued entries in ascending sequence order. Only one pass
// runs at a time; a concurrent trigger schedules exactly one follow-up pass.
// A transient or unreachable failure ends the pass silently — the remaining
// entries stay pending for the next trigger. Store failures are returned.
func (m *Manager) Replay(ctx context.Context) error {
	m.mu.Lock()
	if m.replaying {
		m.rerun = true
		m.mu.Unlock()
		return nil
	}
	m.replaying = true
	m.mu.Unlock()

	for {
		err := m.replayPass(ctx)

		m.mu.Lock()
		if err != nil || !m.rerun {
			m.replaying = false
			m.mu.Unlock()
			return err
		}
		m.rerun = false
		m.mu.Unlock()
	}
}

func (m *Manager) replayPass(ctx context.Context) error {
	entries, err := m.store.ListOutbox(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("failed to read outbox: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}
	m.log.Info(ctx, "replaying outbox", "pending", len(entries))

	for _, entry := range entries {
		stop, err := m.deliver(ctx, entry)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// deliver pushes one entry. stop=true means the pass must end (transient
// failure, ordering must be preserved); a returned error is fatal (store).
func (m *Manager) deliver(ctx context.Context, entry models.OutboxEntry) (stop bool, err error) {
	switch entry.Method {
	case http.MethodPost:
		return m.deliverCreate(ctx, entry)
	case http.MethodPut:
		return m.deliverUpdate(ctx, entry)
	case http.MethodDelete:
		return m.deliverDelete(ctx, entry)
	default:
		m.log.Error(ctx, "dropping entry with unknown method", "seq", entry.Seq, "method", entry.Method)
		return false, m.store.DequeueOutbox(ctx, entry.Seq)
	}
}

func (m *Manager) deliverCreate(ctx context.Context, entry models.OutboxEntry) (bool, error) {
	tempID, wireBody, err := models.ExtractID(entry.Body)
	if err != nil {
		return false, fmt.Errorf("corrupt create entry %d: %w", entry.Seq, err)
	}

	created, err := m.gw.Create(ctx, m.collection, wireBody, entry.IdempotencyKey)
	if err != nil {
		return m.handleFailure(ctx, entry, err)
	}

	// Reconciliation: rename the local record to the server id, redirect
	// any later queued entries still referencing the temporary id, and only
	// then drop the delivered entry. One transaction, so a crash cannot
	// leave a queued UPDATE pointing at an id that no longer exists.
	err = m.store.WithTx(ctx, func(ctx context.Context, q *store.Queries) error {
		patch, err := models.InjectID(created.Body, created.ID)
		if err != nil {
			return err
		}
		if err := q.ReplaceID(ctx, m.collection, tempID, created.ID, patch); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				// record vanished locally while queued; keep the server copy
				if err := q.Upsert(ctx, m.collection, created); err != nil {
					return err
				}
			} else {
				return err
			}
		}
		if tempID != 0 {
			if _, err := q.RewriteOutboxTarget(ctx, m.collection, tempID, created.ID); err != nil {
				return err
			}
		}
		return q.DequeueOutbox(ctx, entry.Seq)
	})
	if err != nil {
		return false, fmt.Errorf("failed to reconcile create %d: %w", entry.Seq, err)
	}

	m.log.Info(ctx, "create delivered", "seq", entry.Seq, "temp_id", tempID, "server_id", created.ID)
	return false, nil
}

func (m *Manager) deliverUpdate(ctx context.Context, entry models.OutboxEntry) (bool, error) {
	if models.IsTempID(entry.RecordID) {
		// its CREATE never landed (rejected and removed); undeliverable
		return false, m.dropOrphan(ctx, entry)
	}

	_, wireBody, err := models.ExtractID(entry.Body)
	if err != nil {
		return false, fmt.Errorf("corrupt update entry %d: %w", entry.Seq, err)
	}

	updated, err := m.gw.Update(ctx, m.collection, entry.RecordID, wireBody, entry.IdempotencyKey)
	if err != nil {
		return m.handleFailure(ctx, entry, err)
	}

	err = m.store.WithTx(ctx, func(ctx context.Context, q *store.Queries) error {
		if err := q.Upsert(ctx, m.collection, updated); err != nil {
			return err
		}
		return q.DequeueOutbox(ctx, entry.Seq)
	})
	if err != nil {
		return false, fmt.Errorf("failed to finish update %d: %w", entry.Seq, err)
	}

	m.log.Info(ctx, "update delivered", "seq", entry.Seq, "id", entry.RecordID)
	return false, nil
}

func (m *Manager) deliverDelete(ctx context.Context, entry models.OutboxEntry) (bool, error) {
	if models.IsTempID(entry.RecordID) {
		return false, m.dropOrphan(ctx, entry)
	}

	if err := m.gw.Delete(ctx, m.collection, entry.RecordID, entry.IdempotencyKey); err != nil {
		return m.handleFailure(ctx, entry, err)
	}

	err := m.store.WithTx(ctx, func(ctx context.Context, q *store.Queries) error {
		if err := q.Delete(ctx, m.collection, entry.RecordID); err != nil {
			return err
		}
		return q.DequeueOutbox(ctx, entry.Seq)
	})
	if err != nil {
		return false, fmt.Errorf("failed to finish delete %d: %w", entry.Seq, err)
	}

	m.log.Info(ctx, "delete delivered", "seq", entry.Seq, "id", entry.RecordID)
	return false, nil
}

// handleFailure applies the failure policy: retryable errors end the pass
// with the entry still pending; rejections remove the entry after its single
// attempt and the pass continues with unrelated entries.
func (m *Manager) handleFailure(ctx context.Context, entry models.OutboxEntry, cause error) (bool, error) {
	if gateway.Retryable(cause) {
		m.log.Warn(ctx, "replay interrupted, will retry on next trigger",
			"seq", entry.Seq, "method", entry.Method, "error", cause)
		return true, nil
	}

	// Rejected: the server refused the mutation outright. The entry is
	// terminal; the local record keeps synced=false so the operator can
	// find it. Queued while offline, there is no caller left to tell.
	m.log.Error(ctx, "mutation rejected by server, removing from queue",
		"seq", entry.Seq, "method", entry.Method, "id", entry.RecordID, "error", cause)
	if err := m.store.DequeueOutbox(ctx, entry.Seq); err != nil {
		return false, err
	}
	return false, nil
}

func (m *Manager) dropOrphan(ctx context.Context, entry models.OutboxEntry) error {
	m.log.Error(ctx, "dropping entry targeting an unconfirmed record",
		"seq", entry.Seq, "method", entry.Method, "temp_id", entry.RecordID)
	return m.store.DequeueOutbox(ctx, entry.Seq)
}

// Depth returns the number of queued entries.
func (m *Manager) Depth(ctx context.Context) (int, error) {
	return m.store.OutboxDepth(ctx, m.collection)
}
