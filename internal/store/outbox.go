package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sisbm/fleetsync/internal/models"
)

// EnqueueOutbox appends a pending mutation and returns its sequence number.
// Sequence numbers are assigned by SQLite AUTOINCREMENT and are strictly
// increasing for the lifetime of the database.
func (q *Queries) EnqueueOutbox(ctx context.Context, e models.OutboxEntry) (int64, error) {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := q.db.ExecContext(ctx, `INSERT INTO outbox
		(collection, record_id, method, url, body, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(e.Collection), e.RecordID, e.Method, e.URL,
		nullableBody(e.Body), e.IdempotencyKey, createdAt.Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue outbox entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get outbox sequence: %w", err)
	}
	return seq, nil
}

// ListOutbox returns the pending entries of one collection in ascending
// sequence order — the replay order.
func (q *Queries) ListOutbox(ctx context.Context, c models.Collection) ([]models.OutboxEntry, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT seq, collection, record_id, method, url, body, idempotency_key, created_at
		FROM outbox WHERE collection = ? ORDER BY seq ASC`, string(c))
	if err != nil {
		return nil, fmt.Errorf("failed to list outbox: %w", err)
	}
	defer rows.Close()

	var result []models.OutboxEntry
	for rows.Next() {
		e, err := scanOutboxEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DequeueOutbox removes one entry by sequence number. Idempotent: removing
// an already-dequeued entry is a no-op.
func (q *Queries) DequeueOutbox(ctx context.Context, seq int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM outbox WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("failed to dequeue outbox entry %d: %w", seq, err)
	}
	return nil
}

// PendingForRecord returns the latest queued entry targeting the given
// record, or nil when the record has no pending mutation. Under coalescing
// there is at most one.
func (q *Queries) PendingForRecord(ctx context.Context, c models.Collection, recordID int64) (*models.OutboxEntry, error) {
	row := q.db.QueryRowContext(ctx, `SELECT seq, collection, record_id, method, url, body, idempotency_key, created_at
		FROM outbox WHERE collection = ? AND record_id = ? ORDER BY seq DESC LIMIT 1`,
		string(c), recordID)

	e, err := scanOutboxEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pending entry: %w", err)
	}
	return &e, nil
}

// ReplaceOutboxEntry overwrites the mutation at seq in place, keeping its
// position in the replay order. Used when successive offline edits to one
// record collapse into a single intent.
func (q *Queries) ReplaceOutboxEntry(ctx context.Context, seq int64, e models.OutboxEntry) error {
	res, err := q.db.ExecContext(ctx, `UPDATE outbox
		SET record_id = ?, method = ?, url = ?, body = ?, idempotency_key = ?
		WHERE seq = ?`,
		e.RecordID, e.Method, e.URL, nullableBody(e.Body), e.IdempotencyKey, seq)
	if err != nil {
		return fmt.Errorf("failed to replace outbox entry %d: %w", seq, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("outbox entry %d vanished during replace", seq)
	}
	return nil
}

// RewriteOutboxTarget redirects every still-queued entry that references
// oldID to newID: record_id, the item URL and the correlation id inside the
// body are all rewritten. Returns the number of rewritten entries.
//
// This runs inside the reconciliation transaction right after ReplaceID, so
// an UPDATE enqueued offline against a temporary id is replayed against the
// server-assigned id.
func (q *Queries) RewriteOutboxTarget(ctx context.Context, c models.Collection, oldID, newID int64) (int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT seq, collection, record_id, method, url, body, idempotency_key, created_at
		FROM outbox WHERE collection = ? AND record_id = ? ORDER BY seq ASC`,
		string(c), oldID)
	if err != nil {
		return 0, fmt.Errorf("failed to query outbox for rewrite: %w", err)
	}

	var entries []models.OutboxEntry
	for rows.Next() {
		e, err := scanOutboxEntry(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, e := range entries {
		e.RecordID = newID
		if e.Method != http.MethodPost {
			e.URL = c.ItemPath(newID)
		}
		if len(e.Body) > 0 {
			id, stripped, err := models.ExtractID(e.Body)
			if err != nil {
				return 0, fmt.Errorf("failed to rewrite body of entry %d: %w", e.Seq, err)
			}
			if id == oldID {
				e.Body, err = models.InjectID(stripped, newID)
				if err != nil {
					return 0, fmt.Errorf("failed to rewrite body of entry %d: %w", e.Seq, err)
				}
			}
		}
		if err := q.ReplaceOutboxEntry(ctx, e.Seq, e); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

// OutboxDepth returns the number of queued entries for one collection.
func (q *Queries) OutboxDepth(ctx context.Context, c models.Collection) (int, error) {
	var n int
	row := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE collection = ?`, string(c))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return n, nil
}

// UpsertAndEnqueue writes the optimistic record and its outbox entry in one
// transaction. After a crash either both are present or neither.
func (s *Store) UpsertAndEnqueue(ctx context.Context, c models.Collection, rec models.Record, e models.OutboxEntry) (int64, error) {
	var seq int64
	err := s.WithTx(ctx, func(ctx context.Context, q *Queries) error {
		if err := q.Upsert(ctx, c, rec); err != nil {
			return err
		}
		var err error
		seq, err = q.EnqueueOutbox(ctx, e)
		return err
	})
	return seq, err
}

// DeleteAndEnqueue removes the local record and queues the DELETE in one
// transaction. Deletes are applied optimistically and are not reversible
// locally.
func (s *Store) DeleteAndEnqueue(ctx context.Context, c models.Collection, id int64, e models.OutboxEntry) (int64, error) {
	var seq int64
	err := s.WithTx(ctx, func(ctx context.Context, q *Queries) error {
		if err := q.Delete(ctx, c, id); err != nil {
			return err
		}
		var err error
		seq, err = q.EnqueueOutbox(ctx, e)
		return err
	})
	return seq, err
}

func scanOutboxEntry(row rowScanner) (models.OutboxEntry, error) {
	var (
		e          models.OutboxEntry
		collection string
		body       sql.NullString
		createdAt  string
	)
	if err := row.Scan(&e.Seq, &collection, &e.RecordID, &e.Method, &e.URL, &body, &e.IdempotencyKey, &createdAt); err != nil {
		return models.OutboxEntry{}, err
	}
	e.Collection = models.Collection(collection)
	if body.Valid {
		e.Body = json.RawMessage(body.String)
	}
	if ts, err := time.Parse(timeLayout, createdAt); err == nil {
		e.CreatedAt = ts
	}
	return e, nil
}

func nullableBody(body json.RawMessage) any {
	if len(body) == 0 {
		return nil
	}
	return string(body)
}
