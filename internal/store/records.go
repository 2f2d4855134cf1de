package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sisbm/fleetsync/internal/common"
	"github.com/sisbm/fleetsync/internal/models"
)

const timeLayout = time.RFC3339Nano

// ReadAll returns every record of the collection, in no particular order.
func (q *Queries) ReadAll(ctx context.Context, c models.Collection) ([]models.Record, error) {
	table, err := c.Table()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, body, synced, updated_at FROM %s`, table)
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", table, err)
	}
	defer rows.Close()

	var result []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Get returns one record by id, or common.ErrNotFound.
func (q *Queries) Get(ctx context.Context, c models.Collection, id int64) (*models.Record, error) {
	table, err := c.Table()
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, body, synced, updated_at FROM %s WHERE id = ?`, table)
	row := q.db.QueryRowContext(ctx, query, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %d: %w", table, id, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Upsert inserts or overwrites a record by id. Idempotent.
func (q *Queries) Upsert(ctx context.Context, c models.Collection, rec models.Record) error {
	table, err := c.Table()
	if err != nil {
		return err
	}

	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, body, synced, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body,
			synced = excluded.synced,
			updated_at = excluded.updated_at`, table)
	_, err = q.db.ExecContext(ctx, query,
		rec.ID, string(rec.Body), boolToInt(rec.Synced), updatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", table, err)
	}
	return nil
}

// Delete removes a record if present. No-op when absent.
func (q *Queries) Delete(ctx context.Context, c models.Collection, id int64) error {
	table, err := c.Table()
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table)
	if _, err := q.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// ReplaceID atomically renames a record from oldID to newID, merges the
// server-returned fields in patch over the stored body and marks the record
// synced. Returns common.ErrNotFound when oldID is absent.
//
// Callers run it inside WithTx together with the outbox rewrite; a bare
// call against the DB handle is still a single statement sequence on one
// connection and remains crash-safe only when wrapped.
func (q *Queries) ReplaceID(ctx context.Context, c models.Collection, oldID, newID int64, patch json.RawMessage) error {
	table, err := c.Table()
	if err != nil {
		return err
	}

	row := q.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT body FROM %s WHERE id = ?`, table), oldID)
	var body string
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %d: %w", table, oldID, common.ErrNotFound)
		}
		return fmt.Errorf("failed to read %s %d: %w", table, oldID, err)
	}

	merged, err := mergeBodies(json.RawMessage(body), patch)
	if err != nil {
		return fmt.Errorf("failed to merge server fields for %s %d: %w", table, oldID, err)
	}

	if _, err := q.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), oldID); err != nil {
		return fmt.Errorf("failed to drop %s %d: %w", table, oldID, err)
	}

	return q.Upsert(ctx, c, models.Record{
		ID:     newID,
		Body:   merged,
		Synced: true,
	})
}

// MarkSynced flips the synced flag of one record.
func (q *Queries) MarkSynced(ctx context.Context, c models.Collection, id int64, synced bool) error {
	table, err := c.Table()
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET synced = ?, updated_at = ? WHERE id = ?`, table)
	res, err := q.db.ExecContext(ctx, query, boolToInt(synced), time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("failed to mark %s %d: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", table, id, common.ErrNotFound)
	}
	return nil
}

// ReplaceSynced installs a fresh server snapshot: every previously confirmed
// row is dropped and the snapshot inserted, but rows still carrying local
// mutations (synced=0) are kept untouched so a refresh can never overwrite
// an optimistic write whose outbox entry has not been delivered.
func (q *Queries) ReplaceSynced(ctx context.Context, c models.Collection, recs []models.Record) error {
	table, err := c.Table()
	if err != nil {
		return err
	}

	if _, err := q.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE synced = 1`, table)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}

	now := time.Now().UTC().Format(timeLayout)
	query := fmt.Sprintf(`INSERT INTO %s (id, body, synced, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(id) DO NOTHING`, table)
	for _, rec := range recs {
		if _, err := q.db.ExecContext(ctx, query, rec.ID, string(rec.Body), now); err != nil {
			return fmt.Errorf("failed to install snapshot row %s %d: %w", table, rec.ID, err)
		}
	}
	return nil
}

// UnsyncedCount returns how many records of the collection still carry
// unconfirmed local mutations. Powers the UI's pending indicator.
func (q *Queries) UnsyncedCount(ctx context.Context, c models.Collection) (int, error) {
	table, err := c.Table()
	if err != nil {
		return 0, err
	}

	var n int
	row := q.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE synced = 0`, table))
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unsynced %s: %w", table, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.Record, error) {
	var (
		rec       models.Record
		body      string
		synced    int
		updatedAt string
	)
	if err := row.Scan(&rec.ID, &body, &synced, &updatedAt); err != nil {
		return models.Record{}, err
	}
	rec.Body = json.RawMessage(body)
	rec.Synced = synced != 0
	if ts, err := time.Parse(timeLayout, updatedAt); err == nil {
		rec.UpdatedAt = ts
	}
	return rec, nil
}

func mergeBodies(base, patch json.RawMessage) (json.RawMessage, error) {
	m := map[string]any{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &m); err != nil {
			return nil, err
		}
	}
	if len(patch) > 0 {
		p := map[string]any{}
		if err := json.Unmarshal(patch, &p); err != nil {
			return nil, err
		}
		for k, v := range p {
			m[k] = v
		}
	}
	delete(m, "id")
	return json.Marshal(m)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
