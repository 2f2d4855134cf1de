package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sisbm/fleetsync/internal/common"
	"github.com/sisbm/fleetsync/internal/gateway"
	"github.com/sisbm/fleetsync/internal/models"
	"github.com/sisbm/fleetsync/internal/store"
)

type updateCall struct {
	ID   int64
	Body json.RawMessage
}

// fakeGateway scripts remote behavior: queued errors are consumed one per
// call, successful creates assign sequential server ids.
type fakeGateway struct {
	mu         sync.Mutex
	nextID     int64
	creates    []json.RawMessage
	updates    []updateCall
	deletes    []int64
	createErrs []error
	updateErrs []error
	deleteErrs []error
	gate       chan struct{} // when set, Create blocks until the channel is closed
}

func (f *fakeGateway) popErr(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeGateway) Create(ctx context.Context, c models.Collection, body json.RawMessage, key string) (models.Record, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popErr(&f.createErrs); err != nil {
		return models.Record{}, err
	}
	f.creates = append(f.creates, body)
	f.nextID++
	return models.Record{ID: f.nextID + 40, Body: body, Synced: true}, nil
}

func (f *fakeGateway) Update(ctx context.Context, c models.Collection, id int64, body json.RawMessage, key string) (models.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popErr(&f.updateErrs); err != nil {
		return models.Record{}, err
	}
	f.updates = append(f.updates, updateCall{ID: id, Body: body})
	return models.Record{ID: id, Body: body, Synced: true}, nil
}

func (f *fakeGateway) Delete(ctx context.Context, c models.Collection, id int64, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popErr(&f.deleteErrs); err != nil {
		return err
	}
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeGateway) ListAll(ctx context.Context, c models.Collection) ([]models.Record, error) {
	return nil, nil
}

func (f *fakeGateway) Ping(ctx context.Context) error { return nil }

var errTransient = fmt.Errorf("boom: %w", common.ErrTransient)
var errNoToken = fmt.Errorf("no token configured: %w", common.ErrNoToken)
var errRejected = &gateway.RejectedError{Status: http.StatusBadRequest, Message: "invalid"}

func setup(t *testing.T, opts ...Option) (*Manager, *store.Store, *fakeGateway) {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "fleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	gw := &fakeGateway{}
	return NewManager(s, gw, models.Vehicles, opts...), s, gw
}

func vehicleBody(t *testing.T, prefixo string) json.RawMessage {
	t.Helper()
	b, err := models.EncodeBody(models.Vehicle{Prefixo: prefixo})
	require.NoError(t, err)
	return b
}

func TestEnqueueCreate_OptimisticWritePlusEntry(t *testing.T) {
	m, s, _ := setup(t)
	ctx := context.Background()

	rec, err := m.EnqueueCreate(ctx, vehicleBody(t, "VTR-1"))
	require.NoError(t, err)
	assert.True(t, models.IsTempID(rec.ID))
	assert.False(t, rec.Synced)

	stored, err := s.Get(ctx, models.Vehicles, rec.ID)
	require.NoError(t, err)
	assert.False(t, stored.Synced)

	queue, err := s.ListOutbox(ctx, models.Vehicles)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, http.MethodPost, queue[0].Method)
	assert.NotEmpty(t, queue[0].IdempotencyKey)

	id, _, err := models.ExtractID(queue[0].Body)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, id, "queued body carries the correlation id")
}

func TestReplay_CreateReconcilesID(t *testing.T) {
	m, s, gw := setup(t)
	ctx := context.Background()

	rec, err := m.EnqueueCreate(ctx, vehicleBody(t, "VTR-1"))
	require.NoError(t, err)
	temp := rec.ID

	require.NoError(t, m.Replay(ctx))

	// wire body had no id
	require.Len(t, gw.creates, 1)
	wireID, _, err := models.ExtractID(gw.creates[0])
	require.NoError(t, err)
	assert.Zero(t, wireID)

	// temp id gone, server id present and synced
	_, err = s.Get(ctx, models.Vehicles, temp)
	require.ErrorIs(t, err, common.ErrNotFound)

	got, err := s.Get(ctx, models.Vehicles, 41)
	require.NoError(t, err)
	assert.True(t, got.Synced)

	depth, err := m.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestReplay_UpdateQueuedAgainstTempID_TargetsServerID(t *testing.T) {
	// the append-log shape: CREATE then UPDATE both queued for the same
	// record, as accumulated by a client running without coalescing
	m, s, gw := setup(t, WithCoalescing(false))
	ctx := context.Background()

	rec, err := m.EnqueueCreate(ctx, vehicleBody(t, "VTR-1"))
	require.NoError(t, err)
	temp := rec.ID

	_, err = m.EnqueueUpdate(ctx, temp, vehicleBody(t, "VTR-1-EDIT"))
	require.NoError(t, err)

	depth, err := m.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, depth)

	require.NoError(t, m.Replay(ctx))

	require.Len(t, gw.creates, 1)
	require.Len(t, gw.updates, 1, "update must be replayed after the create")
	assert.Equal(t, int64(41), gw.updates[0].ID, "update must target the server id, not the temp id")

	var v models.Vehicle
	require.NoError(t, json.Unmarshal(gw.updates[0].Body, &v))
	assert.Equal(t, "VTR-1-EDIT", v.Prefixo)

	got, err := s.Get(ctx, models.Vehicles, 41)
	require.NoError(t, err)
	assert.True(t, got.Synced)

	depth, err = m.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestReplay_TransientStopsPassInOrder(t *testing.T) {
	m, s, gw := setup(t, WithCoalescing(false))
	ctx := context.Background()

	_, err := m.EnqueueCreate(ctx, vehicleBody(t, "VTR-1"))
	require.NoError(t, err)
	_, err = m.EnqueueCreate(ctx, vehicleBody(t, "VTR-2"))
	require.NoError(t, err)

	gw.createErrs = []error{errTransient}
	require.NoError(t, m.Replay(ctx), "a transient failure is not an error for the caller")

	assert.Empty(t, gw.creates, "no entry may be skipped ahead of a stalled one")

	depth, err := m.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth, "both entries stay pending")

	// next trigger delivers everything
	require.NoError(t, m.Replay(ctx))
	assert.Len(t, gw.creates, 2)

	queue, err := s.ListOutbox(ctx, models.Vehicles)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestReplay_RejectedRemovedAfterOneAttempt(t *testing.T) {
	m, s, gw := setup(t, WithCoalescing(false))
	ctx := context.Background()

	bad, err := m.EnqueueCreate(ctx, vehicleBody(t, ""))
	require.NoError(t, err)
	_, err = m.EnqueueCreate(ctx, vehicleBody(t, "VTR-2"))
	require.NoError(t, err)

	gw.createErrs = []error{errRejected}
	require.NoError(t, m.Replay(ctx))

	// rejected entry gone, unrelated entry delivered
	depth, err := m.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
	assert.Len(t, gw.creates, 1, "replay continues past a rejection")

	// the rejected record stays local and unsynced for operator inspection
	got, err := s.Get(ctx, models.Vehicles, bad.ID)
	require.NoError(t, err)
	assert.False(t, got.Synced)

	// a second replay must not re-send the rejected mutation
	require.NoError(t, m.Replay(ctx))
	assert.Len(t, gw.creates, 1)
}

func TestReplay_DeliveredEntryNotResent(t *testing.T) {
	m, _, gw := setup(t)
	ctx := context.Background()

	_, err := m.EnqueueCreate(ctx, vehicleBody(t, "VTR-1"))
	require.NoError(t, err)

	require.NoError(t, m.Replay(ctx))
	require.NoError(t, m.Replay(ctx))

	assert.Len(t, gw.creates, 1, "a delivered entry must be dequeued exactly once and never re-sent")
}

func TestReplay_SingleFlight(t *testing.T) {
	m, _, gw := setup(t)
	ctx := context.Background()

	_, err := m.EnqueueCreate(ctx, vehicleBody(t, "VTR-1"))
	require.NoError(t, err)

	gate := make(chan struct{})
	gw.mu.Lock()
	gw.gate = gate
	gw.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- m.Replay(ctx) }()

	// wait for the first pass to be in flight
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.replaying
	}, time.Second, time.Millisecond)

	// a second trigger must coalesce, not start a parallel pass
	require.NoError(t, m.Replay(ctx))

	gw.mu.Lock()
	gw.gate = nil
	gw.mu.Unlock()
	close(gate)

	require.NoError(t, <-done)
	assert.Len(t, gw.creates, 1, "no duplicate delivery from concurrent triggers")
}

func TestReplay_DeleteRemovesAndFinishes(t *testing.T) {
	m, s, gw := setup(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, models.Vehicles, models.Record{ID: 7, Body: vehicleBody(t, "VTR-7"), Synced: true}))

	require.NoError(t, m.EnqueueDelete(ctx, 7))
	_, err := s.Get(ctx, models.Vehicles, 7)
	require.ErrorIs(t, err, common.ErrNotFound, "deletes apply locally at once")

	require.NoError(t, m.Replay(ctx))
	assert.Equal(t, []int64{7}, gw.deletes)

	depth, err := m.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestReplay_OrphanedEntryDropped(t *testing.T) {
	m, s, gw := setup(t, WithCoalescing(false))
	ctx := context.Background()

	rec, err := m.EnqueueCreate(ctx, vehicleBody(t, ""))
	require.NoError(t, err)
	_, err = m.EnqueueUpdate(ctx, rec.ID, vehicleBody(t, "EDIT"))
	require.NoError(t, err)

	// the create is rejected, so the queued update can never name a valid
	// server target
	gw.createErrs = []error{errRejected}
	require.NoError(t, m.Replay(ctx))

	assert.Empty(t, gw.updates, "an update must never be sent with a temporary id")

	depth, err := s.OutboxDepth(ctx, models.Vehicles)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestCoalesce_CreateThenUpdate_SingleEntryLatestBody(t *testing.T) {
	m, _, gw := setup(t)
	ctx := context.Background()

	rec, err := m.EnqueueCreate(ctx, vehicleBody(t, "VTR-1"))
	require.NoError(t, err)
	_, err = m.EnqueueUpdate(ctx, rec.ID, vehicleBody(t, "VTR-1-EDIT"))
	require.NoError(t, err)

	depth, err := m.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth, "successive edits collapse into one intent")

	require.NoError(t, m.Replay(ctx))
	require.Len(t, gw.creates, 1)
	assert.Empty(t, gw.updates)

	var v models.Vehicle
	require.NoError(t, json.Unmarshal(gw.creates[0], &v))
	assert.Equal(t, "VTR-1-EDIT", v.Prefixo, "the create ships the latest body")
}

func TestCoalesce_CreateThenDelete_CancelsOut(t *testing.T) {
	m, s, gw := setup(t)
	ctx := context.Background()

	rec, err := m.EnqueueCreate(ctx, vehicleBody(t, "VTR-1"))
	require.NoError(t, err)

	require.NoError(t, m.EnqueueDelete(ctx, rec.ID))

	depth, err := m.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth, "the server never saw the record; nothing to send")

	_, err = s.Get(ctx, models.Vehicles, rec.ID)
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, m.Replay(ctx))
	assert.Empty(t, gw.creates)
	assert.Empty(t, gw.deletes)
}

func TestCoalesce_UpdateThenDelete_BecomesDelete(t *testing.T) {
	m, s, gw := setup(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, models.Vehicles, models.Record{ID: 7, Body: vehicleBody(t, "VTR-7"), Synced: true}))

	_, err := m.EnqueueUpdate(ctx, 7, vehicleBody(t, "EDIT"))
	require.NoError(t, err)
	require.NoError(t, m.EnqueueDelete(ctx, 7))

	queue, err := s.ListOutbox(ctx, models.Vehicles)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, http.MethodDelete, queue[0].Method)

	require.NoError(t, m.Replay(ctx))
	assert.Empty(t, gw.updates)
	assert.Equal(t, []int64{7}, gw.deletes)
}

func TestCoalesce_UpdateThenUpdate_KeepsSeqSlot(t *testing.T) {
	m, s, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, models.Vehicles, models.Record{ID: 7, Body: vehicleBody(t, "VTR-7"), Synced: true}))

	_, err := m.EnqueueUpdate(ctx, 7, vehicleBody(t, "A"))
	require.NoError(t, err)
	first, err := s.ListOutbox(ctx, models.Vehicles)
	require.NoError(t, err)

	_, err = m.EnqueueUpdate(ctx, 7, vehicleBody(t, "B"))
	require.NoError(t, err)
	second, err := s.ListOutbox(ctx, models.Vehicles)
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, first[0].Seq, second[0].Seq, "coalescing keeps the original ordering slot")

	var v models.Vehicle
	_, body, err := models.ExtractID(second[0].Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, &v))
	assert.Equal(t, "B", v.Prefixo)
}

func TestReplay_NoSessionTokenKeepsBacklog(t *testing.T) {
	m, s, gw := setup(t)
	ctx := context.Background()

	rec, err := m.EnqueueCreate(ctx, vehicleBody(t, "VTR-1"))
	require.NoError(t, err)

	// replay fires before the user has logged in; the pass must stop with
	// the entry still queued, not throw it away as a rejection
	gw.createErrs = []error{errNoToken}
	require.NoError(t, m.Replay(ctx))

	depth, err := m.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, depth, "a pre-login replay must not consume the backlog")

	stored, err := s.Get(ctx, models.Vehicles, rec.ID)
	require.NoError(t, err)
	assert.False(t, stored.Synced)

	// after login the next trigger delivers it
	require.NoError(t, m.Replay(ctx))

	depth, err = m.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
	assert.Len(t, gw.creates, 1)

	got, err := s.Get(ctx, models.Vehicles, 41)
	require.NoError(t, err)
	assert.True(t, got.Synced)
}
