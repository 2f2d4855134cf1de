package cli

import (
	"context"
	"errors"

	"github.com/sisbm/fleetsync/internal/common"
	"github.com/sisbm/fleetsync/internal/models"
)

// List prints every record of the current collection from the local cache.
func (a *App) List(ctx context.Context) error {
	recs, err := a.engine.Collection(a.current).GetAll(ctx)
	if err != nil {
		printlnFn("error:", err)
		return err
	}
	if len(recs) == 0 {
		printlnFn("(empty)")
		return nil
	}
	for _, rec := range recs {
		printlnFn(renderRecord(a.current, rec))
	}
	return nil
}

// Sync refreshes every collection from the server, draining pending
// mutations first.
func (a *App) Sync(ctx context.Context) error {
	if err := a.engine.SyncAll(ctx); err != nil {
		if errors.Is(err, common.ErrUnreachable) {
			printlnFn("Server unreachable; showing local data, will retry when back online")
		} else {
			printlnFn("Sync failed:", err)
		}
		return err
	}
	printlnFn("Sync complete")
	return nil
}

// Status prints connectivity and the per-collection pending counts.
func (a *App) Status(ctx context.Context) error {
	if a.monitor.IsOnline() {
		printlnFn("Connectivity: online")
	} else {
		printlnFn("Connectivity: offline")
	}

	for _, c := range models.Collections {
		coord := a.engine.Collection(c)
		pending, err := coord.PendingMutations(ctx)
		if err != nil {
			return err
		}
		unsynced, err := coord.Unsynced(ctx)
		if err != nil {
			return err
		}
		printlnFn(string(c)+":", pending, "pending,", unsynced, "awaiting confirmation")
	}
	return nil
}
