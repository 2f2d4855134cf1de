package cli

import (
	"context"
	"errors"
	"os"

	"github.com/sisbm/fleetsync/internal/common"
	"github.com/sisbm/fleetsync/internal/models"
)

// Add prompts for the fields of a new record and creates it in the current
// collection. Offline the record is stored locally under a temporary id and
// queued; a server-side rejection is shown to the user and nothing is kept.
func (a *App) Add(ctx context.Context) error {
	body, err := a.inputBody()
	if err != nil {
		printlnFn("error:", err)
		return err
	}

	rec, err := a.engine.Collection(a.current).Add(ctx, body)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrRejected):
		printlnFn("Rejected by server:", err)
		return err
	default:
		printlnFn("error:", err)
		return err
	}

	if models.IsTempID(rec.ID) {
		printlnFn("Saved locally; will be sent when the server is reachable")
	} else {
		printlnFn("Created with id", rec.ID)
	}
	return nil
}

// Edit prompts for a record id and replacement fields, then updates the
// record. Edits of a record that only exists locally fold into its pending
// create.
func (a *App) Edit(ctx context.Context) error {
	id, err := GetID(a.reader, "Enter record id to edit", os.Stdout)
	if err != nil {
		printlnFn("error:", err)
		return err
	}

	body, err := a.inputBody()
	if err != nil {
		printlnFn("error:", err)
		return err
	}

	_, err = a.engine.Collection(a.current).Update(ctx, id, body)
	switch {
	case err == nil:
		printlnFn("Updated")
	case errors.Is(err, common.ErrRejected):
		printlnFn("Rejected by server:", err)
	case errors.Is(err, common.ErrNotFound):
		printlnFn("No record with id", id)
	default:
		printlnFn("error:", err)
	}
	return err
}
