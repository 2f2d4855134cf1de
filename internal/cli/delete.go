package cli

import (
	"context"
	"errors"
	"os"

	"github.com/sisbm/fleetsync/internal/common"
)

// Delete prompts for a record id and removes the record. The local copy
// goes immediately; only an interactive server rejection keeps it.
func (a *App) Delete(ctx context.Context) error {
	id, err := GetID(a.reader, "Enter record id to delete", os.Stdout)
	if err != nil {
		printlnFn("error:", err)
		return err
	}

	err = a.engine.Collection(a.current).Remove(ctx, id)
	switch {
	case err == nil:
		printlnFn("Deleted")
	case errors.Is(err, common.ErrRejected):
		printlnFn("Rejected by server:", err)
	case errors.Is(err, common.ErrNotFound):
		printlnFn("No record with id", id)
	default:
		printlnFn("error:", err)
	}
	return err
}
