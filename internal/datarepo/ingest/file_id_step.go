package ingest

import (
	"context"

	"github.com/google/uuid"

	"github.com/dinvlad/jade-data-repo/internal/datarepo/flight"
)

// FileIdStep allocates the id of the file before anything else happens, so that every later step and every
// undo knows which entries belong to this flight.
type FileIdStep struct{}

func (FileIdStep) Do(_ context.Context, fc *flight.Context) error {
	if fc.Working.GetString(KeyFileId) != "" {
		return nil
	}
	return fc.Working.Put(KeyFileId, uuid.NewString())
}

func (FileIdStep) Undo(context.Context, *flight.Context) error {
	return nil
}
