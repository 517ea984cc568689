package ingest

import (
	"context"

	"github.com/pkg/errors"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/filesystem"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/flight"
)

// FileDirectoryStep reserves the target path. A file reference without file metadata is invisible to lookups,
// so the reservation hides the file until FileFileStep finalizes it. The existing entry, if any, decides what
// happens:
//   - none: create the entry for our file id
//   - different load tag: the path belongs to someone else and the file fails
//   - same load tag, different file id: a rerun of the load; adopt that file id, and if its file metadata
//     already exists the file is complete
//   - same load tag, same file id: we are recovering this very flight
type FileDirectoryStep struct {
	namespace *filesystem.Service
}

func (s *FileDirectoryStep) Do(ctx context.Context, fc *flight.Context) error {
	req := &FileLoadRequest{}
	if err := getRequest(fc.Inputs, req); err != nil {
		return err
	}
	fileId := fc.Working.GetString(KeyFileId)
	if err := fc.Working.Put(KeyLoadCompleted, false); err != nil {
		return err
	}
	targetPath := req.File.TargetPath

	existing, err := s.namespace.LookupByPath(ctx, req.CollectionId, targetPath)
	if err != nil {
		return err
	}
	if existing == nil {
		err := s.namespace.CreateEntry(ctx, req.CollectionId, &filesystem.DirectoryEntry{
			FileId:    fileId,
			IsFileRef: true,
			Path:      filesystem.ParentPath(targetPath),
			Name:      filesystem.LeafName(targetPath),
			LoadTag:   req.LoadTag,
		})
		if datarepoerrors.IsConflict(err) {
			// Someone reserved the path since the lookup; the next attempt sees who.
			return datarepoerrors.Retryable(err)
		}
		return err
	}

	if existing.LoadTag != req.LoadTag || !existing.IsFileRef {
		return errors.WithStack(&datarepoerrors.ErrPathAlreadyExists{Path: targetPath})
	}
	if existing.FileId == fileId {
		return nil
	}

	if err := fc.Working.Put(KeyFileId, existing.FileId); err != nil {
		return err
	}
	if err := fc.Working.Put(KeyFileIdAdopted, true); err != nil {
		return err
	}
	file, err := s.namespace.LookupFile(ctx, req.CollectionId, existing.FileId)
	if err != nil {
		return err
	}
	if file != nil {
		return fc.Working.Put(KeyLoadCompleted, true)
	}
	return nil
}

// Undo releases the reservation unless it was adopted from an earlier run.
func (s *FileDirectoryStep) Undo(ctx context.Context, fc *flight.Context) error {
	if fc.Working.GetBool(KeyFileIdAdopted) {
		return nil
	}
	fileId := fc.Working.GetString(KeyFileId)
	if fileId == "" {
		return nil
	}
	req := &FileLoadRequest{}
	if err := getRequest(fc.Inputs, req); err != nil {
		return err
	}
	_, err := s.namespace.DeleteEntry(ctx, req.CollectionId, fileId)
	return err
}
