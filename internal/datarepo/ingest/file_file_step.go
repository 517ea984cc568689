package ingest

import (
	"context"

	"github.com/pkg/errors"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/filesystem"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/flight"
)

// FileFileStep finalizes the file by writing its metadata, which makes it visible. The file id and file
// info it leaves in the working map are the flight's result.
type FileFileStep struct {
	namespace *filesystem.Service
}

func (s *FileFileStep) Do(ctx context.Context, fc *flight.Context) error {
	req := &FileLoadRequest{}
	if err := getRequest(fc.Inputs, req); err != nil {
		return err
	}
	fileId := fc.Working.GetString(KeyFileId)

	if fc.Working.GetBool(KeyLoadCompleted) {
		existing, err := s.namespace.LookupFile(ctx, req.CollectionId, fileId)
		if err != nil {
			return err
		}
		if existing == nil {
			return errors.WithStack(&datarepoerrors.ErrNotFound{Type: "file", Value: fileId, Message: "completed file has no metadata"})
		}
		return fc.Working.Put(KeyFileInfo, existing.Info())
	}

	info := &filesystem.FileInfo{}
	found, err := fc.Working.Get(KeyFileInfo, info)
	if err != nil {
		return err
	}
	if !found {
		return errors.WithStack(&datarepoerrors.ErrCorruptState{Message: "no file info for file " + fileId})
	}
	err = s.namespace.CreateFileEntry(ctx, &filesystem.FileEntry{
		FileId:          fileId,
		CollectionId:    req.CollectionId,
		Checksums:       info.Checksums,
		Size:            info.Size,
		CreatedDate:     info.CreatedDate,
		StorageLocation: info.StorageLocation,
		MimeType:        req.File.MimeType,
		Description:     req.File.Description,
		LoadTag:         req.LoadTag,
		FlightId:        fc.FlightId,
	})
	if !datarepoerrors.IsConflict(err) {
		return err
	}

	// Written by an earlier attempt of this load.
	existing, lookupErr := s.namespace.LookupFile(ctx, req.CollectionId, fileId)
	if lookupErr != nil {
		return lookupErr
	}
	if existing == nil || existing.LoadTag != req.LoadTag {
		return err
	}
	return fc.Working.Put(KeyFileInfo, existing.Info())
}

func (s *FileFileStep) Undo(context.Context, *flight.Context) error {
	return nil
}
