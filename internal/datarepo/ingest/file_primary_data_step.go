package ingest

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/dinvlad/jade-data-repo/internal/datarepo/blob"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/flight"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/resource"
)

// FilePrimaryDataStep copies the source bytes into the collection's storage location.
type FilePrimaryDataStep struct {
	provisioner resource.Provisioner
	copier      blob.Copier
}

func (s *FilePrimaryDataStep) Do(ctx context.Context, fc *flight.Context) error {
	if fc.Working.GetBool(KeyLoadCompleted) {
		return nil
	}
	req := &FileLoadRequest{}
	if err := getRequest(fc.Inputs, req); err != nil {
		return err
	}
	location, err := s.provisioner.GetOrCreateLocation(ctx, req.CollectionName, resource.BillingProfile{Id: req.ProfileId}, fc.FlightId)
	if err != nil {
		return err
	}
	if err := fc.Working.Put(KeyLocation, location); err != nil {
		return err
	}

	fileId := fc.Working.GetString(KeyFileId)
	info, err := s.copier.Copy(ctx, req.File.SourcePath, location, fileId, req.File.TargetPath)
	if err != nil {
		return err
	}
	log.WithField("flightId", fc.FlightId).Debugf("Copied %s to %s", req.File.SourcePath, info.StorageLocation)
	return fc.Working.Put(KeyFileInfo, info)
}

// Undo only records the flight against the location. Locations are shared by every file of the collection
// and are never deleted here.
func (s *FilePrimaryDataStep) Undo(ctx context.Context, fc *flight.Context) error {
	if fc.Working.GetBool(KeyLoadCompleted) {
		return nil
	}
	req := &FileLoadRequest{}
	if err := getRequest(fc.Inputs, req); err != nil {
		return err
	}
	return s.provisioner.UpdateLocationMetadata(ctx, req.CollectionName, resource.BillingProfile{Id: req.ProfileId}, fc.FlightId)
}
