package ingest

import (
	"github.com/dinvlad/jade-data-repo/internal/common/util"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/blob"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/filesystem"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/flight"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/resource"
)

// NewWorkerFlightFactory builds the flight that ingests a single file:
//  1. allocate the file id
//  2. reserve the target path
//  3. copy the bytes
//  4. write the file metadata
func NewWorkerFlightFactory(
	namespace *filesystem.Service,
	provisioner resource.Provisioner,
	copier blob.Copier,
	filesystemRetry util.RetryPolicy,
	copyRetry util.RetryPolicy,
) flight.Factory {
	return func(*flight.Map) (*flight.Flight, error) {
		f := flight.NewFlight(WorkerFlightClass)
		f.AddStep("IngestFileIdStep", FileIdStep{}, util.NoRetry)
		f.AddStep("IngestFileDirectoryStep", &FileDirectoryStep{namespace: namespace}, filesystemRetry)
		f.AddStep("IngestFilePrimaryDataStep", &FilePrimaryDataStep{provisioner: provisioner, copier: copier}, copyRetry)
		f.AddStep("IngestFileFileStep", &FileFileStep{namespace: namespace}, filesystemRetry)
		return f, nil
	}
}
