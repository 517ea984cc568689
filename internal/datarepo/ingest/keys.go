package ingest

import (
	"github.com/pkg/errors"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/flight"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/load"
)

const (
	WorkerFlightClass = "FileIngestWorkerFlight"
	BulkFlightClass   = "FileIngestBulkFlight"
)

// Flight map keys.
const (
	KeyRequest       = "request"
	KeyFileId        = "fileId"
	KeyFileIdAdopted = "fileIdAdopted"
	KeyLoadCompleted = "loadCompleted"
	KeyLocation      = "location"
	KeyFileInfo      = "fileInfo"
	KeyLoadId        = "loadId"
	KeyLoadSummary   = "loadSummary"
	KeyBulkResult    = "bulkLoadArrayResult"
)

// FileLoadRequest is the input of one worker flight.
type FileLoadRequest struct {
	CollectionId   string         `json:"collectionId"`
	CollectionName string         `json:"collectionName"`
	ProfileId      string         `json:"profileId"`
	LoadTag        string         `json:"loadTag"`
	File           load.FileModel `json:"file"`
}

// BulkLoadArrayRequest is the input of a bulk flight.
type BulkLoadArrayRequest struct {
	CollectionId   string `json:"datasetId"`
	CollectionName string `json:"datasetName"`
	ProfileId      string `json:"profileId"`
	LoadTag        string `json:"loadTag,omitempty"`
	// MaxFailedFileLoads stops launching new files once more than this many have failed. -1 never stops.
	MaxFailedFileLoads int              `json:"maxFailedFileLoads"`
	DriverWaitSeconds  int              `json:"driverWaitSeconds,omitempty"`
	LoadArray          []load.FileModel `json:"loadArray"`
}

type BulkLoadFileResult struct {
	SourcePath string     `json:"sourcePath"`
	TargetPath string     `json:"targetPath"`
	State      load.State `json:"state"`
	FileId     string     `json:"fileId,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type BulkLoadArrayResult struct {
	LoadSummary     *load.Summary         `json:"loadSummary"`
	LoadFileResults []*BulkLoadFileResult `json:"loadFileResults"`
}

func getRequest(m *flight.Map, dst interface{}) error {
	found, err := m.Get(KeyRequest, dst)
	if err != nil {
		return err
	}
	if !found {
		return errors.WithStack(&datarepoerrors.ErrCorruptState{Message: "flight has no request"})
	}
	return nil
}
