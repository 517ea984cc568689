package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/flight"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/load"
)

func bulkRequest(fc *flight.Context) (*BulkLoadArrayRequest, error) {
	req := &BulkLoadArrayRequest{}
	if err := getRequest(fc.Inputs, req); err != nil {
		return nil, err
	}
	return req, nil
}

func workingLoadId(fc *flight.Context) (uuid.UUID, error) {
	loadId, err := uuid.Parse(fc.Working.GetString(KeyLoadId))
	if err != nil {
		return uuid.Nil, errors.WithStack(&datarepoerrors.ErrCorruptState{Message: "bulk flight has no load id"})
	}
	return loadId, nil
}

// LoadLockStep makes this flight the only driver of the load tag.
type LoadLockStep struct {
	ledger load.Ledger
}

func (s *LoadLockStep) Do(ctx context.Context, fc *flight.Context) error {
	req, err := bulkRequest(fc)
	if err != nil {
		return err
	}
	l, err := s.ledger.LockLoad(ctx, req.LoadTag, fc.FlightId)
	if err != nil {
		return err
	}
	return fc.Working.Put(KeyLoadId, l.Id.String())
}

func (s *LoadLockStep) Undo(ctx context.Context, fc *flight.Context) error {
	req, err := bulkRequest(fc)
	if err != nil {
		return err
	}
	return s.ledger.UnlockLoad(ctx, req.LoadTag, fc.FlightId)
}

// PopulateFileStateStep records a not tried row for every file of the request. Rows left by an earlier load
// with the same tag keep their state.
type PopulateFileStateStep struct {
	ledger   load.Ledger
	filesMax int
}

func (s *PopulateFileStateStep) Do(ctx context.Context, fc *flight.Context) error {
	req, err := bulkRequest(fc)
	if err != nil {
		return err
	}
	if err := ValidateBulkRequest(req, s.filesMax); err != nil {
		return err
	}
	loadId, err := workingLoadId(fc)
	if err != nil {
		return err
	}
	return s.ledger.SeedBatch(ctx, loadId, req.LoadArray)
}

func (s *PopulateFileStateStep) Undo(context.Context, *flight.Context) error {
	return nil
}

// DriverStep runs the load driver.
type DriverStep struct {
	driver            *Driver
	defaultDriverWait time.Duration
}

func (s *DriverStep) Do(ctx context.Context, fc *flight.Context) error {
	req, err := bulkRequest(fc)
	if err != nil {
		return err
	}
	loadId, err := workingLoadId(fc)
	if err != nil {
		return err
	}
	driverWait := s.defaultDriverWait
	if req.DriverWaitSeconds > 0 {
		driverWait = time.Duration(req.DriverWaitSeconds) * time.Second
	}
	summary, err := s.driver.Run(ctx, DriverRequest{
		LoadId:             loadId,
		CollectionId:       req.CollectionId,
		CollectionName:     req.CollectionName,
		LoadTag:            req.LoadTag,
		ProfileId:          req.ProfileId,
		MaxFailedFileLoads: req.MaxFailedFileLoads,
		DriverWait:         driverWait,
	})
	if err != nil {
		return err
	}
	return fc.Working.Put(KeyLoadSummary, summary)
}

func (s *DriverStep) Undo(context.Context, *flight.Context) error {
	return nil
}

// BulkResultStep puts the per-file results and the summary of the load into the flight result. The driver's
// summary is used unless the tag also holds files of earlier requests.
type BulkResultStep struct {
	ledger load.Ledger
}

func (s *BulkResultStep) Do(ctx context.Context, fc *flight.Context) error {
	req, err := bulkRequest(fc)
	if err != nil {
		return err
	}
	loadId, err := workingLoadId(fc)
	if err != nil {
		return err
	}
	loadSummary := &load.Summary{}
	found, err := fc.Working.Get(KeyLoadSummary, loadSummary)
	if err != nil {
		return err
	}
	if !found {
		return errors.WithStack(&datarepoerrors.ErrCorruptState{Message: "bulk flight has no load summary"})
	}
	rows, err := s.ledger.Results(ctx, loadId)
	if err != nil {
		return err
	}

	// Only the files of this request; loads reusing a tag share rows with earlier requests.
	requested := make(map[string]bool, len(req.LoadArray))
	for _, file := range req.LoadArray {
		requested[file.TargetPath] = true
	}
	requestedRows := make([]*load.LoadFile, 0, len(req.LoadArray))
	for _, row := range rows {
		if requested[row.TargetPath] {
			requestedRows = append(requestedRows, row)
		}
	}
	summary := loadSummary
	if len(requestedRows) != loadSummary.TotalFiles {
		summary = load.Summarize(loadId, requestedRows)
		summary.LoadTag = req.LoadTag
	}

	result := &BulkLoadArrayResult{LoadSummary: summary, LoadFileResults: []*BulkLoadFileResult{}}
	for _, row := range requestedRows {
		result.LoadFileResults = append(result.LoadFileResults, &BulkLoadFileResult{
			SourcePath: row.SourcePath,
			TargetPath: row.TargetPath,
			State:      row.State,
			FileId:     row.FileId,
			Error:      row.Error,
		})
	}
	log.WithField("flightId", fc.FlightId).WithField("loadId", loadId).Infof(
		"Bulk load of %d files: %d succeeded, %d failed, %d not tried",
		summary.TotalFiles, summary.SucceededFiles, summary.FailedFiles, summary.NotTriedFiles)
	return fc.Working.Put(KeyBulkResult, result)
}

func (s *BulkResultStep) Undo(context.Context, *flight.Context) error {
	return nil
}

// LoadUnlockStep releases the load tag.
type LoadUnlockStep struct {
	ledger load.Ledger
}

func (s *LoadUnlockStep) Do(ctx context.Context, fc *flight.Context) error {
	req, err := bulkRequest(fc)
	if err != nil {
		return err
	}
	return s.ledger.UnlockLoad(ctx, req.LoadTag, fc.FlightId)
}

func (s *LoadUnlockStep) Undo(context.Context, *flight.Context) error {
	return nil
}
