package ingest

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/filesystem"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/flight"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/load"
)

// Service submits ingest flights and waits for their outcome.
type Service struct {
	engine       flight.Engine
	clock        clock.Clock
	filesMax     int
	pollInterval time.Duration
}

func NewService(engine flight.Engine, clock clock.Clock, filesMax int, pollInterval time.Duration) *Service {
	return &Service{
		engine:       engine,
		clock:        clock,
		filesMax:     filesMax,
		pollInterval: pollInterval,
	}
}

// IngestBulkFileArray validates req, gives it a load tag when it has none and submits the bulk flight. It
// returns the flight id.
func (s *Service) IngestBulkFileArray(ctx context.Context, req BulkLoadArrayRequest) (string, error) {
	req.LoadTag = load.ComputeLoadTag(req.LoadTag)
	if err := ValidateBulkRequest(&req, s.filesMax); err != nil {
		return "", err
	}
	return s.submit(ctx, BulkFlightClass, req)
}

// IngestFile submits the flight of a single file.
func (s *Service) IngestFile(ctx context.Context, req FileLoadRequest) (string, error) {
	req.LoadTag = load.ComputeLoadTag(req.LoadTag)
	if req.CollectionId == "" {
		return "", errors.WithStack(&datarepoerrors.ErrInvalidArgument{Name: "collectionId", Value: req.CollectionId, Message: "must not be empty"})
	}
	if err := filesystem.ValidatePath(req.File.TargetPath); err != nil {
		return "", err
	}
	return s.submit(ctx, WorkerFlightClass, req)
}

func (s *Service) submit(ctx context.Context, class string, req interface{}) (string, error) {
	inputs := flight.NewMap()
	if err := inputs.Put(KeyRequest, req); err != nil {
		return "", err
	}
	flightId := s.engine.CreateFlightId()
	if err := s.engine.SubmitToQueue(ctx, flightId, class, inputs); err != nil {
		return "", err
	}
	return flightId, nil
}

// WaitForBulkResult blocks until the bulk flight finishes and returns its result.
func (s *Service) WaitForBulkResult(ctx context.Context, flightId string) (*BulkLoadArrayResult, error) {
	state, err := s.waitForSuccess(ctx, flightId)
	if err != nil {
		return nil, err
	}
	result := &BulkLoadArrayResult{}
	found, err := state.Result.Get(KeyBulkResult, result)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.WithStack(&datarepoerrors.ErrCorruptState{Message: "no bulk result for flight " + flightId})
	}
	return result, nil
}

// WaitForFile blocks until the flight of a single file finishes and returns the file id and its info.
func (s *Service) WaitForFile(ctx context.Context, flightId string) (string, *filesystem.FileInfo, error) {
	state, err := s.waitForSuccess(ctx, flightId)
	if err != nil {
		return "", nil, err
	}
	return workerResult(state)
}

func (s *Service) waitForSuccess(ctx context.Context, flightId string) (*flight.State, error) {
	state, err := flight.WaitForFlight(ctx, s.engine, s.clock, flightId, s.pollInterval)
	if err != nil {
		return nil, err
	}
	if state.Status != flight.Success {
		return nil, errors.Errorf("flight %s finished with status %s: %s", flightId, state.Status, state.Error)
	}
	if state.Result == nil {
		return nil, errors.WithStack(&datarepoerrors.ErrCorruptState{Message: "no result map for flight " + flightId})
	}
	return state, nil
}
