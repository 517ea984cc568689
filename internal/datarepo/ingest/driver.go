package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/filesystem"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/flight"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/load"
	"github.com/dinvlad/jade-data-repo/internal/datarepo/podcount"
)

const unknownError = "unknown error"

// DriverRequest identifies the load a Driver works on.
type DriverRequest struct {
	LoadId             uuid.UUID
	CollectionId       string
	CollectionName     string
	LoadTag            string
	ProfileId          string
	MaxFailedFileLoads int
	DriverWait         time.Duration
}

// Driver keeps up to pods x ConcurrentFiles worker flights of one load busy until every file of the load has
// been tried, or until too many have failed. There is exactly one driver per load; the per-file flights run on
// whichever fleet member takes them from the engine queue.
type Driver struct {
	ledger          load.Ledger
	engine          flight.Engine
	pods            podcount.Provider
	clock           clock.Clock
	concurrentFiles int
}

func NewDriver(ledger load.Ledger, engine flight.Engine, pods podcount.Provider, clock clock.Clock, concurrentFiles int) *Driver {
	return &Driver{
		ledger:          ledger,
		engine:          engine,
		pods:            pods,
		clock:           clock,
		concurrentFiles: concurrentFiles,
	}
}

// Run drives the load to completion and returns its summary. Errors talking to the ledger or the engine are
// retryable and running again is safe. Corrupt state is not retryable.
func (d *Driver) Run(ctx context.Context, req DriverRequest) (*load.Summary, error) {
	logger := log.WithField("loadId", req.LoadId).WithField("collectionId", req.CollectionId)

	if err := d.recoverOrphans(ctx, logger, req.LoadId); err != nil {
		return nil, err
	}

	for {
		budget, err := d.budget(ctx)
		if err != nil {
			return nil, err
		}
		candidates, err := d.loadCandidates(ctx, logger, req.LoadId, budget)
		if err != nil {
			return nil, err
		}

		running := len(candidates.RunningLoads)
		available := len(candidates.CandidateFiles)
		if running == 0 && available == 0 {
			break
		}

		if req.MaxFailedFileLoads >= 0 && candidates.FailedLoads > req.MaxFailedFileLoads {
			logger.Warnf("%d files failed, more than the allowed %d; waiting for %d running files", candidates.FailedLoads, req.MaxFailedFileLoads, running)
			if err := d.waitForAll(ctx, logger, req, budget); err != nil {
				return nil, err
			}
			break
		}

		if running < budget {
			launchCount := budget - running
			if available < launchCount {
				launchCount = available
			}
			if err := d.launch(ctx, logger, req, candidates.CandidateFiles[:launchCount]); err != nil {
				return nil, err
			}
			running += launchCount
		}

		if err := d.waitForAny(ctx, logger, req, budget, running); err != nil {
			return nil, err
		}
	}

	summary, err := d.ledger.Summary(ctx, req.LoadId)
	if err != nil {
		return nil, datarepoerrors.Retryable(err)
	}
	summary.LoadTag = req.LoadTag
	logger.Infof("Load finished: %d succeeded, %d failed, %d not tried", summary.SucceededFiles, summary.FailedFiles, summary.NotTriedFiles)
	return summary, nil
}

func (d *Driver) budget(ctx context.Context) (int, error) {
	pods, err := d.pods.ActivePodCount(ctx)
	if err != nil {
		return 0, datarepoerrors.Retryable(err)
	}
	if pods < 1 {
		pods = 1
	}
	budget := pods * d.concurrentFiles
	if budget < 1 {
		budget = 1
	}
	budgetMetric.Set(float64(budget))
	return budget, nil
}

// recoverOrphans resets files marked running whose flight never reached the engine. That happens when the
// driver stops between marking a file running and submitting its flight.
func (d *Driver) recoverOrphans(ctx context.Context, logger *log.Entry, loadId uuid.UUID) error {
	running, err := d.ledger.ListRunning(ctx, loadId)
	if err != nil {
		return datarepoerrors.Retryable(err)
	}
	for _, file := range running {
		_, err := d.engine.GetFlightState(ctx, file.FlightId)
		if errors.Is(err, flight.ErrFlightNotFound) {
			logger.WithField("flightId", file.FlightId).Infof("Resetting orphaned file %s to not tried", file.TargetPath)
			if err := d.ledger.MarkNotTried(ctx, loadId, file.TargetPath); err != nil {
				return datarepoerrors.Retryable(err)
			}
			orphanedFilesMetric.Inc()
			continue
		}
		if err != nil {
			return datarepoerrors.Retryable(err)
		}
	}
	return nil
}

// loadCandidates returns the ledger's view of the load after recording the outcome of every flight that has
// finished since the last look.
func (d *Driver) loadCandidates(ctx context.Context, logger *log.Entry, loadId uuid.UUID, budget int) (*load.Candidates, error) {
	candidates, err := d.ledger.FindCandidates(ctx, loadId, budget)
	if err != nil {
		return nil, datarepoerrors.Retryable(err)
	}

	failed := candidates.FailedLoads
	stillRunning := make([]*load.LoadFile, 0, len(candidates.RunningLoads))
	for _, file := range candidates.RunningLoads {
		state, err := d.engine.GetFlightState(ctx, file.FlightId)
		if err != nil {
			return nil, datarepoerrors.Retryable(err)
		}
		fileLogger := logger.WithField("flightId", file.FlightId)

		switch state.Status {
		case flight.Running, flight.Waiting, flight.Ready, flight.Queued:
			stillRunning = append(stillRunning, file)
		case flight.Error, flight.Fatal:
			errorText := state.Error
			if errorText == "" {
				errorText = unknownError
			}
			fileLogger.Infof("File %s failed: %s", file.TargetPath, errorText)
			if err := d.ledger.MarkFailed(ctx, loadId, file.TargetPath, errorText); err != nil {
				return nil, datarepoerrors.Retryable(err)
			}
			completedFilesMetric.WithLabelValues(string(load.Failed)).Inc()
			failed++
		case flight.Success:
			fileId, info, err := workerResult(state)
			if err != nil {
				return nil, err
			}
			fileLogger.Debugf("File %s succeeded as %s", file.TargetPath, fileId)
			if err := d.ledger.MarkSucceeded(ctx, loadId, file.TargetPath, fileId, info); err != nil {
				return nil, datarepoerrors.Retryable(err)
			}
			completedFilesMetric.WithLabelValues(string(load.Succeeded)).Inc()
		default:
			return nil, errors.WithStack(&datarepoerrors.ErrCorruptState{
				Message: fmt.Sprintf("invalid flight state %q for flight %s", state.Status, file.FlightId),
			})
		}
	}

	candidates.RunningLoads = stillRunning
	candidates.FailedLoads = failed
	logger.Debugf("Candidates: failed=%d running=%d candidates=%d", failed, len(stillRunning), len(candidates.CandidateFiles))
	return candidates, nil
}

func workerResult(state *flight.State) (string, *filesystem.FileInfo, error) {
	corrupt := func(message string) error {
		return errors.WithStack(&datarepoerrors.ErrCorruptState{Message: message + " for flight " + state.FlightId})
	}
	if state.Result == nil {
		return "", nil, corrupt("no result map in flight state")
	}
	fileId := state.Result.GetString(KeyFileId)
	if fileId == "" {
		return "", nil, corrupt("no file id in flight result")
	}
	info := &filesystem.FileInfo{}
	found, err := state.Result.Get(KeyFileInfo, info)
	if err != nil || !found {
		return "", nil, corrupt("no file info in flight result")
	}
	return fileId, info, nil
}

// launch marks each file running before submitting its flight. A crash in between leaves an orphan for
// recoverOrphans to reset.
func (d *Driver) launch(ctx context.Context, logger *log.Entry, req DriverRequest, files []*load.LoadFile) error {
	for _, file := range files {
		flightId := d.engine.CreateFlightId()
		inputs := flight.NewMap()
		err := inputs.Put(KeyRequest, FileLoadRequest{
			CollectionId:   req.CollectionId,
			CollectionName: req.CollectionName,
			ProfileId:      req.ProfileId,
			LoadTag:        req.LoadTag,
			File: load.FileModel{
				SourcePath:  file.SourcePath,
				TargetPath:  file.TargetPath,
				MimeType:    file.MimeType,
				Description: file.Description,
			},
		})
		if err != nil {
			return err
		}

		if err := d.ledger.MarkRunning(ctx, req.LoadId, file.TargetPath, flightId); err != nil {
			return datarepoerrors.Retryable(err)
		}
		if err := d.engine.SubmitToQueue(ctx, flightId, WorkerFlightClass, inputs); err != nil {
			return datarepoerrors.Retryable(err)
		}
		logger.WithField("flightId", flightId).Debugf("Launched %s", file.TargetPath)
		launchedFilesMetric.Inc()
	}
	return nil
}

// waitForAny returns once fewer than originallyRunning files are running. The ledger is checked again straight
// away since with many files in flight something has usually just finished.
func (d *Driver) waitForAny(ctx context.Context, logger *log.Entry, req DriverRequest, budget int, originallyRunning int) error {
	for {
		candidates, err := d.loadCandidates(ctx, logger, req.LoadId, budget)
		if err != nil {
			return err
		}
		if len(candidates.RunningLoads) < originallyRunning {
			return nil
		}
		if err := d.wait(ctx, logger, req.DriverWait); err != nil {
			return err
		}
	}
}

func (d *Driver) waitForAll(ctx context.Context, logger *log.Entry, req DriverRequest, budget int) error {
	for {
		if err := d.wait(ctx, logger, req.DriverWait); err != nil {
			return err
		}
		candidates, err := d.loadCandidates(ctx, logger, req.LoadId, budget)
		if err != nil {
			return err
		}
		if len(candidates.RunningLoads) == 0 {
			return nil
		}
	}
}

func (d *Driver) wait(ctx context.Context, logger *log.Entry, wait time.Duration) error {
	logger.Debug("Waiting for file loads to complete")
	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case <-d.clock.After(wait):
		return nil
	}
}
