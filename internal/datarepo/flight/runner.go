package flight

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/common/logging"
)

// ErrInterrupted is returned by Run when ctx is cancelled before the flight finishes. The flight keeps its
// checkpoint and can be resumed.
var ErrInterrupted = errors.New("flight interrupted")

// Checkpointer persists fc after every step so that a flight can resume where it stopped.
type Checkpointer func(ctx context.Context, fc *Context) error

// Run executes flight from the position recorded in fc. When a step fails, the steps up to and including it
// are undone in reverse order. The resulting status is Success, Error when every undo succeeded, or Fatal
// when an undo failed.
func Run(ctx context.Context, flight *Flight, fc *Context, checkpoint Checkpointer) (Status, error) {
	logger := log.WithField("flightId", fc.FlightId).WithField("class", fc.Class)

	if !fc.Undoing {
		for fc.StepIndex < len(flight.Steps) {
			spec := flight.Steps[fc.StepIndex]
			err := runWithRetry(ctx, logger, spec, func() error { return spec.Step.Do(ctx, fc) })
			if ctx.Err() != nil {
				return Running, ErrInterrupted
			}
			if err != nil {
				logging.WithStacktrace(logger, err).Warnf("Step %s failed, undoing", spec.Name)
				fc.Undoing = true
				fc.Failure = failureText(err)
				if err := checkpoint(ctx, fc); err != nil {
					return Running, err
				}
				break
			}
			fc.StepIndex++
			if err := checkpoint(ctx, fc); err != nil {
				return Running, err
			}
		}
		if !fc.Undoing {
			return Success, nil
		}
	}

	if fc.StepIndex >= len(flight.Steps) {
		fc.StepIndex = len(flight.Steps) - 1
	}
	for fc.StepIndex >= 0 {
		spec := flight.Steps[fc.StepIndex]
		err := runWithRetry(ctx, logger, spec, func() error { return spec.Step.Undo(ctx, fc) })
		if ctx.Err() != nil {
			return Running, ErrInterrupted
		}
		if err != nil {
			logging.WithStacktrace(logger, err).Errorf("Undo of step %s failed", spec.Name)
			return Fatal, errors.Wrapf(err, "undo of step %s failed after: %s", spec.Name, fc.Failure)
		}
		fc.StepIndex--
		if err := checkpoint(ctx, fc); err != nil {
			return Running, err
		}
	}
	return Error, errors.New(fc.Failure)
}

func runWithRetry(ctx context.Context, logger *log.Entry, spec StepSpec, action func() error) error {
	return spec.Retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return errors.WithStack(err)
			}
			return action()
		},
		func(err error) bool {
			return ctx.Err() == nil && datarepoerrors.IsRetryable(err)
		},
		func(attempt uint, err error) {
			logger.WithError(err).Infof("Retrying step %s, attempt %d", spec.Name, attempt+1)
		},
	)
}

// failureText is the message recorded for a failed flight, without the retryable marker.
func failureText(err error) string {
	var retryable *datarepoerrors.ErrRetryable
	if errors.As(err, &retryable) {
		return retryable.Err.Error()
	}
	return err.Error()
}
