package flight

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// ErrFlightNotFound is returned by GetFlightState for ids the engine has never accepted.
var ErrFlightNotFound = errors.New("flight not found")

// State is what an engine reports about a flight.
type State struct {
	FlightId  string
	Class     string
	Status    Status
	Inputs    *Map
	Result    *Map
	Error     string
	Submitted time.Time
	Completed time.Time
}

// Engine runs flights durably on some worker of the fleet.
type Engine interface {
	CreateFlightId() string
	// SubmitToQueue accepts a flight for execution. Resubmitting an accepted id fails with ErrAlreadyExists.
	SubmitToQueue(ctx context.Context, flightId string, class string, inputs *Map) error
	GetFlightState(ctx context.Context, flightId string) (*State, error)
}

// WaitForFlight polls the engine every interval until the flight reaches a terminal status.
func WaitForFlight(ctx context.Context, engine Engine, clock clock.Clock, flightId string, interval time.Duration) (*State, error) {
	for {
		state, err := engine.GetFlightState(ctx, flightId)
		if err != nil {
			return nil, err
		}
		if state.Status.IsTerminal() {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		case <-clock.After(interval):
		}
	}
}
