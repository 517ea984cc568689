package flight

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/common/logging"
	"github.com/dinvlad/jade-data-repo/internal/common/util"
)

type memoryFlight struct {
	state   State
	context *Context
}

// MemoryEngine runs flights on a pool of goroutines inside this process. Flights do not survive a restart.
type MemoryEngine struct {
	registry *Registry
	workers  int
	clock    clock.PassiveClock
	queue    chan string

	mu      sync.Mutex
	flights map[string]*memoryFlight
}

func NewMemoryEngine(registry *Registry, workers int, queueSize int, clock clock.PassiveClock) *MemoryEngine {
	return &MemoryEngine{
		registry: registry,
		workers:  workers,
		clock:    clock,
		queue:    make(chan string, queueSize),
		flights:  map[string]*memoryFlight{},
	}
}

func (e *MemoryEngine) CreateFlightId() string {
	return util.NewULID()
}

func (e *MemoryEngine) SubmitToQueue(ctx context.Context, flightId string, class string, inputs *Map) error {
	e.mu.Lock()
	if _, exists := e.flights[flightId]; exists {
		e.mu.Unlock()
		return errors.WithStack(&datarepoerrors.ErrAlreadyExists{Type: "flight", Value: flightId})
	}
	e.flights[flightId] = &memoryFlight{
		state: State{
			FlightId:  flightId,
			Class:     class,
			Status:    Queued,
			Inputs:    inputs.Copy(),
			Submitted: e.clock.Now(),
		},
		context: NewContext(flightId, class, inputs.Copy()),
	}
	e.mu.Unlock()

	select {
	case e.queue <- flightId:
		return nil
	case <-ctx.Done():
		e.mu.Lock()
		delete(e.flights, flightId)
		e.mu.Unlock()
		return errors.WithStack(ctx.Err())
	}
}

func (e *MemoryEngine) GetFlightState(_ context.Context, flightId string) (*State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	flight, ok := e.flights[flightId]
	if !ok {
		return nil, errors.WithStack(ErrFlightNotFound)
	}
	state := flight.state
	state.Inputs = flight.state.Inputs.Copy()
	state.Result = flight.state.Result.Copy()
	return &state, nil
}

// Run processes queued flights until ctx is cancelled.
func (e *MemoryEngine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < e.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case flightId := <-e.queue:
					e.execute(ctx, flightId)
				}
			}
		})
	}
	return g.Wait()
}

func (e *MemoryEngine) setStatus(flightId string, update func(state *State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	update(&e.flights[flightId].state)
}

func (e *MemoryEngine) execute(ctx context.Context, flightId string) {
	e.mu.Lock()
	stored := e.flights[flightId]
	class := stored.state.Class
	fc := stored.context
	e.mu.Unlock()

	logger := log.WithField("flightId", flightId).WithField("class", class)
	e.setStatus(flightId, func(state *State) { state.Status = Running })

	status, err := e.run(ctx, class, fc)
	if errors.Is(err, ErrInterrupted) {
		logger.Info("Flight interrupted by shutdown")
		e.setStatus(flightId, func(state *State) { state.Status = Ready })
		return
	}
	if err != nil {
		logging.WithStacktrace(logger, err).Warnf("Flight finished with status %s", status)
	}
	e.setStatus(flightId, func(state *State) {
		state.Status = status
		state.Completed = e.clock.Now()
		if status == Success {
			state.Result = fc.Working.Copy()
		}
		if err != nil {
			state.Error = err.Error()
		}
	})
}

func (e *MemoryEngine) run(ctx context.Context, class string, fc *Context) (Status, error) {
	flight, err := e.registry.Build(class, fc.Inputs)
	if err != nil {
		return Fatal, err
	}
	return Run(ctx, flight, fc, func(context.Context, *Context) error { return nil })
}
