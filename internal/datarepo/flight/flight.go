package flight

import (
	"context"

	"github.com/pkg/errors"

	"github.com/dinvlad/jade-data-repo/internal/common/datarepoerrors"
	"github.com/dinvlad/jade-data-repo/internal/common/util"
)

// Step is one unit of a flight. Do must be safe to run again after a crash or a retry, and Undo must
// tolerate running after a Do that failed part way.
type Step interface {
	Do(ctx context.Context, fc *Context) error
	Undo(ctx context.Context, fc *Context) error
}

type StepSpec struct {
	Name  string
	Step  Step
	Retry util.RetryPolicy
}

// Flight is an ordered list of steps run by an engine under the durable identity of a flight id.
type Flight struct {
	Class string
	Steps []StepSpec
}

func NewFlight(class string) *Flight {
	return &Flight{Class: class}
}

// AddStep appends a step whose retryable failures are retried under retry.
func (f *Flight) AddStep(name string, step Step, retry util.RetryPolicy) {
	f.Steps = append(f.Steps, StepSpec{Name: name, Step: step, Retry: retry})
}

// Context is the persisted progress of a running flight.
type Context struct {
	FlightId  string
	Class     string
	Inputs    *Map
	Working   *Map
	StepIndex int
	// Undoing is set once a step has failed and compensation is under way.
	Undoing bool
	Failure string
}

func NewContext(flightId string, class string, inputs *Map) *Context {
	if inputs == nil {
		inputs = NewMap()
	}
	return &Context{
		FlightId: flightId,
		Class:    class,
		Inputs:   inputs,
		Working:  NewMap(),
	}
}

// Factory builds the flight of a class from its inputs.
type Factory func(inputs *Map) (*Flight, error)

// Registry maps flight classes to their factories. It is populated at startup and read-only afterwards.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

func (r *Registry) Register(class string, factory Factory) {
	r.factories[class] = factory
}

func (r *Registry) Build(class string, inputs *Map) (*Flight, error) {
	factory, ok := r.factories[class]
	if !ok {
		return nil, errors.WithStack(&datarepoerrors.ErrNotFound{Type: "flight class", Value: class})
	}
	return factory(inputs)
}
