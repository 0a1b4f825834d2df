package ingest

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/entity"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/queue"
)

// Submitter delivers encoded line protocol records in one call.
// Both the InfluxDB and VictoriaMetrics clients implement it.
type Submitter interface {
	Submit(ctx context.Context, lines []string) error
}

// Lookup reads an entity's current state from the event source.
type Lookup interface {
	// CurrentValue returns the current state of an entity. found is false
	// when the source has no state for it.
	CurrentValue(ctx context.Context, entityID string) (change Change, found bool, err error)
}

// Logger defines the logging interface used by the pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Deps holds the collaborators shared by the pipeline components.
type Deps struct {
	Registry *entity.Registry
	States   *entity.States
	Sink     Submitter
	Queue    *queue.Queue

	// Optional. Defaults are the real clock, no logging and no observer.
	Clock    clockwork.Clock
	Logger   Logger
	Observer Observer
}

// withDefaults checks required fields and fills optional ones.
func (d Deps) withDefaults() (Deps, error) {
	switch {
	case d.Registry == nil:
		return d, fmt.Errorf("%w: registry", ErrMissingDependency)
	case d.States == nil:
		return d, fmt.Errorf("%w: states", ErrMissingDependency)
	case d.Sink == nil:
		return d, fmt.Errorf("%w: sink", ErrMissingDependency)
	case d.Queue == nil:
		return d, fmt.Errorf("%w: queue", ErrMissingDependency)
	}

	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Logger == nil {
		d.Logger = noopLogger{}
	}
	if d.Observer == nil {
		d.Observer = noopObserver{}
	}
	return d, nil
}
