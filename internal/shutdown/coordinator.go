package shutdown

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/ingest"
)

// Exit codes returned by Run.
const (
	ExitOK    = 0
	ExitFault = 1
)

const defaultDrainTimeout = 10 * time.Second

// ErrPanic wraps a panic recovered from a loop or reported via Fault.
var ErrPanic = errors.New("shutdown: panic")

// Drainer runs one final bounded flush. *ingest.Scheduler implements it.
type Drainer interface {
	Drain(ctx context.Context) (ingest.FlushResult, error)
}

// Logger defines the logging interface used by the Coordinator.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type task struct {
	name string
	run  func(ctx context.Context) error
}

type hook struct {
	name string
	fn   func() error
}

// Coordinator supervises the pipeline loops.
type Coordinator struct {
	drainer Drainer
	timeout time.Duration
	logger  Logger

	mu    sync.Mutex
	tasks []task
	hooks []hook

	faults chan error
}

// New creates a coordinator that drains through d with the given bound.
func New(d Drainer, drainTimeout time.Duration) *Coordinator {
	if drainTimeout <= 0 {
		drainTimeout = defaultDrainTimeout
	}
	return &Coordinator{
		drainer: d,
		timeout: drainTimeout,
		logger:  noopLogger{},
		faults:  make(chan error, 1),
	}
}

// SetLogger sets the logger. Call before Run.
func (c *Coordinator) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Go registers a loop. run must return when its context is cancelled;
// returning nil earlier is allowed. A non-nil error is a fault.
func (c *Coordinator) Go(name string, run func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, task{name: name, run: run})
}

// OnStop registers a hook run after the loops stop and before the drain,
// in registration order. Hook errors are logged.
func (c *Coordinator) OnStop(name string, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook{name: name, fn: fn})
}

// Fault reports an unrecoverable error from outside the loops. Only the
// first report is kept.
func (c *Coordinator) Fault(err error) {
	if err == nil {
		return
	}
	select {
	case c.faults <- err:
	default:
	}
}

// Panic reports a panic recovered elsewhere, such as in an MQTT handler.
func (c *Coordinator) Panic(where string, recovered any) {
	c.Fault(fmt.Errorf("%w in %s: %v", ErrPanic, where, recovered))
}

// Run starts the loops and blocks until ctx is cancelled or a fault
// occurs. It always drains once before returning.
//
// Returns:
//   - int: ExitOK after cancellation, ExitFault after a fault
func (c *Coordinator) Run(ctx context.Context) int {
	c.mu.Lock()
	tasks := append([]task(nil), c.tasks...)
	hooks := append([]hook(nil), c.hooks...)
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error { return c.guard(gctx, t) })
	}
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-c.faults:
			return err
		}
	})

	err := g.Wait()
	code := ExitOK
	if err != nil {
		code = ExitFault
		c.logger.Error("fatal fault, shutting down", "error", err)
	} else {
		c.logger.Info("shutdown requested")
	}

	for _, h := range hooks {
		if herr := h.fn(); herr != nil {
			c.logger.Warn("stop hook failed", "hook", h.name, "error", herr)
		}
	}

	c.drain()
	return code
}

// guard runs one loop, converting a panic into an error.
func (c *Coordinator) guard(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("loop panic recovered", "loop", t.name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w in %s: %v", ErrPanic, t.name, r)
		}
	}()

	if err := t.run(ctx); err != nil {
		return fmt.Errorf("%s: %w", t.name, err)
	}
	return nil
}

func (c *Coordinator) drain() {
	if c.drainer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	res, err := c.drainer.Drain(ctx)
	if err != nil {
		c.logger.Warn("final drain incomplete, records stay queued",
			"delivered", res.Delivered,
			"remaining", res.Remaining,
			"error", err,
		)
		return
	}
	c.logger.Info("final drain complete", "delivered", res.Delivered, "remaining", res.Remaining)
}
