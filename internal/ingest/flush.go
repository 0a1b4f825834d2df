package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/queue"
)

// FlushConfig controls the flush schedule.
type FlushConfig struct {
	// Interval is the base delay between cycles.
	Interval time.Duration
	// MaxInterval caps the doubled delay after consecutive failures.
	MaxInterval time.Duration
	// BatchSize is the maximum number of records per submission.
	BatchSize int
}

// Scheduler periodically moves failure queue contents to the sink.
//
// A cycle takes batches from the head of the queue and submits each one
// in a single call. A successful batch resets the interval to its base
// and the cycle continues. A failed batch goes back to the front of the
// queue, the interval doubles up to MaxInterval and the cycle ends. The
// queue is persisted after every non-empty cycle.
type Scheduler struct {
	deps Deps
	cfg  FlushConfig

	// slot holds a token while a cycle runs.
	slot chan struct{}

	// trigger requests an immediate cycle from Run.
	trigger chan struct{}

	mu       sync.Mutex
	interval time.Duration
}

// NewScheduler creates a flush scheduler.
//
// Parameters:
//   - deps: Registry, States, Sink and Queue are required
//   - cfg: Positive Interval and BatchSize; MaxInterval below Interval
//     is raised to Interval
//
// Returns:
//   - *Scheduler: Idle scheduler, started with Run
//   - error: ErrMissingDependency or ErrInvalidConfig
func NewScheduler(deps Deps, cfg FlushConfig) (*Scheduler, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 || cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: interval %v, batch size %d", ErrInvalidConfig, cfg.Interval, cfg.BatchSize)
	}
	if cfg.MaxInterval < cfg.Interval {
		cfg.MaxInterval = cfg.Interval
	}

	return &Scheduler{
		deps:     deps,
		cfg:      cfg,
		slot:     make(chan struct{}, 1),
		trigger:  make(chan struct{}, 1),
		interval: cfg.Interval,
	}, nil
}

// Run schedules cycles until ctx is cancelled. It returns nil on
// cancellation; the final drain is the caller's job.
func (s *Scheduler) Run(ctx context.Context) error {
	s.deps.Logger.Info("flush scheduler started",
		"interval", s.cfg.Interval.String(),
		"max_interval", s.cfg.MaxInterval.String(),
		"batch_size", s.cfg.BatchSize,
	)

	for {
		timer := s.deps.Clock.NewTimer(s.Interval())

		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.Chan():
		case <-s.trigger:
			timer.Stop()
		}

		if _, ran := s.Cycle(ctx); !ran {
			s.deps.Logger.Debug("flush cycle already running, skipping")
		}
	}
}

// Trigger requests an immediate cycle from Run. Requests made while one
// is already pending are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Cycle runs one flush cycle if none is in progress.
//
// Returns:
//   - FlushResult: Outcome of the cycle
//   - bool: false if another cycle held the slot and nothing ran
func (s *Scheduler) Cycle(ctx context.Context) (FlushResult, bool) {
	select {
	case s.slot <- struct{}{}:
	default:
		return FlushResult{}, false
	}
	defer func() { <-s.slot }()

	return s.cycle(ctx, false), true
}

// Drain waits for any running cycle to finish and then runs exactly one
// cycle. Both the wait and the submissions are bounded by ctx.
//
// Returns:
//   - FlushResult: Outcome of the drain cycle
//   - error: ctx.Err() if the slot did not free up in time
func (s *Scheduler) Drain(ctx context.Context) (FlushResult, error) {
	select {
	case s.slot <- struct{}{}:
	case <-ctx.Done():
		return FlushResult{Remaining: s.deps.Queue.Len()}, ctx.Err()
	}
	defer func() { <-s.slot }()

	res := s.cycle(ctx, true)
	return res, res.Err
}

// Interval returns the delay before the next periodic cycle.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Flushing reports whether a cycle is running.
func (s *Scheduler) Flushing() bool {
	return len(s.slot) > 0
}

func (s *Scheduler) resetInterval() {
	s.mu.Lock()
	s.interval = s.cfg.Interval
	s.mu.Unlock()
}

func (s *Scheduler) backoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = min(s.interval*2, s.cfg.MaxInterval)
	return s.interval
}

// cycle runs with the slot held.
func (s *Scheduler) cycle(ctx context.Context, drain bool) FlushResult {
	start := s.deps.Clock.Now()
	res := FlushResult{Drain: drain}

	if s.deps.Queue.Len() == 0 {
		s.resetInterval()
		res.Interval = s.Interval()
		return res
	}

	for {
		batch := s.deps.Queue.TakeBatch(s.cfg.BatchSize)
		if len(batch) == 0 {
			break
		}

		if err := s.deps.Sink.Submit(ctx, queue.EncodeAll(batch)); err != nil {
			s.deps.Queue.ReturnToFront(batch)
			next := s.backoff()
			res.Err = err
			res.Error = err.Error()
			s.deps.Logger.Warn("flush batch failed",
				"records", len(batch),
				"next_interval", next.String(),
				"error", err,
			)
			break
		}

		s.deps.Queue.Commit(batch)
		at := s.deps.Clock.Now()
		for _, r := range batch {
			s.deps.States.RecordWrite(r.EntityID, r.Value, r.TimestampNanos, at)
		}
		res.Delivered += len(batch)
		s.resetInterval()
	}

	if err := s.deps.Queue.Persist(); err != nil {
		s.deps.Logger.Error("persisting failure queue", "error", err)
	}

	res.Remaining = s.deps.Queue.Len()
	res.Interval = s.Interval()
	res.Duration = s.deps.Clock.Since(start)
	res.At = s.deps.Clock.Now()

	if res.Delivered > 0 {
		s.deps.Logger.Info("flushed queued records",
			"delivered", res.Delivered,
			"remaining", res.Remaining,
		)
	}
	s.deps.Observer.OnFlush(res)
	return res
}
