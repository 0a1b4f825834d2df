package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/ingest"
)

const namespace = "iobinflux"

// QueueLength reports the number of undelivered records.
type QueueLength interface {
	Len() int
}

// FlushState reports the flush scheduler's current state.
type FlushState interface {
	Interval() time.Duration
	Flushing() bool
}

// Collector records pipeline metrics.
type Collector struct {
	writes        *prometheus.CounterVec
	writeDuration prometheus.Histogram
	flushes       *prometheus.CounterVec
	flushed       prometheus.Counter
	flushDuration prometheus.Histogram
}

// New creates a collector and registers it with reg.
//
// Parameters:
//   - reg: Registry to register with, usually prometheus.NewRegistry()
//   - queue: Source for the queue length gauge; may be nil
//   - flush: Source for the flush gauges; may be nil and added later
//     with TrackFlush
//
// Returns:
//   - *Collector: Collector ready to be used as an ingest.Observer
//   - error: If any metric is already registered
func New(reg prometheus.Registerer, queue QueueLength, flush FlushState) (*Collector, error) {
	c := &Collector{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Direct write attempts by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		writeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_duration_seconds",
			Help:      "Duration of direct write submissions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_cycles_total",
			Help:      "Non-empty flush cycles by result.",
		}, []string{"result"}),
		flushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_records_total",
			Help:      "Queued records delivered by flush cycles.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Duration of non-empty flush cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}

	collectors := []prometheus.Collector{c.writes, c.writeDuration, c.flushes, c.flushed, c.flushDuration}

	if queue != nil {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Undelivered records in the failure queue, including any batch in flight.",
		}, func() float64 { return float64(queue.Len()) }))
	}
	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("registering metric: %w", err)
		}
	}

	if flush != nil {
		if err := c.TrackFlush(reg, flush); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// TrackFlush registers the flush interval and in-progress gauges for a
// scheduler built after the collector.
func (c *Collector) TrackFlush(reg prometheus.Registerer, flush FlushState) error {
	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flush_interval_seconds",
			Help:      "Current delay between flush cycles, including backoff.",
		}, func() float64 { return flush.Interval().Seconds() }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flush_in_progress",
			Help:      "1 while a flush cycle is running.",
		}, func() float64 {
			if flush.Flushing() {
				return 1
			}
			return 0
		}),
	}
	for _, g := range gauges {
		if err := reg.Register(g); err != nil {
			return fmt.Errorf("registering flush gauge: %w", err)
		}
	}
	return nil
}

// OnWrite implements ingest.Observer.
func (c *Collector) OnWrite(e ingest.WriteEvent) {
	c.writes.WithLabelValues(string(e.Trigger), string(e.Outcome)).Inc()
	if e.Outcome == ingest.OutcomeWritten || e.Outcome == ingest.OutcomeQueued {
		c.writeDuration.Observe(e.Duration.Seconds())
	}
}

// OnFlush implements ingest.Observer.
func (c *Collector) OnFlush(r ingest.FlushResult) {
	c.flushes.WithLabelValues(flushResult(r)).Inc()
	c.flushed.Add(float64(r.Delivered))
	c.flushDuration.Observe(r.Duration.Seconds())
}

func flushResult(r ingest.FlushResult) string {
	switch {
	case r.Err == nil:
		return "success"
	case r.Delivered > 0:
		return "partial"
	default:
		return "failure"
	}
}

var _ ingest.Observer = (*Collector)(nil)
