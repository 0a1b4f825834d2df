package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/entity"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/queue"
)

var errSinkDown = errors.New("sink unavailable")

// testStart is the fake clock's initial time.
var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock is the subset of the clockwork fake clock used by the tests.
type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, n int) error
}

// fakeSink records submissions and fails on demand.
type fakeSink struct {
	mu       sync.Mutex
	calls    [][]string
	failing  bool
	failNext int // fail this many calls, then succeed

	inflight    int
	maxInflight int
	delay       time.Duration
}

func (f *fakeSink) Submit(_ context.Context, lines []string) error {
	f.mu.Lock()
	f.inflight++
	f.maxInflight = max(f.maxInflight, f.inflight)
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--
	f.calls = append(f.calls, append([]string(nil), lines...))

	if f.failing {
		return errSinkDown
	}
	if f.failNext > 0 {
		f.failNext--
		return errSinkDown
	}
	return nil
}

func (f *fakeSink) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSink) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c...)
	}
	return out
}

func (f *fakeSink) lastLine() string {
	l := f.lines()
	if len(l) == 0 {
		return ""
	}
	return l[len(l)-1]
}

// fakeLookup serves current values from a map.
type fakeLookup struct {
	mu     sync.Mutex
	values map[string]any
	err    error
	calls  int
}

func (f *fakeLookup) CurrentValue(_ context.Context, id string) (Change, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Change{}, false, f.err
	}
	v, ok := f.values[id]
	if !ok {
		return Change{}, false, nil
	}
	return Change{EntityID: id, Value: v}, true, nil
}

// recordingObserver captures events.
type recordingObserver struct {
	mu      sync.Mutex
	writes  []WriteEvent
	results []FlushResult
}

func (r *recordingObserver) OnWrite(e WriteEvent) {
	r.mu.Lock()
	r.writes = append(r.writes, e)
	r.mu.Unlock()
}

func (r *recordingObserver) OnFlush(res FlushResult) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

func (r *recordingObserver) flushes() []FlushResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FlushResult(nil), r.results...)
}

type fixture struct {
	reg      *entity.Registry
	states   *entity.States
	sink     *fakeSink
	queue    *queue.Queue
	clock    fakeClock
	observer *recordingObserver
	deps     Deps
}

func floatPtr(v float64) *float64 { return &v }

func newFixture(t *testing.T, entities ...entity.Entity) *fixture {
	t.Helper()

	if len(entities) == 0 {
		entities = []entity.Entity{
			{ID: "sensor.temp", Measurement: "temperature", Tags: map[string]string{"room": "living"}},
		}
	}
	reg, err := entity.NewRegistry(entities)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.json"), nil)
	if err != nil {
		t.Fatalf("queue.Open() error = %v", err)
	}

	clock := clockwork.NewFakeClockAt(testStart)
	f := &fixture{
		reg:      reg,
		states:   entity.NewStates(reg, clock.Now()),
		sink:     &fakeSink{},
		queue:    q,
		clock:    clock,
		observer: &recordingObserver{},
	}
	f.deps = Deps{
		Registry: f.reg,
		States:   f.states,
		Sink:     f.sink,
		Queue:    f.queue,
		Clock:    f.clock,
		Observer: f.observer,
	}
	return f
}

func (f *fixture) writer(t *testing.T) *Writer {
	t.Helper()
	w, err := NewWriter(f.deps)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}
	return w
}

// enqueue adds records for the first entity with values 1..n and returns their IDs.
func (f *fixture) enqueue(t *testing.T, n int) []string {
	t.Helper()
	e := f.reg.All()[0]
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		r := queue.NewRecord(e, float64(i), entity.TriggerChange, int64(i)*int64(time.Second))
		if err := f.queue.Enqueue(r); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		ids = append(ids, r.ID)
	}
	return ids
}

func queuedIDs(q *queue.Queue) []string {
	var ids []string
	for _, r := range q.Snapshot() {
		ids = append(ids, r.ID)
	}
	return ids
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func hasTrigger(line string, trigger entity.Trigger) bool {
	return strings.Contains(line, ",trigger="+string(trigger)+" ")
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func writeFile(path string) error { return os.WriteFile(path, []byte("x"), 0600) }
