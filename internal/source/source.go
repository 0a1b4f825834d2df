package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/mqtt"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/ingest"
)

const defaultLookupTimeout = 5 * time.Second

// Transport is the MQTT surface the source needs. *mqtt.Client implements it.
type Transport interface {
	Topics() mqtt.Topics
	QoS() byte
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// ChangeHandler receives decoded state changes.
type ChangeHandler func(ctx context.Context, c ingest.Change)

// Logger defines the logging interface used by the source.
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

// Source subscribes to state changes and answers point lookups.
type Source struct {
	transport Transport
	topics    mqtt.Topics
	store     SnapshotStore
	timeout   time.Duration
	logger    Logger

	mu      sync.Mutex
	pending map[string]chan lookupResponse
	ctx     context.Context
	handler ChangeHandler
	started bool
}

// New creates a source.
//
// Parameters:
//   - t: MQTT transport
//   - store: Snapshot fallback for lookups; may be nil
//   - lookupTimeout: How long CurrentValue waits for the relay (default 5s)
func New(t Transport, store SnapshotStore, lookupTimeout time.Duration) *Source {
	if lookupTimeout <= 0 {
		lookupTimeout = defaultLookupTimeout
	}
	return &Source{
		transport: t,
		topics:    t.Topics(),
		store:     store,
		timeout:   lookupTimeout,
		logger:    noopLogger{},
		pending:   make(map[string]chan lookupResponse),
	}
}

// SetLogger sets the logger. Call before Start.
func (s *Source) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start subscribes to state changes and lookup responses. handler runs
// on MQTT goroutines with ctx as its context.
func (s *Source) Start(ctx context.Context, handler ChangeHandler) error {
	s.mu.Lock()
	s.ctx = ctx
	s.handler = handler
	s.started = true
	s.mu.Unlock()

	qos := s.transport.QoS()
	if err := s.transport.Subscribe(s.topics.AllLookupResponses(), qos, s.handleResponse); err != nil {
		return fmt.Errorf("subscribing to lookup responses: %w", err)
	}
	if err := s.transport.Subscribe(s.topics.AllStates(), qos, s.handleState); err != nil {
		return fmt.Errorf("subscribing to states: %w", err)
	}

	s.logger.Info("event source started", "topic", s.topics.AllStates())
	return nil
}

// Stop unsubscribes from state changes so no new changes are delivered.
// Lookup responses stay subscribed until the transport closes.
func (s *Source) Stop() error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	if !started {
		return ErrNotStarted
	}
	return s.transport.Unsubscribe(s.topics.AllStates())
}

func (s *Source) handleState(topic string, payload []byte) error {
	id, ok := s.topics.EntityFromState(topic)
	if !ok {
		return nil
	}

	var st State
	if err := decode(payload, &st); err != nil {
		return fmt.Errorf("state for %s: %w", id, err)
	}

	s.mu.Lock()
	ctx, handler, started := s.ctx, s.handler, s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	s.saveSnapshot(ctx, id, st)
	handler(ctx, ingest.Change{EntityID: id, Value: st.Val, UpdateTime: st.TS})
	return nil
}

func (s *Source) handleResponse(_ string, payload []byte) error {
	var resp lookupResponse
	if err := decode(payload, &resp); err != nil {
		return fmt.Errorf("lookup response: %w", err)
	}

	s.mu.Lock()
	ch, ok := s.pending[resp.RequestID]
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("dropping unmatched lookup response", "request_id", resp.RequestID)
		return nil
	}

	select {
	case ch <- resp:
	default:
	}
	return nil
}

// CurrentValue asks the relay for an entity's current state, falling back
// to the stored snapshot when the relay does not answer in time.
func (s *Source) CurrentValue(ctx context.Context, entityID string) (ingest.Change, bool, error) {
	reqID := uuid.NewString()
	ch := make(chan lookupResponse, 1)

	s.mu.Lock()
	s.pending[reqID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, reqID)
		s.mu.Unlock()
	}()

	req, err := json.Marshal(lookupRequest{RequestID: reqID, EntityID: entityID})
	if err != nil {
		return ingest.Change{}, false, fmt.Errorf("encoding lookup request: %w", err)
	}

	if err := s.transport.Publish(s.topics.LookupRequest(), req, s.transport.QoS(), false); err != nil {
		s.logger.Warn("lookup request failed, using snapshot", "entity_id", entityID, "error", err)
		return s.fromSnapshot(ctx, entityID)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	select {
	case resp := <-ch:
		if !resp.Found || resp.State == nil {
			return ingest.Change{}, false, nil
		}
		s.saveSnapshot(ctx, entityID, *resp.State)
		return toChange(entityID, *resp.State), true, nil
	case <-waitCtx.Done():
		s.logger.Warn("lookup timed out, using snapshot", "entity_id", entityID, "timeout", s.timeout.String())
		return s.fromSnapshot(ctx, entityID)
	}
}

func (s *Source) fromSnapshot(ctx context.Context, entityID string) (ingest.Change, bool, error) {
	if s.store == nil {
		return ingest.Change{}, false, nil
	}
	st, found, err := s.store.Load(ctx, entityID)
	if err != nil || !found {
		return ingest.Change{}, false, err
	}
	return toChange(entityID, st), true, nil
}

func (s *Source) saveSnapshot(ctx context.Context, entityID string, st State) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, entityID, st); err != nil {
		s.logger.Warn("saving snapshot failed", "entity_id", entityID, "error", err)
	}
}

func toChange(entityID string, st State) ingest.Change {
	return ingest.Change{EntityID: entityID, Value: st.Val, UpdateTime: st.TS}
}

var _ ingest.Lookup = (*Source)(nil)
