package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/entity"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/config"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/logging"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/ingest"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/queue"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeFlusher struct {
	triggers atomic.Int32
}

func (f *fakeFlusher) Trigger()                { f.triggers.Add(1) }
func (f *fakeFlusher) Interval() time.Duration { return 2 * time.Minute }
func (f *fakeFlusher) Flushing() bool          { return false }

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type testEnv struct {
	srv     *Server
	router  http.Handler
	clock   *clockwork.FakeClock
	states  *entity.States
	queue   *queue.Queue
	flusher *fakeFlusher
	reg     *prometheus.Registry
}

// testServer creates a Server over two registered entities and an empty
// queue in a temp dir.
func testServer(t *testing.T, checks map[string]HealthChecker) *testEnv {
	t.Helper()

	minDelta := 0.5
	registry, err := entity.NewRegistry([]entity.Entity{
		{ID: "hm-rpc.0.temp", Measurement: "temperature", Tags: map[string]string{"room": "kitchen"}, MinDelta: &minDelta},
		{ID: "hm-rpc.0.hum", Measurement: "humidity"},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}

	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.json"), nil)
	if err != nil {
		t.Fatalf("queue.Open() error: %v", err)
	}

	clock := clockwork.NewFakeClockAt(testStart)
	states := entity.NewStates(registry, testStart)
	flusher := &fakeFlusher{}
	reg := prometheus.NewRegistry()

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
			WebSocket: config.WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logger:   logging.Discard(),
		Registry: registry,
		States:   states,
		Queue:    q,
		Flusher:  flusher,
		Checks:   checks,
		Gatherer: reg,
		Clock:    clock,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return &testEnv{
		srv:     srv,
		router:  srv.buildRouter(),
		clock:   clock,
		states:  states,
		queue:   q,
		flusher: flusher,
		reg:     reg,
	}
}

func (e *testEnv) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func TestNew_MissingDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no deps should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without registry should fail")
	}
}

// ─── Health ────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/health")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decodeBody[HealthResponse](t, w)
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("health = %+v, want ok/test", resp)
	}
}

func TestHealth_Degraded(t *testing.T) {
	env := testServer(t, map[string]HealthChecker{
		"mqtt": checkFunc(func(context.Context) error { return nil }),
		"sink": checkFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	w := env.do(t, http.MethodGet, "/api/v1/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	resp := decodeBody[HealthResponse](t, w)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Checks["mqtt"] != "ok" {
		t.Errorf("checks[mqtt] = %q, want ok", resp.Checks["mqtt"])
	}
	if resp.Checks["sink"] != "connection refused" {
		t.Errorf("checks[sink] = %q, want the error text", resp.Checks["sink"])
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/health")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestRequestID_RejectsUnsafe(t *testing.T) {
	env := testServer(t, nil)

	for _, id := range []string{"has space", strings.Repeat("x", maxRequestIDLen+1), "tab\there"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.Header.Set("X-Request-ID", id)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)

		got := w.Header().Get("X-Request-ID")
		if got == id || got == "" {
			t.Errorf("X-Request-ID for %q = %q, want a generated id", id, got)
		}
	}
}

func TestRecovery(t *testing.T) {
	env := testServer(t, nil)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if resp := decodeBody[Error](t, w); resp.Code != ErrCodeInternal {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeInternal)
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/nonexistent")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
	resp := decodeBody[Error](t, w)
	if resp.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeNotFound)
	}
	if resp.RequestID == "" || resp.RequestID != w.Header().Get("X-Request-ID") {
		t.Errorf("request_id = %q, header = %q", resp.RequestID, w.Header().Get("X-Request-ID"))
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := testServer(t, nil)

	w := env.do(t, http.MethodDelete, "/api/v1/status")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
	if resp := decodeBody[Error](t, w); resp.Code != ErrCodeMethodNotAllowed {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeMethodNotAllowed)
	}
}

// ─── Status and entities ───────────────────────────────────────────

func TestStatus(t *testing.T) {
	env := testServer(t, nil)
	rec := queue.NewRecord(entity.Entity{ID: "x", Measurement: "m"}, 1, entity.TriggerChange, 1)
	if err := env.queue.Enqueue(rec); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	env.clock.Advance(90 * time.Second)

	w := env.do(t, http.MethodGet, "/api/v1/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", w.Code)
	}

	resp := decodeBody[StatusResponse](t, w)
	if resp.UptimeSeconds != 90 {
		t.Errorf("uptime = %d, want 90", resp.UptimeSeconds)
	}
	if resp.Entities != 2 {
		t.Errorf("entities = %d, want 2", resp.Entities)
	}
	if resp.QueueLength != 1 {
		t.Errorf("queue_length = %d, want 1", resp.QueueLength)
	}
	if resp.FlushInterval != 120 {
		t.Errorf("flush_interval_seconds = %v, want 120", resp.FlushInterval)
	}
	if resp.StartedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("started_at = %q", resp.StartedAt)
	}
	if resp.Snapshots != nil {
		t.Errorf("snapshots = %d, want omitted without a store", *resp.Snapshots)
	}
}

type snapshotCountFunc func(ctx context.Context) (int, error)

func (f snapshotCountFunc) Count(ctx context.Context) (int, error) { return f(ctx) }

func TestStatus_Snapshots(t *testing.T) {
	tests := []struct {
		name    string
		counter snapshotCountFunc
		want    *int
	}{
		{"counted", func(context.Context) (int, error) { return 7, nil }, intPtr(7)},
		{"store error", func(context.Context) (int, error) { return 0, errors.New("disk I/O error") }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t, nil)
			env.srv.snapshots = tt.counter

			w := env.do(t, http.MethodGet, "/api/v1/status")
			if w.Code != http.StatusOK {
				t.Fatalf("status code = %d, want 200", w.Code)
			}
			got := decodeBody[StatusResponse](t, w).Snapshots
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("snapshots = %d, want omitted", *got)
			case tt.want != nil && (got == nil || *got != *tt.want):
				t.Errorf("snapshots = %v, want %d", got, *tt.want)
			}
		})
	}
}

func intPtr(n int) *int { return &n }

type entityList struct {
	Entities []EntityResponse `json:"entities"`
	Count    int              `json:"count"`
}

func TestListEntities(t *testing.T) {
	env := testServer(t, nil)
	env.states.Observe("hm-rpc.0.temp", 21.5)
	env.states.RecordWrite("hm-rpc.0.temp", 21.5, testStart.UnixNano(), testStart)

	w := env.do(t, http.MethodGet, "/api/v1/entities")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	resp := decodeBody[entityList](t, w)

	if resp.Count != 2 || len(resp.Entities) != 2 {
		t.Fatalf("count = %d, len = %d; want 2", resp.Count, len(resp.Entities))
	}

	temp := resp.Entities[0]
	if temp.ID != "hm-rpc.0.temp" || temp.Measurement != "temperature" || temp.Tags["room"] != "kitchen" {
		t.Errorf("entities[0] = %+v", temp.Entity)
	}
	if temp.MinDelta == nil || *temp.MinDelta != 0.5 {
		t.Errorf("min_delta = %v, want 0.5", temp.MinDelta)
	}
	if temp.State.LastWrittenValue == nil || *temp.State.LastWrittenValue != 21.5 {
		t.Errorf("last_written_value = %v, want 21.5", temp.State.LastWrittenValue)
	}
	if !temp.State.LastWriteTime.Equal(testStart) {
		t.Errorf("last_write_time = %v, want %v", temp.State.LastWriteTime, testStart)
	}

	if hum := resp.Entities[1]; hum.State.LastObservedValue != nil {
		t.Errorf("humidity observed = %v, want none", *hum.State.LastObservedValue)
	}
}

func TestGetEntity(t *testing.T) {
	env := testServer(t, nil)
	env.states.Observe("hm-rpc.0.hum", 55)

	w := env.do(t, http.MethodGet, "/api/v1/entities/hm-rpc.0.hum")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeBody[EntityResponse](t, w)
	if resp.ID != "hm-rpc.0.hum" || resp.State.LastObservedValue == nil || *resp.State.LastObservedValue != 55 {
		t.Errorf("entity = %+v", resp)
	}
}

func TestGetEntity_EscapedID(t *testing.T) {
	env := testServer(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/entities/hm-rpc.0%2Ehum")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp := decodeBody[EntityResponse](t, w); resp.ID != "hm-rpc.0.hum" {
		t.Errorf("id = %q, want hm-rpc.0.hum", resp.ID)
	}
}

func TestGetEntity_NotFound(t *testing.T) {
	env := testServer(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/entities/unknown.0.x")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if resp := decodeBody[Error](t, w); resp.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeNotFound)
	}
}

// ─── Queue and flush ───────────────────────────────────────────────

func TestQueue_Limit(t *testing.T) {
	env := testServer(t, nil)
	e := entity.Entity{ID: "x", Measurement: "m"}
	for i := range 5 {
		if err := env.queue.Enqueue(queue.NewRecord(e, float64(i), entity.TriggerChange, int64(i+1))); err != nil {
			t.Fatalf("Enqueue() error: %v", err)
		}
	}

	w := env.do(t, http.MethodGet, "/api/v1/queue?limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeBody[QueueResponse](t, w)
	if resp.Length != 5 {
		t.Errorf("length = %d, want 5", resp.Length)
	}
	if len(resp.Records) != 2 || resp.Records[0].Value != 0 || resp.Records[1].Value != 1 {
		t.Errorf("records = %+v, want the first two in order", resp.Records)
	}
}

func TestQueue_InvalidLimit(t *testing.T) {
	env := testServer(t, nil)

	for _, limit := range []string{"abc", "-1"} {
		w := env.do(t, http.MethodGet, "/api/v1/queue?limit="+limit)
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", limit, w.Code)
		}
	}
}

func TestQueue_Empty(t *testing.T) {
	env := testServer(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/queue")
	if !strings.Contains(w.Body.String(), `"records":[]`) {
		t.Errorf("body = %s, want an empty records array", w.Body.String())
	}
}

func TestFlush(t *testing.T) {
	env := testServer(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/flush")
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
	if n := env.flusher.triggers.Load(); n != 1 {
		t.Errorf("triggers = %d, want 1", n)
	}

	if w := env.do(t, http.MethodGet, "/api/v1/flush"); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /flush status = %d, want 405", w.Code)
	}
}

// ─── Metrics ───────────────────────────────────────────────────────

func TestMetricsEndpoint(t *testing.T) {
	env := testServer(t, nil)
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "requests_seen_total", Help: "requests seen"})
	env.reg.MustRegister(c)
	c.Inc()

	w := env.do(t, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "requests_seen_total 1") {
		t.Errorf("body does not contain requests_seen_total:\n%s", w.Body.String())
	}
}

// ─── Hub ───────────────────────────────────────────────────────────

func newTestHub() *Hub {
	return NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, logging.Discard())
}

func TestHub_OnWriteBroadcastsToSubscribed(t *testing.T) {
	hub := newTestHub()

	client := &WSClient{
		hub:  hub,
		send: make(chan []byte, wsSendBufferSize),
		sub:  newSubscription(ChannelWrite),
	}
	hub.Register(client)

	hub.OnWrite(ingest.WriteEvent{EntityID: "hm-rpc.0.temp", Trigger: entity.TriggerChange, Outcome: ingest.OutcomeWritten, Value: 21.5})

	select {
	case msg := <-client.send:
		var wsMsg struct {
			WSMessage
			Payload ingest.WriteEvent `json:"payload"`
		}
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != ChannelWrite {
			t.Errorf("message = %+v, want write event", wsMsg.WSMessage)
		}
		if wsMsg.Payload.EntityID != "hm-rpc.0.temp" || wsMsg.Payload.Outcome != ingest.OutcomeWritten {
			t.Errorf("payload = %+v", wsMsg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := newTestHub()

	client := &WSClient{
		hub:  hub,
		send: make(chan []byte, wsSendBufferSize),
		sub:  newSubscription(ChannelWrite),
	}
	hub.Register(client)

	hub.OnFlush(ingest.FlushResult{Delivered: 3})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	default:
	}
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	hub := newTestHub()

	client := &WSClient{
		hub:  hub,
		send: make(chan []byte, 1),
		sub:  newSubscription(ChannelFlush),
	}
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		for range 10 {
			hub.OnFlush(ingest.FlushResult{Delivered: 1})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
	if len(client.send) != 1 {
		t.Errorf("buffered = %d, want 1", len(client.send))
	}
	if got := client.dropped.Load(); got != 9 {
		t.Errorf("dropped = %d, want 9", got)
	}
}

func TestHub_EntityFilter(t *testing.T) {
	hub := newTestHub()

	sub := newSubscription(ChannelWrite, ChannelFlush)
	sub.entities["hm-rpc.0.hum"] = struct{}{}
	client := &WSClient{
		hub:  hub,
		send: make(chan []byte, wsSendBufferSize),
		sub:  sub,
	}
	hub.Register(client)

	hub.OnWrite(ingest.WriteEvent{EntityID: "hm-rpc.0.temp", Outcome: ingest.OutcomeWritten})
	hub.OnWrite(ingest.WriteEvent{EntityID: "hm-rpc.0.hum", Outcome: ingest.OutcomeQueued})
	hub.OnFlush(ingest.FlushResult{Delivered: 2})

	if got := len(client.send); got != 2 {
		t.Fatalf("buffered = %d, want 2 (filtered write + flush)", got)
	}
	var first struct {
		Payload ingest.WriteEvent `json:"payload"`
	}
	if err := json.Unmarshal(<-client.send, &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Payload.EntityID != "hm-rpc.0.hum" {
		t.Errorf("entity = %q, want hm-rpc.0.hum", first.Payload.EntityID)
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := newTestHub()

	client := &WSClient{
		hub:  hub,
		send: make(chan []byte, wsSendBufferSize),
		sub:  newSubscription(),
	}
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}

	// A second unregister must not close the channel twice.
	hub.Unregister(client)
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	env := testServer(t, nil)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	addr := env.srv.Addr()

	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start error: %v", err)
	}
	if err := env.srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestWebSocket_SubscribeAndReceive(t *testing.T) {
	env := testServer(t, nil)
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer env.srv.Close()

	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+env.srv.Addr()+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelFlush}},
	}); err != nil {
		t.Fatalf("write subscribe message: %v", err)
	}

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack WSMessage
	if err := ws.ReadJSON(&ack); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "sub-1" {
		t.Fatalf("response = %+v, want response to sub-1", ack)
	}

	env.srv.Hub().OnFlush(ingest.FlushResult{Delivered: 4, Remaining: 1})

	var event struct {
		WSMessage
		Payload ingest.FlushResult `json:"payload"`
	}
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.EventType != ChannelFlush || event.Payload.Delivered != 4 || event.Payload.Remaining != 1 {
		t.Errorf("event = %+v", event)
	}
}

func TestWebSocket_UnknownChannel(t *testing.T) {
	env := testServer(t, nil)
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer env.srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+env.srv.Addr()+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-2",
		Payload: WSSubscribePayload{Channels: []string{"device.state_changed"}},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}

	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != WSTypeError || msg.ID != "sub-2" {
		t.Errorf("message = %+v, want error for sub-2", msg)
	}
}
