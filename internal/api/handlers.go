package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/entity"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/logging"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/queue"
)

const (
	// healthCheckTimeout bounds each dependency check.
	healthCheckTimeout = 2 * time.Second

	defaultQueueLimit = 100
	maxQueueLimit     = 1000
)

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Version          string  `json:"version"`
	StartedAt        string  `json:"started_at"`
	UptimeSeconds    int64   `json:"uptime_seconds"`
	Entities         int     `json:"entities"`
	QueueLength      int     `json:"queue_length"`
	QueueInFlight    int     `json:"queue_in_flight"`
	FlushInterval    float64 `json:"flush_interval_seconds"`
	Flushing         bool    `json:"flushing"`
	WebSocketClients int     `json:"websocket_clients"`

	// Snapshots is omitted when no store is configured or counting fails.
	Snapshots *int `json:"snapshots,omitempty"`
}

// EntityResponse pairs an entity's definition with its runtime state.
type EntityResponse struct {
	entity.Entity
	State entity.RuntimeState `json:"state"`
}

// QueueResponse is returned by GET /api/v1/queue.
type QueueResponse struct {
	Length   int            `json:"length"`
	InFlight int            `json:"in_flight"`
	Records  []queue.Record `json:"records"`
}

// handleHealth checks every registered dependency concurrently.
// Any failure reports "degraded" with 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: s.version}

	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))

		var mu sync.Mutex
		var wg sync.WaitGroup
		for name, hc := range s.checks {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
				defer cancel()

				result := "ok"
				if err := hc.HealthCheck(ctx); err != nil {
					result = err.Error()
				}
				mu.Lock()
				resp.Checks[name] = result
				mu.Unlock()
			}()
		}
		wg.Wait()

		for _, result := range resp.Checks {
			if result != "ok" {
				resp.Status = "degraded"
				break
			}
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now()
	resp := StatusResponse{
		Version:          s.version,
		StartedAt:        s.started.UTC().Format(time.RFC3339),
		UptimeSeconds:    int64(now.Sub(s.started).Seconds()),
		Entities:         s.registry.Len(),
		QueueLength:      s.queue.Len(),
		QueueInFlight:    s.queue.InFlight(),
		FlushInterval:    s.flusher.Interval().Seconds(),
		Flushing:         s.flusher.Flushing(),
		WebSocketClients: s.hub.ClientCount(),
	}

	if s.snapshots != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		n, err := s.snapshots.Count(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("counting entity snapshots failed", "error", err)
		} else {
			resp.Snapshots = &n
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListEntities(w http.ResponseWriter, _ *http.Request) {
	views := s.states.Snapshot()
	byID := make(map[string]entity.RuntimeState, len(views))
	for _, v := range views {
		byID[v.EntityID] = v.RuntimeState
	}

	all := s.registry.All()
	out := make([]EntityResponse, 0, len(all))
	for _, e := range all {
		out = append(out, EntityResponse{Entity: e, State: byID[e.ID]})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entities": out,
		"count":    len(out),
	})
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	// ioBroker ids may contain '#' or '/', so clients send them escaped.
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, r, "malformed entity id")
		return
	}

	e, ok := s.registry.Get(id)
	if !ok {
		writeNotFound(w, r, "entity not found")
		return
	}
	view, _ := s.states.View(id)
	writeJSON(w, http.StatusOK, EntityResponse{Entity: e, State: view.RuntimeState})
}

// handleQueue lists the head of the failure queue.
// Query: limit (default 100, max 1000).
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	limit := defaultQueueLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, r, "limit must be a non-negative integer")
			return
		}
		limit = min(n, maxQueueLimit)
	}

	records := s.queue.Snapshot()
	resp := QueueResponse{
		Length:   len(records),
		InFlight: s.queue.InFlight(),
		Records:  records[:min(limit, len(records))],
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFlush requests an immediate flush cycle. The cycle runs on the
// scheduler's goroutine; the response does not wait for it.
func (s *Server) handleFlush(w http.ResponseWriter, _ *http.Request) {
	s.flusher.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "scheduled",
		"queue_length": s.queue.Len(),
	})
}

// promErrorLog routes promhttp errors to the service logger.
type promErrorLog struct {
	logger *logging.Logger
}

func (l promErrorLog) Println(v ...any) {
	l.logger.Error("metrics handler error", "error", fmt.Sprint(v...))
}
