// Package api provides the HTTP status API and WebSocket event stream for
// the ingestion service.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Endpoints
//
//	GET  /api/v1/health          dependency checks; 503 when any fails
//	GET  /api/v1/status          uptime, queue length, flush interval
//	GET  /api/v1/entities        registered entities with runtime state
//	GET  /api/v1/entities/{id}   one entity
//	GET  /api/v1/queue?limit=N   head of the failure queue
//	POST /api/v1/flush           schedule an immediate flush cycle
//	GET  /api/v1/ws              live write and flush events
//	GET  /metrics                Prometheus exposition
//
// # WebSocket
//
// Clients send {"type":"subscribe","payload":{"channels":["write","flush"]}}
// and then receive one "event" message per write or non-empty flush cycle.
// Adding "entities":["hm-rpc.0.ABC.1.TEMPERATURE"] narrows the write channel
// to those ids. Slow clients drop events rather than block the pipeline.
//
// The API has no authentication. Bind it to loopback or a trusted network.
package api
