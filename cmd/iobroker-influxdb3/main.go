// iobroker-influxdb3 forwards ioBroker state changes to InfluxDB 3 or
// VictoriaMetrics.
//
// State changes arrive over MQTT from an ioBroker relay. Each value is
// written immediately; failed writes go to a durable queue that is retried
// with backoff and drained once more on shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/LukasTr1980/iobroker-influxdb3/migrations"

	"github.com/LukasTr1980/iobroker-influxdb3/internal/api"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/entity"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/config"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/database"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/influxdb"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/logging"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/mqtt"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/infrastructure/tsdb"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/ingest"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/metrics"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/queue"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/shutdown"
	"github.com/LukasTr1980/iobroker-influxdb3/internal/source"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	cancel()
	os.Exit(code)
}

// sink is a write backend. Both influxdb.Client and tsdb.Client implement it.
type sink interface {
	ingest.Submitter
	HealthCheck(ctx context.Context) error
	Close() error
}

// run wires the pipeline and blocks until shutdown.
//
// Returns:
//   - int: shutdown.ExitOK after a signal, shutdown.ExitFault on a fault
//     or a setup error
func run(ctx context.Context, args []string) int { //nolint:gocognit,funlen // linear wiring of every component
	log := logging.Default()

	configPath, err := parseFlags(args)
	if err != nil {
		log.Error("invalid arguments", "error", err)
		return shutdown.ExitFault
	}

	log.Info("starting iobroker-influxdb3",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("loading config failed", "path", configPath, "error", err)
		return shutdown.ExitFault
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"backend", cfg.Sink.Backend,
		"entities", len(cfg.Entities),
	)

	clock := clockwork.NewRealClock()

	// Snapshot store
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		log.Error("opening database failed", "error", err)
		return shutdown.ExitFault
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		log.Error("running migrations failed", "error", err)
		return shutdown.ExitFault
	}
	log.Info("database ready", "path", db.Path())

	// Entities and runtime state
	registry, err := entity.NewRegistry(entity.FromConfig(cfg.Entities))
	if err != nil {
		log.Error("building entity registry failed", "error", err)
		return shutdown.ExitFault
	}
	states := entity.NewStates(registry, clock.Now())

	// Failure queue
	q, err := queue.Open(cfg.Pipeline.QueuePath, log.Component("queue"))
	if err != nil {
		log.Error("opening failure queue failed", "error", err)
		return shutdown.ExitFault
	}
	log.Info("failure queue loaded", "path", q.Path(), "records", q.Len())

	// Write backend
	snk, err := newSink(ctx, cfg)
	if err != nil {
		log.Error("creating write client failed", "error", err)
		return shutdown.ExitFault
	}
	defer func() {
		if closeErr := snk.Close(); closeErr != nil {
			log.Error("error closing write client", "error", closeErr)
		}
	}()

	// Event source
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Error("connecting to MQTT failed", "error", err)
		return shutdown.ExitFault
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	snapshots := source.NewSQLiteSnapshotStore(db.DB)
	src := source.New(mqttClient, snapshots, cfg.Pipeline.LookupTimeoutDuration())
	src.SetLogger(log.Component("source"))

	// Observers
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.New(promReg, q, nil)
	if err != nil {
		log.Error("registering metrics failed", "error", err)
		return shutdown.ExitFault
	}
	hub := api.NewHub(cfg.API.WebSocket, log.Component("websocket"))

	// Pipeline
	deps := ingest.Deps{
		Registry: registry,
		States:   states,
		Sink:     snk,
		Queue:    q,
		Clock:    clock,
		Logger:   log.Component("ingest"),
		Observer: ingest.Observers{collector, hub},
	}
	writer, err := ingest.NewWriter(deps)
	if err != nil {
		log.Error("creating writer failed", "error", err)
		return shutdown.ExitFault
	}
	scheduler, err := ingest.NewScheduler(deps, ingest.FlushConfig{
		Interval:    cfg.Pipeline.FlushIntervalDuration(),
		MaxInterval: cfg.Pipeline.MaxFlushIntervalDuration(),
		BatchSize:   cfg.Pipeline.BatchSize,
	})
	if err != nil {
		log.Error("creating flush scheduler failed", "error", err)
		return shutdown.ExitFault
	}
	if err := collector.TrackFlush(promReg, scheduler); err != nil {
		log.Error("registering flush metrics failed", "error", err)
		return shutdown.ExitFault
	}
	heartbeat, err := ingest.NewHeartbeat(writer, src, ingest.HeartbeatConfig{
		Poll:      cfg.Pipeline.HeartbeatPollDuration(),
		Threshold: cfg.Pipeline.HeartbeatIntervalDuration(),
	})
	if err != nil {
		log.Error("creating heartbeat guard failed", "error", err)
		return shutdown.ExitFault
	}

	coord := shutdown.New(scheduler, cfg.Pipeline.ShutdownTimeoutDuration())
	coord.SetLogger(log.Component("shutdown"))
	mqttClient.SetOnPanic(func(topic string, recovered any) {
		coord.Panic("mqtt handler "+topic, recovered)
	})

	// Status API
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.New(api.Deps{
			Config:    cfg.API,
			Logger:    log.Component("api"),
			Registry:  registry,
			States:    states,
			Queue:     q,
			Flusher:   scheduler,
			Snapshots: snapshots,
			Checks: map[string]api.HealthChecker{
				"database": db,
				"mqtt":     mqttClient,
				"sink":     snk,
			},
			Gatherer: promReg,
			Hub:      hub,
			Clock:    clock,
			Version:  version,
		})
		if err != nil {
			log.Error("creating API server failed", "error", err)
			return shutdown.ExitFault
		}
		if err := apiServer.Start(ctx); err != nil {
			log.Error("starting API server failed", "error", err)
			return shutdown.ExitFault
		}
	}

	if err := healthCheck(ctx, db, mqttClient, snk, log); err != nil {
		log.Error("health check failed", "error", err)
		if apiServer != nil {
			_ = apiServer.Close() //nolint:errcheck // best-effort cleanup on setup failure
		}
		return shutdown.ExitFault
	}

	if err := src.Start(ctx, func(ctx context.Context, c ingest.Change) {
		writer.HandleChange(ctx, c)
	}); err != nil {
		log.Error("starting event source failed", "error", err)
		if apiServer != nil {
			_ = apiServer.Close() //nolint:errcheck // best-effort cleanup on setup failure
		}
		return shutdown.ExitFault
	}
	// Hooks run in order: stop intake, then the API.
	coord.OnStop("source", stopSource(src))
	if apiServer != nil {
		coord.OnStop("api", apiServer.Close)
	}

	coord.Go("startup", func(ctx context.Context) error {
		// Only cancellation ends it early; the remaining entities get
		// their first write from a change or the heartbeat.
		if _, err := writer.WriteStartup(ctx, src); err != nil {
			log.Info("startup writes interrupted", "error", err)
		}
		return nil
	})
	coord.Go("flush", scheduler.Run)
	coord.Go("heartbeat", heartbeat.Run)

	log.Info("initialisation complete, waiting for shutdown signal",
		"queued", q.Len(),
		"flush_interval", cfg.Pipeline.FlushIntervalDuration().String(),
	)

	code := coord.Run(ctx)

	log.Info("iobroker-influxdb3 stopped", "exit_code", code, "queued", q.Len())
	return code
}

// parseFlags returns the config path: -config, then IOBINFLUX_CONFIG,
// then the default.
func parseFlags(args []string) (string, error) {
	fs := flag.NewFlagSet("iobroker-influxdb3", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if *configPath != "" {
		return *configPath, nil
	}
	if path := os.Getenv("IOBINFLUX_CONFIG"); path != "" {
		return path, nil
	}
	return defaultConfigPath, nil
}

// newSink creates the configured write client. Unless
// sink.require_reachable is set it does not contact the backend; an
// unreachable backend at startup only means records are queued.
func newSink(ctx context.Context, cfg *config.Config) (sink, error) {
	strict := cfg.Sink.RequireReachable
	switch cfg.Sink.Backend {
	case config.BackendInfluxDB:
		var c *influxdb.Client
		var err error
		if strict {
			c, err = influxdb.Connect(ctx, cfg.InfluxDB)
		} else {
			c, err = influxdb.New(cfg.InfluxDB)
		}
		if err != nil {
			return nil, fmt.Errorf("influxdb: %w", err)
		}
		return c, nil
	case config.BackendVictoriaMetrics:
		var c *tsdb.Client
		var err error
		if strict {
			c, err = tsdb.Connect(ctx, cfg.TSDB)
		} else {
			c, err = tsdb.New(cfg.TSDB)
		}
		if err != nil {
			return nil, fmt.Errorf("victoriametrics: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported sink backend %q", cfg.Sink.Backend)
	}
}

// healthCheck verifies the local dependencies. The write backend is only
// reported: the queue covers it while it is down.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, snk sink, log *logging.Logger) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if err := snk.HealthCheck(ctx); err != nil {
		log.Warn("write backend unavailable, records will be queued", "error", err)
	} else {
		log.Info("write backend reachable")
	}
	return nil
}

func stopSource(src *source.Source) func() error {
	return func() error {
		if err := src.Stop(); err != nil && !errors.Is(err, source.ErrNotStarted) {
			return err
		}
		return nil
	}
}
