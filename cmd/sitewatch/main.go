// SiteWatch Core - parking facility controller supervision.
//
// This is the main entry point. It loads configuration, opens the controller
// database, wires the protocol adapters, starts the health-check scheduler
// and serves the admin API until SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/sitewatch-core/internal/adapter"
	"github.com/nerrad567/sitewatch-core/internal/adapter/mqttdev"
	"github.com/nerrad567/sitewatch-core/internal/adapter/pls"
	"github.com/nerrad567/sitewatch-core/internal/api"
	"github.com/nerrad567/sitewatch-core/internal/audit"
	"github.com/nerrad567/sitewatch-core/internal/controller"
	"github.com/nerrad567/sitewatch-core/internal/events"
	"github.com/nerrad567/sitewatch-core/internal/healthcheck"
	"github.com/nerrad567/sitewatch-core/internal/infrastructure/config"
	"github.com/nerrad567/sitewatch-core/internal/infrastructure/database"
	"github.com/nerrad567/sitewatch-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/sitewatch-core/internal/infrastructure/logging"
	"github.com/nerrad567/sitewatch-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/sitewatch-core/internal/infrastructure/redis"
	"github.com/nerrad567/sitewatch-core/internal/site"
	"github.com/nerrad567/sitewatch-core/migrations"
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

// cycleLockKey is the Redis key guarding health cycles across replicas.
const cycleLockKey = "sitewatch:healthcheck:cycle"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting SiteWatch Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, cfg.Service.Name, version)
	defer log.Close() //nolint:errcheck // Log file close on exit
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"environment", cfg.Service.Environment,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", db.Path())

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	healthChecks := map[string]api.HealthCheckFunc{"database": db.HealthCheck}

	// MQTT (optional): device transport and event fan-out.
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		healthChecks["mqtt"] = mqttClient.HealthCheck
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional): health history.
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		healthChecks["influxdb"] = influxClient.HealthCheck
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Redis (optional): cross-replica cycle lock.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to Redis: %w", err)
		}
		defer func() {
			log.Info("closing Redis connection")
			if closeErr := redisClient.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		healthChecks["redis"] = redisClient.HealthCheck
		log.Info("Redis connected", "addr", cfg.Redis.Addr)
	}

	// Repositories and adapters.
	controllers := controller.NewSQLiteRepository(db.DB)
	sites := site.NewSQLiteRepository(db.DB)

	factory, stopHeartbeats, err := buildFactory(cfg, mqttClient, log)
	if err != nil {
		return err
	}
	defer stopHeartbeats()
	log.Info("adapter factory ready", "protocols", factory.Protocols())

	// Event fan-out.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	bus := events.NewBus()
	bus.SetLogger(log)
	bus.AddSink("websocket", events.NewHubSink(hub))
	if mqttClient != nil {
		bus.AddSink("mqtt", events.NewMQTTSink(mqttClient, byte(cfg.MQTT.QoS))) // #nosec G115 -- QoS validated 0-2
	}
	if influxClient != nil {
		bus.AddSink("history", events.NewHistorySink(influxClient))
	}
	log.Info("event bus ready", "sinks", bus.SinkNames())

	siteService := site.NewService(sites, controllers)
	siteService.SetLogger(log)
	siteService.SetPublisher(bus)

	// Cached site statuses may predate edits made while the service was down.
	if recalcErr := siteService.RecalculateAll(ctx); recalcErr != nil {
		log.Warn("initial site recalculation incomplete", "error", recalcErr)
	}

	// Health-check scheduler.
	var scheduler *healthcheck.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = healthcheck.New(healthcheck.Config{
			Interval:       cfg.Scheduler.Interval,
			ProbeTimeout:   cfg.Scheduler.ProbeTimeout,
			MaxConcurrency: cfg.Scheduler.MaxConcurrency,
			Controllers:    controllers,
			Adapters:       factory,
			Sites:          siteService,
		})
		scheduler.SetLogger(log)
		scheduler.SetPublisher(bus)
		if influxClient != nil {
			scheduler.SetRecorder(influxClient)
		}
		if cfg.Scheduler.DistributedLock && redisClient != nil {
			scheduler.SetLock(redisClient.NewLock(cycleLockKey, cfg.Scheduler.Interval))
			log.Info("distributed cycle lock enabled", "key", cycleLockKey)
		}
		scheduler.Start(ctx)
		defer func() {
			log.Info("stopping health-check scheduler")
			scheduler.Stop()
		}()
		log.Info("health-check scheduler started",
			"interval", cfg.Scheduler.Interval,
			"probe_timeout", cfg.Scheduler.ProbeTimeout,
			"max_concurrency", cfg.Scheduler.MaxConcurrency,
		)
	} else {
		log.Info("health-check scheduler disabled")
	}

	deps := api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       log,
		Controllers:  controllers,
		Sites:        sites,
		SiteService:  siteService,
		Adapters:     factory,
		Audit:        audit.NewSQLiteRepository(db.DB),
		HealthChecks: healthChecks,
		Hub:          hub,
		Version:      version,
	}
	if scheduler != nil {
		deps.Scheduler = scheduler
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, scheduler, Redis,
	// InfluxDB, MQTT, database.
	log.Info("SiteWatch Core stopped")
	return nil
}

// buildFactory registers every protocol the deployment can reach.
// MQTT devices are only registered when a broker connection exists; the
// returned func drops their heartbeat subscription.
func buildFactory(cfg *config.Config, mqttClient *mqtt.Client, log *logging.Logger) (*adapter.Factory, func(), error) {
	factory := adapter.NewFactory(cfg.Service.IsProduction())
	factory.SetLogger(log)

	factory.Register(pls.Protocol, pls.NewCreator(cfg.Adapters.PLS))

	if mqttClient != nil {
		tracker := mqttdev.NewHeartbeatTracker()
		qos := byte(cfg.MQTT.QoS) // #nosec G115 -- QoS validated 0-2
		if err := tracker.Start(mqttClient, qos); err != nil {
			return nil, nil, fmt.Errorf("subscribing to device heartbeats: %w", err)
		}
		factory.Register(mqttdev.Protocol, mqttdev.NewCreator(mqttClient, tracker, cfg.Adapters.MQTT, qos))
		return factory, func() {
			if err := tracker.Stop(mqttClient); err != nil {
				log.Warn("dropping heartbeat subscription failed", "error", err)
			}
		}, nil
	}

	return factory, func() {}, nil
}

// getConfigPath returns the configuration file path.
// Uses SITEWATCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SITEWATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
