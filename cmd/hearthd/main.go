// Hearth Core - Home Automation Gateway
//
// This is the main entry point for the Hearth gateway. Hearth bridges
// heterogeneous device protocols (Zigbee, Z-Wave, HTTP) behind a
// capability-based device model, delivers commands through a durable
// per-device execution engine, and fans device activity out to
// authenticated real-time subscribers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	_ "github.com/hearthbeam/hearth-core/migrations"

	"github.com/hearthbeam/hearth-core/internal/api"
	"github.com/hearthbeam/hearth-core/internal/command"
	"github.com/hearthbeam/hearth-core/internal/device"
	"github.com/hearthbeam/hearth-core/internal/driver"
	"github.com/hearthbeam/hearth-core/internal/driver/httpdrv"
	"github.com/hearthbeam/hearth-core/internal/driver/zigbee"
	"github.com/hearthbeam/hearth-core/internal/driver/zwave"
	"github.com/hearthbeam/hearth-core/internal/fanout"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/config"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/database"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/influxdb"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/logging"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/metrics"
	"github.com/hearthbeam/hearth-core/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Hearth Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Prometheus registry backing all gateway collectors and /metrics
	promReg := prometheus.NewRegistry()
	gauges := metrics.New(promReg)

	// Initialise device registry
	deviceRepo := device.NewSQLiteRepository(db.DB)
	deviceRegistry := device.NewRegistry(deviceRepo)
	deviceRegistry.SetLogger(log)

	if refreshErr := deviceRegistry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", deviceRegistry.GetDeviceCount())

	// Start the embedded broker before connecting, for single-box installs
	var brokerErrs <-chan error
	if cfg.MQTT.Embedded.Enabled {
		broker, brokerErr := mqtt.NewBroker(cfg.MQTT.Embedded, cfg.MQTT.Auth)
		if brokerErr != nil {
			return fmt.Errorf("creating embedded broker: %w", brokerErr)
		}
		brokerErrs = broker.Start()
		defer func() {
			log.Info("stopping embedded broker")
			if closeErr := broker.Close(); closeErr != nil {
				log.Error("error closing embedded broker", "error", closeErr)
			}
		}()
		log.Info("embedded MQTT broker started", "listen", cfg.MQTT.Embedded.Listen)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		gauges.MQTTConnected.Set(1)
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		gauges.MQTTConnected.Set(0)
		gauges.MQTTReconnects.Inc()
		log.Warn("MQTT disconnected", "error", err)
	})
	gauges.MQTTConnected.Set(1)

	// Connect to InfluxDB (optional)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build protocol drivers
	driverRegistry, closeDrivers, err := buildDrivers(cfg, mqttClient, log)
	if err != nil {
		return fmt.Errorf("starting drivers: %w", err)
	}
	defer closeDrivers()
	log.Info("protocol drivers started", "protocols", driverRegistry.Protocols())

	// State history sinks
	historyRepo := device.NewSQLiteStateHistoryRepository(db.DB)

	// Command execution engine
	cmdRepo := command.NewSQLiteRepository(db.DB)
	engine := command.NewEngine(cfg.Engine, deviceRegistry, driverRegistry, cmdRepo, mqttClient)
	engine.SetLogger(log)
	engine.SetMetrics(gauges)

	// Reconnect budget exhaustion means bridge-attached protocols are
	// unreachable; stop accepting new work rather than queueing into a void.
	mqttClient.SetOnFatal(func(err error) {
		log.Error("MQTT reconnect budget exhausted, halting command intake", "error", err)
		engine.HaltIntake(err)
	})

	// Real-time fanout hub
	hub := fanout.NewHub(cfg.WebSocket, cfg.Security.JWT.Secret, deviceRegistry, log)
	hub.SetMetrics(gauges)

	// Command lifecycle flows to subscribers and the time-series store.
	// Wired before Start so reloaded pending commands report through the
	// same path.
	engine.SetOnStatus(func(ev command.StatusEvent) {
		hub.PushStatus(ev.Command.DeviceID, ev.HomeID, ev.UserID, ev)
		if influxClient != nil && ev.Command.CompletedAt != nil {
			durationMs := int64(0)
			if ev.Command.ExecutedAt != nil {
				durationMs = ev.Command.CompletedAt.Sub(*ev.Command.ExecutedAt).Milliseconds()
			}
			//nolint:errcheck // best-effort time-series write
			influxClient.WriteCommandResult(ev.Command.DeviceID, ev.Command.Name,
				string(ev.Command.Status), durationMs, ev.Command.RetryCount)
		}
	})
	engine.SetOnState(func(change *device.StateChange) {
		recordStateChange(change, hub, historyRepo, influxClient, log)
	})

	if startErr := engine.Start(ctx); startErr != nil {
		return fmt.Errorf("starting command engine: %w", startErr)
	}
	defer func() {
		log.Info("stopping command engine")
		engine.Stop()
	}()
	log.Info("command engine started")

	// Driver-sourced state and events arrive over the canonical topics
	if subErr := subscribeStateIngest(cfg, mqttClient, deviceRegistry, hub, historyRepo, influxClient, log); subErr != nil {
		return fmt.Errorf("subscribing to device topics: %w", subErr)
	}

	// HTTP API surface
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		Security: cfg.Security,
		Logger:   log,
		Registry: deviceRegistry,
		Engine:   engine,
		Drivers:  driverRegistry,
		Hub:      hub,
		History:  historyRepo,
		Health:   healthCheckers(db, mqttClient, influxClient),
		Gatherer: promReg,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Supervise background loops until shutdown or a fatal broker error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	if brokerErrs != nil {
		g.Go(func() error {
			select {
			case brokerErr, ok := <-brokerErrs:
				if ok && brokerErr != nil {
					return fmt.Errorf("embedded broker: %w", brokerErr)
				}
				return nil
			case <-gctx.Done():
				return nil
			}
		})
	}

	err = g.Wait()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, command engine, drivers, InfluxDB, MQTT, broker, database

	log.Info("Hearth Core stopped")
	return err
}

// buildDrivers constructs and starts the drivers for each enabled protocol.
//
// Parameters:
//   - cfg: Application configuration
//   - transport: MQTT transport shared by the bridge-attached drivers
//   - log: Logger instance
//
// Returns:
//   - *driver.Registry: Registry over the started drivers
//   - func(): Closer stopping every started driver
//   - error: If no protocol is enabled or a driver fails to start
func buildDrivers(cfg *config.Config, transport driver.Transport, log *logging.Logger) (*driver.Registry, func(), error) {
	var (
		drivers []driver.Driver
		closers []func() error
	)

	if cfg.Protocols.Zigbee.Enabled {
		zb := zigbee.New(cfg.Protocols.Zigbee, transport)
		zb.SetLogger(log)
		if err := zb.Start(); err != nil {
			return nil, nil, fmt.Errorf("zigbee: %w", err)
		}
		drivers = append(drivers, zb)
		closers = append(closers, zb.Close)
		log.Info("zigbee driver started", "bridge", cfg.Protocols.Zigbee.BridgeID)
	}
	if cfg.Protocols.ZWave.Enabled {
		zw := zwave.New(cfg.Protocols.ZWave, transport)
		zw.SetLogger(log)
		if err := zw.Start(); err != nil {
			return nil, nil, fmt.Errorf("zwave: %w", err)
		}
		drivers = append(drivers, zw)
		closers = append(closers, zw.Close)
		log.Info("zwave driver started", "bridge", cfg.Protocols.ZWave.BridgeID)
	}
	if cfg.Protocols.HTTP.Enabled {
		hd := httpdrv.New(cfg.Protocols.HTTP)
		hd.SetLogger(log)
		drivers = append(drivers, hd)
		log.Info("http driver started")
	}

	registry, err := driver.NewRegistry(drivers...)
	if err != nil {
		return nil, nil, err
	}

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if closeErr := closers[i](); closeErr != nil {
				log.Error("error closing driver", "error", closeErr)
			}
		}
	}
	return registry, closeAll, nil
}

// statePayload is the canonical devices/{id}/state wire shape published
// by drivers and external producers.
type statePayload struct {
	State   device.State `json:"state"`
	Version *int64       `json:"version,omitempty"`
	Source  string       `json:"source,omitempty"`
}

// subscribeStateIngest routes canonical device state and event traffic
// into the registry, the fanout hub, and the persistence sinks.
func subscribeStateIngest(cfg *config.Config, client *mqtt.Client, registry *device.Registry, hub *fanout.Hub, history device.StateHistoryRepository, influx *influxdb.Client, log *logging.Logger) error {
	topics := mqtt.Topics{}

	stateHandler := func(topic string, payload []byte) error {
		deviceID, ok := deviceIDFromTopic(topic)
		if !ok {
			return fmt.Errorf("malformed state topic %q", topic)
		}
		var update statePayload
		if err := json.Unmarshal(payload, &update); err != nil {
			return fmt.Errorf("decoding state for %s: %w", deviceID, err)
		}
		if len(update.State) == 0 {
			return nil
		}
		source := update.Source
		if source == "" {
			source = device.StateHistorySourceDriver
		}
		change, err := registry.ApplyState(context.Background(), deviceID, update.State, update.Version, source)
		if err != nil {
			if errors.Is(err, device.ErrStaleState) || errors.Is(err, device.ErrDeviceNotFound) {
				log.Debug("state update dropped", "device_id", deviceID, "error", err)
				return nil
			}
			return err
		}
		recordStateChange(change, hub, history, influx, log)
		return nil
	}

	eventHandler := func(topic string, payload []byte) error {
		deviceID, ok := deviceIDFromTopic(topic)
		if !ok {
			return fmt.Errorf("malformed event topic %q", topic)
		}
		dev, err := registry.GetDevice(context.Background(), deviceID)
		if err != nil {
			log.Debug("event for unknown device dropped", "device_id", deviceID)
			return nil
		}
		var event map[string]any
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("decoding event for %s: %w", deviceID, err)
		}
		hub.PushEvent(deviceID, dev.HomeID, dev.UserID, event)
		return nil
	}

	qos := byte(cfg.MQTT.QoS)
	if err := client.Subscribe(topics.AllDeviceStates(), qos, stateHandler); err != nil {
		return err
	}
	return client.Subscribe(topics.AllDeviceEvents(), qos, eventHandler)
}

// recordStateChange fans an accepted state change out to subscribers and
// the persistence sinks. History and time-series writes are best-effort;
// the in-memory snapshot is already committed.
func recordStateChange(change *device.StateChange, hub *fanout.Hub, history device.StateHistoryRepository, influx *influxdb.Client, log *logging.Logger) {
	hub.PushStateChange(change)

	if err := history.RecordStateChange(context.Background(), change.DeviceID, change.Delta, change.Source); err != nil {
		log.Error("recording state history", "device_id", change.DeviceID, "error", err)
	}
	if influx != nil {
		fields := make(map[string]interface{}, len(change.Delta))
		for k, v := range change.Delta {
			fields[k] = v
		}
		//nolint:errcheck // best-effort time-series write
		influx.WriteStateChange(change.DeviceID, string(change.Protocol), change.HomeID, change.Source, fields)
	}
}

// deviceIDFromTopic extracts the device ID segment from a canonical
// devices/{id}/... topic.
func deviceIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != mqtt.TopicPrefixDevices || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// healthCheckers builds the named component checkers surfaced by /health.
func healthCheckers(db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) map[string]api.HealthChecker {
	checkers := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		checkers["influxdb"] = influxClient
	}
	return checkers
}

// getConfigPath returns the configuration file path.
// Uses HEARTH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HEARTH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
