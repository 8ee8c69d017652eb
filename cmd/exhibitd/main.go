// exhibitd - Exhibition Hall Controller
//
// This is the main entry point of the exhibition hall control daemon.
// exhibitd keeps one link to the hall's controller box and exposes it to:
//   - The REST API and WebSocket feed used by the operator app
//   - Operator consoles on MQTT (optional)
//   - SQLite state history and InfluxDB metrics (optional)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/exhibit-core/internal/api"
	"github.com/nerrad567/exhibit-core/internal/audit"
	"github.com/nerrad567/exhibit-core/internal/bridges/console"
	"github.com/nerrad567/exhibit-core/internal/device"
	"github.com/nerrad567/exhibit-core/internal/events"
	"github.com/nerrad567/exhibit-core/internal/infrastructure/config"
	"github.com/nerrad567/exhibit-core/internal/infrastructure/database"
	"github.com/nerrad567/exhibit-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/exhibit-core/internal/infrastructure/logging"
	"github.com/nerrad567/exhibit-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/exhibit-core/internal/link"
	"github.com/nerrad567/exhibit-core/internal/protocol"
	"github.com/nerrad567/exhibit-core/internal/recorder"
	"github.com/nerrad567/exhibit-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// eventQueueSize is the bus dispatch queue.
const eventQueueSize = 1024

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled. Components
// are closed in reverse start order by the deferred calls.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting exhibitd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database
	db, err := database.Open(database.Config{
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	if applied, _, statusErr := db.MigrationStatus(ctx, migrations.FS); statusErr == nil && len(applied) > 0 {
		log.Info("database schema ready", "version", applied[len(applied)-1].Version, "migrations", len(applied))
	}

	store, closeStore, err := openCustomDeviceStore(cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()
	history := device.NewSQLiteStateHistoryRepository(db.DB)
	commandLog := audit.NewSQLiteRepository(db.DB)

	// Event bus
	bus := events.NewBus(eventQueueSize)
	bus.SetLogger(log.Component("events"))
	defer bus.Close()

	// Controller link
	linkManager, err := link.New(link.Config{
		Address:              cfg.Controller.Address(),
		ConnectTimeout:       cfg.Controller.ConnectTimeout,
		WriteTimeout:         cfg.Controller.WriteTimeout,
		HeartbeatInterval:    cfg.Controller.HeartbeatInterval,
		HeartbeatPayload:     []byte(cfg.Controller.HeartbeatPayload),
		ReconnectDelay:       cfg.Controller.ReconnectDelay,
		MaxReconnectAttempts: cfg.Controller.MaxReconnectAttempts,
	}, bus)
	if err != nil {
		return fmt.Errorf("creating controller link: %w", err)
	}
	linkManager.SetLogger(log.Component("link"))
	defer func() {
		log.Info("closing controller link")
		if closeErr := linkManager.Close(); closeErr != nil {
			log.Error("error closing controller link", "error", closeErr)
		}
	}()

	// Device registry
	catalog, err := catalogFromConfig(cfg.Devices)
	if err != nil {
		return err
	}
	registry, err := device.NewRegistry(device.Config{
		Catalog:         catalog,
		RefreshInterval: cfg.Controller.StatusRefreshInterval,
		Store:           store,
		History:         history,
	}, linkManager, bus)
	if err != nil {
		return fmt.Errorf("creating device registry: %w", err)
	}
	registry.SetLogger(log.Component("device"))
	detach := registry.Attach(bus)
	defer detach()

	loaded, err := registry.LoadCustomDevices(ctx)
	if err != nil {
		return fmt.Errorf("loading custom devices: %w", err)
	}
	registry.Start(ctx)
	defer func() {
		log.Info("stopping device registry")
		registry.Stop()
	}()
	log.Info("device registry initialised",
		"devices", registry.GetDeviceCount(),
		"custom", loaded,
	)

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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

	// Recorder
	recCfg := recorder.Config{
		History:   history,
		Retention: cfg.Storage.HistoryRetention,
	}
	if influxClient != nil {
		recCfg.Metrics = influxClient
	}
	rec := recorder.New(recCfg)
	rec.SetLogger(log.Component("recorder"))
	rec.Start(ctx, bus)
	defer func() {
		log.Info("stopping recorder")
		rec.Stop()
	}()

	// MQTT console bridge (optional)
	if cfg.MQTT.Enabled {
		stopBridge := startConsoleBridge(ctx, cfg, registry, linkManager, bus, commandLog, log)
		defer stopBridge()
	} else {
		log.Info("MQTT console disabled")
	}

	// REST API and WebSocket
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log.Component("api"),
		Registry: registry,
		Link:     linkManager,
		Events:   bus,
		Audit:    commandLog,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if cfg.Controller.AutoConnect {
		if connErr := linkManager.Connect("", 0); connErr != nil {
			log.Warn("controller connect failed", "address", cfg.Controller.Address(), "error", connErr)
		} else {
			log.Info("connecting to controller", "address", cfg.Controller.Address())
		}
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	go watchLifecycleSignals(ctx, linkManager, log)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API, console bridge, recorder, InfluxDB, registry, link, bus, store, database.

	log.Info("exhibitd stopped")
	return nil
}

// openCustomDeviceStore returns the configured custom device store and a
// function closing it.
func openCustomDeviceStore(cfg *config.Config, db *database.DB) (device.CustomDeviceStore, func(), error) {
	if cfg.Storage.CustomDevices == config.StorageBolt {
		s, err := device.NewBoltCustomDeviceStore(cfg.Storage.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening custom device store: %w", err)
		}
		return s, func() { s.Close() }, nil //nolint:errcheck // best effort on shutdown
	}
	return device.NewSQLiteCustomDeviceStore(db.DB), func() {}, nil
}

// catalogFromConfig converts the configured device list. An empty list keeps
// the factory catalogue.
func catalogFromConfig(devices []config.DeviceConfig) ([]device.CatalogEntry, error) {
	if len(devices) == 0 {
		return nil, nil
	}
	catalog := make([]device.CatalogEntry, 0, len(devices))
	for _, d := range devices {
		t := protocol.DeviceType(d.Type)
		if !t.Valid() {
			return nil, fmt.Errorf("device %s: %w: %s", d.ID, protocol.ErrUnknownDeviceType, d.Type)
		}
		catalog = append(catalog, device.CatalogEntry{ID: d.ID, Name: d.Name, Type: t})
	}
	return catalog, nil
}

// startConsoleBridge connects to the broker and starts the console bridge.
// A broker that cannot be reached is logged and skipped; the REST API keeps
// working without it. The returned function stops whatever was started.
func startConsoleBridge(
	ctx context.Context,
	cfg *config.Config,
	registry *device.Registry,
	linkManager *link.Manager,
	bus *events.Bus,
	commandLog audit.Repository,
	log *logging.Logger,
) func() {
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT unavailable, console bridge disabled", "error", err)
		return func() {}
	}
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	closeMQTT := func() {
		st := mqttClient.Stats()
		log.Info("disconnecting from MQTT",
			"published", st.Published,
			"received", st.Received,
			"handler_errors", st.HandlerErrors,
			"connection_lost", st.ConnectionLost,
		)
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}

	bridge, err := console.NewBridge(console.BridgeOptions{
		MQTT:       mqttClient,
		Topics:     mqttClient.Topics(),
		Controller: registry,
		Link:       linkManager,
		Events:     bus,
		Audit:      commandLog,
		QoS:        byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		Logger:     log.Component("console"),
	})
	if err == nil {
		err = bridge.Start(ctx)
	}
	if err != nil {
		log.Warn("console bridge failed to start", "error", err)
		closeMQTT()
		return func() {}
	}
	log.Info("console bridge started", "prefix", mqttClient.Topics().Prefix())

	return func() {
		log.Info("stopping console bridge")
		bridge.Stop()
		closeMQTT()
	}
}

// watchLifecycleSignals maps SIGUSR1 to background and SIGUSR2 to foreground
// until ctx is cancelled.
func watchLifecycleSignals(ctx context.Context, lm *link.Manager, log *logging.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				log.Info("entering background")
				lm.EnterBackground()
			case syscall.SIGUSR2:
				log.Info("entering foreground")
				lm.EnterForeground()
			}
		}
	}
}

// healthCheck verifies the infrastructure connections.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		return nil
	})
	if influxClient != nil {
		g.Go(func() error {
			if err := influxClient.HealthCheck(ctx); err != nil {
				return fmt.Errorf("influxdb: %w", err)
			}
			return nil
		})
	}
	// The controller link is not checked: it reconnects on its own and a
	// missing controller must not stop the API from serving.
	return g.Wait()
}
