package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/nerrad567/gray-logic-av/migrations"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-av/internal/api"
	"github.com/nerrad567/gray-logic-av/internal/audit"
	"github.com/nerrad567/gray-logic-av/internal/bridges/av"
	"github.com/nerrad567/gray-logic-av/internal/discovery"
	"github.com/nerrad567/gray-logic-av/internal/history"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-av/internal/infrastructure/mqtt"
)

const (
	// historyPruneInterval is how often expired state history is deleted.
	historyPruneInterval = 24 * time.Hour

	// setupConcurrency bounds entries connecting at once during startup.
	setupConcurrency = 4
)

// run is the bridge service, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic AV bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // Best-effort flush of the log file
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	historyRepo := history.NewRepository(db.DB, nil)
	auditRepo := audit.NewRepository(db.DB, nil)
	if cfg.Database.HistoryRetention > 0 {
		go pruneHistoryLoop(ctx, historyRepo, cfg.Database.HistoryRetention, log)
	}

	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT, "")
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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

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

	entries := av.NewEntryManager(av.ManagerConfig{
		PollInterval:    cfg.Bridge.PollInterval,
		RefreshCooldown: cfg.Bridge.RefreshCooldown,
		Logger:          log,
	})
	defer func() {
		log.Info("tearing down device entries")
		entries.Close()
	}()

	bridgeCfg := av.Config{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		MQTT:           mqttClient,
		Entries:        entries,
		History:        historyRepo,
		Audit:          auditRepo,
		HealthInterval: cfg.Bridge.HealthInterval,
		CommandTimeout: cfg.Bridge.CommandTimeout,
		Logger:         log,
	}
	// A nil *influxdb.Client must not become a non-nil interface.
	if influxClient != nil {
		bridgeCfg.Telemetry = influxClient
	}
	bridge, err := av.New(bridgeCfg)
	if err != nil {
		return fmt.Errorf("creating AV bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting AV bridge: %w", err)
	}
	defer func() {
		log.Info("stopping AV bridge")
		bridge.Stop()
	}()

	setupEntries(ctx, entries, av.EntriesFromConfig(cfg), log)

	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Security:  cfg.Security,
			Logger:    log,
			Devices:   entries,
			Commander: bridge,
			History:   historyRepo,
			Audit:     auditRepo,
			Version:   version,
		})
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
		bridge.OnStateChange(server.BroadcastState)
	} else {
		log.Info("REST API disabled")
	}

	if cfg.Discovery.Enabled {
		go announceDiscovered(ctx, cfg.Discovery, bridge, log)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"devices_configured", len(cfg.SamsungMDC)+len(cfg.PhilipsTV),
		"devices_ready", entries.Count(),
	)

	<-ctx.Done()

	// Deferred Close() calls run in reverse order: API, bridge, entries,
	// InfluxDB, MQTT, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// openDatabase opens SQLite and applies pending migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(ctx, database.ConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Info("database connected", "path", cfg.Path)

	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete")
	return db, nil
}

// entrySetter is the part of *av.EntryManager used at startup.
type entrySetter interface {
	SetupWithRetry(ctx context.Context, e av.Entry) error
}

// setupEntries sets up every configured entry, a few at a time. Entries
// that are not ready keep retrying in the background; invalid entries are
// logged and skipped.
func setupEntries(ctx context.Context, m entrySetter, entries []av.Entry, log *logging.Logger) {
	var g errgroup.Group
	g.SetLimit(setupConcurrency)
	for _, e := range entries {
		g.Go(func() error {
			err := m.SetupWithRetry(ctx, e)
			switch {
			case err == nil:
			case errors.Is(err, av.ErrNotReady):
				// Retrying; already logged by the manager.
			default:
				log.Error("entry setup failed", "entry", e.ID, "platform", string(e.Kind), "error", err)
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // every goroutine returns nil
}

// historyPruner deletes old history rows.
type historyPruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

func pruneHistoryLoop(ctx context.Context, repo historyPruner, retention time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		if n, err := repo.Prune(ctx, retention); err != nil {
			log.Warn("state history prune failed", "error", err)
		} else if n > 0 {
			log.Info("state history pruned", "rows", n, "retention", retention)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// discoveryPublisher announces discovered devices on MQTT.
type discoveryPublisher interface {
	PublishDiscovery(devices []av.DiscoveredDevice) error
}

func announceDiscovered(ctx context.Context, cfg config.DiscoveryConfig, pub discoveryPublisher, log *logging.Logger) {
	instances, err := discovery.Browse(ctx, cfg.Service, cfg.Domain, cfg.Timeout)
	if err != nil {
		log.Warn("mDNS discovery failed", "service", cfg.Service, "error", err)
		return
	}
	devices := toDiscovered(instances, cfg.Service)
	log.Info("mDNS discovery complete", "service", cfg.Service, "found", len(devices))
	if len(devices) == 0 {
		return
	}
	if err := pub.PublishDiscovery(devices); err != nil {
		log.Warn("failed to publish discovered devices", "error", err)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when telemetry is disabled.
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
