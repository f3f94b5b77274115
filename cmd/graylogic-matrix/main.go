// Gray Logic Matrix - HDMI matrix bridge
//
// This is the main entry point for the matrix bridge. It connects one 8x8
// HDMI matrix switcher (HTTP command channel plus optional Telnet session)
// to the Gray Logic MQTT bus:
//   - Commands and read requests arrive over MQTT
//   - Routing, CEC and connection events are published back
//   - Events are journaled to SQLite and, optionally, written to InfluxDB
//   - An optional HTTP API and WebSocket stream front the same controller
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-logic-matrix/migrations"

	"github.com/nerrad567/gray-logic-matrix/internal/api"
	"github.com/nerrad567/gray-logic-matrix/internal/audit"
	"github.com/nerrad567/gray-logic-matrix/internal/bridges/matrix"
	"github.com/nerrad567/gray-logic-matrix/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-matrix/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-matrix/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-matrix/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-matrix/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/matrix.yaml"

// auditPruneInterval is how often expired audit rows are removed.
const auditPruneInterval = 24 * time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting Gray Logic Matrix",
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

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	schemaVersion, err := db.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	log.Info("database migrations complete", "schema_version", schemaVersion)

	auditRepo := audit.NewSQLiteRepository(db.DB)

	matrixLog := log.ForMatrix(matrixID(cfg.Matrix))

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, matrixLog)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Create the controller first so its ID names the MQTT will.
	ctrl, err := matrix.NewController(matrix.ControllerOptions{
		Config: controllerConfig(cfg.Matrix),
		Logger: matrixLog,
	})
	if err != nil {
		return fmt.Errorf("creating matrix controller: %w", err)
	}

	willPayload, err := json.Marshal(matrix.NewLWTMessage(ctrl.ID()))
	if err != nil {
		return fmt.Errorf("building MQTT will: %w", err)
	}

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithWill(matrix.HealthTopic(), willPayload),
		mqtt.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("closing MQTT connection")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	mqttClient.SetOnDisconnect(func(disconnectErr error) {
		log.Warn("MQTT disconnected", "error", disconnectErr)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
	)

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("infrastructure health checks passed")

	defer func() {
		log.Info("closing matrix controller")
		if closeErr := ctrl.Close(); closeErr != nil {
			log.Error("error closing matrix controller", "error", closeErr)
		}
	}()

	// Event sinks
	detachAudit := matrix.AttachAudit(ctrl, &auditRecorder{repo: auditRepo})
	defer detachAudit()
	if influxClient != nil {
		detachMetrics := matrix.AttachMetrics(ctrl, influxClient)
		defer detachMetrics()
	}

	// Start the bridge before connecting so connection events reach MQTT.
	bridge, err := matrix.NewBridge(matrix.BridgeOptions{
		Controller:     ctrl,
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Logger:         matrixLog,
		Version:        version,
		HealthInterval: cfg.Matrix.HealthIntervalDuration(),
	})
	if err != nil {
		return fmt.Errorf("creating matrix bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting matrix bridge: %w", err)
	}
	defer func() {
		log.Info("stopping matrix bridge")
		bridge.Stop()
	}()

	go superviseConnection(ctx, ctrl, cfg.Matrix.HealthIntervalDuration(), matrixLog)

	if cfg.Database.AuditRetentionDays > 0 {
		retention := time.Duration(cfg.Database.AuditRetentionDays) * 24 * time.Hour
		go pruneAuditLoop(ctx, auditRepo, retention, auditPruneInterval, log)
	}

	// HTTP API and WebSocket (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			Matrix:   ctrl,
			Bridge:   bridge,
			MQTT:     mqttClient,
			Audit:    auditRepo,
			DB:       db,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server (if enabled)
	// 2. Bridge (publishes stopping health)
	// 3. Event sinks
	// 4. Matrix controller
	// 5. MQTT
	// 6. InfluxDB (if enabled)
	// 7. Database

	log.Info("Gray Logic Matrix stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// matrixID mirrors the controller's ID default so the logger can be
// tagged before the controller exists.
func matrixID(m config.MatrixConfig) string {
	if m.ID != "" {
		return m.ID
	}
	return m.Host
}

// controllerConfig converts the file configuration to the controller's.
func controllerConfig(m config.MatrixConfig) matrix.Config {
	return matrix.Config{
		ID:             m.ID,
		Host:           m.Host,
		HTTPPort:       m.HTTPPort,
		TelnetPort:     m.TelnetPort,
		Username:       m.Username,
		Password:       m.Password,
		UseTelnet:      m.UseTelnet,
		PreferTelnet:   m.PreferTelnet,
		RequestTimeout: m.RequestTimeoutDuration(),
		CommandTimeout: m.CommandTimeoutDuration(),
		CECCacheTTL:    m.CECCacheTTLDuration(),
		Retry: matrix.RetryPolicy{
			Initial:    time.Duration(m.Retry.InitialDelay) * time.Second,
			Max:        time.Duration(m.Retry.MaxDelay) * time.Second,
			MaxRetries: m.Retry.MaxRetries,
			Jitter:     m.Retry.Jitter,
		},
		TelnetReconnectDelay: time.Duration(m.Telnet.ReconnectDelay) * time.Second,
		TelnetMaxReconnects:  m.Telnet.MaxReconnectAttempts,
	}
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

	// The matrix itself is not checked here: the bridge runs and reports
	// unhealthy while the device is unreachable.
	return nil
}

// connector is the part of the controller superviseConnection drives.
type connector interface {
	IsConnected() bool
	ConnectWithRetry(ctx context.Context, maxRetries int) error
}

// superviseConnection connects the matrix and reconnects it whenever the
// HTTP channel is found down, checking every interval until ctx ends.
func superviseConnection(ctx context.Context, c connector, interval time.Duration, log *logging.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if !c.IsConnected() {
			if err := c.ConnectWithRetry(ctx, -1); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("matrix unreachable, will retry", "error", err, "next_check", interval.String())
			} else {
				log.Info("matrix connected")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pruneAuditLoop deletes audit rows older than retention, once at start and
// then every interval.
func pruneAuditLoop(ctx context.Context, repo audit.Repository, retention, interval time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := repo.DeleteBefore(ctx, time.Now().Add(-retention))
		switch {
		case err != nil && ctx.Err() == nil:
			log.Error("audit prune failed", "error", err)
		case n > 0:
			log.Info("audit log pruned", "removed", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// auditRecorder journals matrix events through the audit repository.
type auditRecorder struct {
	repo audit.Repository
}

// RecordMatrixEvent implements matrix.AuditRecorder.
func (r *auditRecorder) RecordMatrixEvent(ctx context.Context, entry matrix.AuditEntry) error {
	return r.repo.Create(ctx, &audit.AuditLog{
		Action:     entry.Action,
		EntityType: audit.EntityTypeMatrix,
		EntityID:   entry.MatrixID,
		Source:     audit.SourceBridge,
		Details:    entry.Details,
		CreatedAt:  entry.At,
	})
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the matrix
// bridge's MQTTClient interface. The difference is the Subscribe handler:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Matrix bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements matrix.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements matrix.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// Unsubscribe implements matrix.MQTTClient.
func (a *mqttBridgeAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

// IsConnected implements matrix.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
