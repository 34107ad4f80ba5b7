// machinealloc is the machine allocation service.
//
// It assigns laundry jobs to AVAILABLE machines at a location, starts
// their cycles through the machine controllers, and records the outcome.
// See configs/config.yaml for the configuration reference.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nerrad567/machine-allocator/internal/api"
	"github.com/nerrad567/machine-allocator/internal/auth"
	"github.com/nerrad567/machine-allocator/internal/device"
	"github.com/nerrad567/machine-allocator/internal/events"
	"github.com/nerrad567/machine-allocator/internal/infrastructure/config"
	"github.com/nerrad567/machine-allocator/internal/infrastructure/influxdb"
	"github.com/nerrad567/machine-allocator/internal/infrastructure/logging"
	"github.com/nerrad567/machine-allocator/internal/infrastructure/mqtt"
	"github.com/nerrad567/machine-allocator/internal/machine"
	"github.com/nerrad567/machine-allocator/internal/storage"
	"github.com/nerrad567/machine-allocator/internal/telemetry"
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

// shutdownMargin is added to the device ack timeout when sizing the
// shutdown grace period.
const shutdownMargin = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting machine allocator",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := loadDotEnv(); err != nil {
		return err
	}

	configPath := getConfigPath()
	cfg, err := config.Load(ctx, configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"store", cfg.Store.Backend,
		"cache", cfg.Cache.Backend,
		"device_mode", cfg.Device.Mode,
	)

	store, err := storage.Open(ctx, cfg.Store, false)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		log.Info("closing store")
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing store", "error", closeErr)
		}
	}()
	log.Info("store opened", "backend", store.Backend())

	cache, closeCache, err := storage.OpenCache(cfg.Cache)
	if err != nil {
		return fmt.Errorf("creating cache: %w", err)
	}
	defer closeCache()

	health := map[string]api.HealthChecker{"store": store}

	dev, mqttClient, err := startDevice(cfg, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			if mc, ok := dev.(*device.MQTTClient); ok {
				if stopErr := mc.Stop(); stopErr != nil {
					log.Warn("error stopping device client", "error", stopErr)
				}
			}
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		health["mqtt"] = mqttClient
	}

	engine := machine.NewEngine(store, cache, dev)
	engine.SetLogger(log)

	metrics := telemetry.NewMetrics()
	engine.AddObserver(metrics)

	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		engine.AddObserver(telemetry.NewInfluxObserver(influxClient))
		health["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	publisher, err := events.Connect(cfg.Events, cfg.Service.ID, log)
	switch {
	case errors.Is(err, events.ErrDisabled):
		log.Info("transition events disabled")
	case err != nil:
		return fmt.Errorf("connecting to NATS: %w", err)
	default:
		defer func() {
			log.Info("closing NATS connection")
			if closeErr := publisher.Close(); closeErr != nil {
				log.Error("error closing NATS", "error", closeErr)
			}
		}()
		engine.AddObserver(publisher)
		health["events"] = publisher
		log.Info("NATS connected", "url", cfg.Events.URL)
	}

	var hub *api.Hub
	if cfg.WebSocket.Enabled {
		hub = api.NewHub(cfg.WebSocket, log)
		go hub.Run(ctx)
		engine.AddObserver(hub)
	}

	if cfg.Cache.WarmOnStart {
		if _, err := engine.Warm(ctx); err != nil {
			return fmt.Errorf("warming cache: %w", err)
		}
	}

	checker := auth.NewJWTChecker(cfg.Security.JWT.Secret)
	checker.SetLogger(log)

	router := api.NewRouter(engine, checker, metrics)
	router.SetLogger(log)

	server, err := api.New(api.Deps{
		Config:         cfg.API,
		Metrics:        cfg.Metrics,
		Logger:         log,
		Router:         router,
		MetricsHandler: metrics.Handler(),
		Health:         health,
		WebSocket:      cfg.WebSocket,
		Hub:            hub,
		Version:        version,

		// A start waiting on its device acknowledgement must be able to
		// record the outcome before the store closes.
		ShutdownTimeout: cfg.GetAckTimeout() + shutdownMargin,
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
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownMargin)
		defer cancel()
		if drainErr := engine.Drain(drainCtx); drainErr != nil {
			log.Error("machine starts still in flight at shutdown", "error", drainErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal", "address", server.Addr())

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// startDevice builds the device client for cfg.Device.Mode. The MQTT
// client is returned so the caller can close it; it is nil in simulated mode.
func startDevice(cfg *config.Config, log *logging.Logger) (machine.DeviceClient, *mqtt.Client, error) {
	if cfg.Device.Mode == config.DeviceModeSimulated {
		log.Warn("device mode is simulated, no machine will actually start",
			"failing", cfg.Device.SimulatedFailures)
		return device.NewSimulator(cfg.Device.SimulatedFailures,
			time.Duration(cfg.Device.SimulatedDelayMS)*time.Millisecond), nil, nil
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
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

	client := device.NewMQTTClient(mqttClient, device.MQTTOptions{
		QoS:        mqttClient.QoS(),
		AckTimeout: time.Duration(cfg.Device.AckTimeout) * time.Second,
		Source:     cfg.Service.ID,
	})
	client.SetLogger(log)
	if err := client.Start(); err != nil {
		mqttClient.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("starting device client: %w", err)
	}
	return client, mqttClient, nil
}

// loadDotEnv loads .env from the working directory if present.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// getConfigPath returns the config path from MACHINEALLOC_CONFIG or the default.
func getConfigPath() string {
	if path := os.Getenv(config.EnvPrefix + "CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
