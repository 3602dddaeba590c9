package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"tidewatch/internal/auth"
	"tidewatch/internal/broadcast"
	"tidewatch/internal/config"
	"tidewatch/internal/database/influxdb"
	"tidewatch/internal/database/postgres/listeners"
	"tidewatch/internal/database/store"
	"tidewatch/internal/database/store/repositories"
	"tidewatch/internal/decoder"
	"tidewatch/internal/handlers"
	"tidewatch/internal/logger"
	"tidewatch/internal/mqtt"
	mqtthandlers "tidewatch/internal/mqtt/handlers"
	"tidewatch/internal/services"
)

type Application struct {
	config *config.Config

	db              *store.DB
	influxDB        *influxdb.InfluxDB
	listenerManager *listeners.ListenerManager

	sensorRepository     *repositories.SensorRepository
	parameterRepository  *repositories.ParameterRepository
	sensorDataRepository *repositories.SensorDataRepository

	ingestService *services.IngestService
	sensorService *services.SensorService
	queryService  *services.QueryService

	hub         *broadcast.Hub
	fanout      *broadcast.Fanout
	redisClient *redis.Client
	redisRelay  *broadcast.RedisRelay

	broker        *mqtt.BrokerImpl
	topicManager  *mqtt.TopicManagerImpl
	uplinkHandler *mqtthandlers.UplinkHandlerImpl

	httpServer    *http.Server
	metricsServer *http.Server

	shutdownChan chan os.Signal
	ctx          context.Context
	cancelFunc   context.CancelFunc
}

func main() {
	app := &Application{}

	if err := app.initialize(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}

	if err := app.run(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run application")
	}
}

func (app *Application) initialize() error {
	var err error

	app.config, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.NewLogger(app.config.Logger)
	log.Info().
		Str("component", "main").
		Str("service", app.config.Service.Name).
		Str("version", app.config.Service.Version).
		Msg("Setting up service...")

	app.ctx, app.cancelFunc = context.WithCancel(context.Background())
	app.shutdownChan = make(chan os.Signal, 1)
	signal.Notify(app.shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.initializeDatabases(); err != nil {
		return fmt.Errorf("error while initializing databases: %w", err)
	}

	if err := app.initializeRepositories(); err != nil {
		return fmt.Errorf("error while initializing repositories: %w", err)
	}

	if err := app.initializeBroadcast(); err != nil {
		return fmt.Errorf("error while initializing broadcast: %w", err)
	}

	if err := app.initializeServices(); err != nil {
		return fmt.Errorf("error while initializing services: %w", err)
	}

	if err := app.initializeMQTT(); err != nil {
		return fmt.Errorf("error while initializing MQTT: %w", err)
	}

	if err := app.setupTableListeners(); err != nil {
		return fmt.Errorf("error while setting up table listeners: %w", err)
	}

	app.initializeHTTP()

	log.Info().Msg("Successfully initialized application")
	return nil
}

func (app *Application) initializeDatabases() error {
	var err error

	app.db, err = store.NewConnection(app.config.Database)
	if err != nil {
		return fmt.Errorf("could not connect to %s: %w", app.config.Database.Driver, err)
	}

	if app.config.InfluxDB.Enabled {
		app.influxDB, err = influxdb.NewConnection(&app.config.InfluxDB, logger.GetLogger("influxdb"))
		if err != nil {
			return fmt.Errorf("could not connect to InfluxDB: %w", err)
		}
	}

	log.Info().
		Str("component", "main").
		Str("driver", app.db.Driver()).
		Bool("influxdb", app.influxDB != nil).
		Msg("Successfully initialized databases")
	return nil
}

func (app *Application) initializeRepositories() error {
	db := app.db.GetDB()

	app.sensorRepository = repositories.NewSensorRepository(db)
	app.parameterRepository = repositories.NewParameterRepository(db)
	app.sensorDataRepository = repositories.NewSensorDataRepository(db)

	log.Info().
		Str("component", "main").
		Msg("Successfully initialized repositories")
	return nil
}

// initializeBroadcast builds the sinks every stored reading is handed to.
// With Redis configured, updates travel through the channel so that every
// instance's hub receives them exactly once.
func (app *Application) initializeBroadcast() error {
	app.hub = broadcast.NewHub(logger.GetLogger("hub"), app.config.Server.AllowedOrigins)
	app.fanout = broadcast.NewFanout().WithTimeout(app.config.Server.BroadcastTimeout)

	if app.config.Redis.Addr != "" {
		app.redisClient = broadcast.NewRedisClient(&app.config.Redis)
		app.redisRelay = broadcast.NewRedisRelay(
			app.redisClient,
			app.config.Redis.Channel,
			app.hub,
			logger.GetLogger("redis-relay"),
		)

		pingCtx, cancel := context.WithTimeout(app.ctx, 5*time.Second)
		defer cancel()
		if err := app.redisRelay.Ping(pingCtx); err != nil {
			return fmt.Errorf("could not reach Redis at %s: %w", app.config.Redis.Addr, err)
		}
		app.fanout.Add("redis", app.redisRelay)
	} else {
		app.fanout.Add("websocket", app.hub)
	}

	if app.influxDB != nil {
		app.fanout.Add("influxdb", influxdb.NewReadingWriter(app.influxDB.GetWriteAPI(), logger.GetLogger("influx-writer")))
	}

	log.Info().
		Str("component", "main").
		Int("sinks", app.fanout.Len()).
		Msg("Successfully initialized broadcast")
	return nil
}

func (app *Application) initializeServices() error {
	app.sensorService = services.NewSensorService(
		app.sensorRepository,
		app.parameterRepository,
		logger.GetLogger("sensor-service"),
	)

	app.queryService = services.NewQueryService(
		app.sensorService,
		app.sensorDataRepository,
		logger.GetLogger("query-service"),
	)

	app.ingestService = services.NewIngestService(
		app.db.GetDB(),
		decoder.NewRegistry(),
		app.sensorRepository,
		app.parameterRepository,
		app.sensorDataRepository,
		app.fanout,
		logger.GetLogger("ingest-service"),
	).WithBroadcastTimeout(app.config.Server.BroadcastTimeout)

	log.Info().
		Str("component", "main").
		Msg("Successfully initialized services")
	return nil
}

func (app *Application) initializeMQTT() error {
	if !app.config.MQTT.Enabled {
		log.Info().Str("component", "main").Msg("MQTT disabled")
		return nil
	}

	cfg := &app.config.MQTT
	app.topicManager = mqtt.NewTopicManager(cfg.BaseTopic, cfg.UplinkTopic)
	app.broker = mqtt.NewBroker(cfg, logger.GetLogger("mqtt-broker"))

	app.fanout.Add("mqtt", mqtt.NewEventPublisher(app.broker.GetPublisher(), app.topicManager, cfg.QoS))

	app.uplinkHandler = mqtthandlers.NewUplinkHandler(
		app.ingestService,
		app.topicManager,
		logger.GetLogger("uplink-handler"),
	)
	app.broker.GetRouter().RegisterHandler(app.topicManager.UplinkTopic(), app.uplinkHandler)

	connectCtx, cancel := context.WithTimeout(app.ctx, 30*time.Second)
	defer cancel()

	if err := app.broker.Start(connectCtx); err != nil {
		return fmt.Errorf("could not connect to MQTT broker: %w", err)
	}

	if err := app.broker.GetSubscriber().Subscribe(app.topicManager.UplinkTopic(), cfg.QoS); err != nil {
		return fmt.Errorf("error subscribing to uplink topic: %w", err)
	}

	log.Info().
		Str("component", "main").
		Str("uplink_topic", app.topicManager.UplinkTopic()).
		Msg("Successfully initialized MQTT")
	return nil
}

func (app *Application) setupTableListeners() error {
	if !app.config.Database.ListenForChanges {
		return nil
	}

	app.listenerManager = listeners.NewListenerManager(
		app.db.GetDB(),
		app.config.Database.Dsn,
		logger.GetLogger("listener-manager"),
	)

	sensorListener := listeners.NewSensorTableListener(app.hub, logger.GetLogger("sensor-listener"))
	if err := app.listenerManager.RegisterListener(sensorListener); err != nil {
		return fmt.Errorf("failed to register sensor listener: %w", err)
	}

	if err := app.listenerManager.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize listener manager: %w", err)
	}

	app.listenerManager.Start()

	log.Info().Msg("All table listeners initialized and started")
	return nil
}

func (app *Application) initializeHTTP() {
	cfg := app.config.Server

	router := handlers.NewRouter(handlers.RouterConfig{
		Ingest:         handlers.NewIngestHandler(app.ingestService, cfg.MaxBodyBytes, logger.GetLogger("ingest-handler")),
		Sensors:        handlers.NewSensorHandler(app.sensorService, app.queryService, logger.GetLogger("sensor-handler")),
		Live:           app.hub,
		Authenticator:  auth.NewBasicAuthenticator(app.config.Auth.AdminUsername, app.config.Auth.AdminPasswordHash),
		AllowedOrigins: cfg.AllowedOrigins,
		Ready:          app.ready,
		Logger:         logger.GetLogger("http"),
	})

	app.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		app.metricsServer = &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}
}

func (app *Application) ready() error {
	sqlDB, err := app.db.GetDB().DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(app.ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	if app.broker != nil && !app.broker.IsConnected() {
		return errors.New("mqtt broker disconnected")
	}
	return nil
}

func (app *Application) run() error {
	g, ctx := errgroup.WithContext(app.ctx)

	g.Go(func() error {
		log.Info().Str("addr", app.httpServer.Addr).Msg("HTTP server listening")
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if app.metricsServer != nil {
		g.Go(func() error {
			log.Info().Str("addr", app.metricsServer.Addr).Msg("Metrics server listening")
			if err := app.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	if app.redisRelay != nil {
		g.Go(func() error {
			return app.redisRelay.Run(ctx)
		})
	}

	select {
	case sig := <-app.shutdownChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-ctx.Done():
		log.Warn().Msg("context cancelled, shutting down application")
	}

	app.shutdown()

	return g.Wait()
}

func (app *Application) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down HTTP server")
	}
	if app.metricsServer != nil {
		_ = app.metricsServer.Shutdown(shutdownCtx)
	}

	if app.listenerManager != nil {
		app.listenerManager.Stop()
	}

	if app.broker != nil {
		app.broker.Stop()
	}

	app.cancelFunc()

	if app.redisRelay != nil {
		if err := app.redisRelay.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing Redis relay")
		}
	}

	app.hub.Close()

	if app.influxDB != nil {
		app.influxDB.Close()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}
