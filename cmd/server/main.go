package main

import (
	"context"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"zonecast/internal/core/services"
	httphandlers "zonecast/internal/handlers/http"
	"zonecast/internal/infrastructure/distributed"
	"zonecast/internal/infrastructure/middleware"
	"zonecast/internal/infrastructure/monitoring"
	repositories "zonecast/internal/infrastructure/repositories"
	"zonecast/internal/infrastructure/sfu"
	"zonecast/internal/infrastructure/signal"
	webrtcinfra "zonecast/internal/infrastructure/webrtc"
	"zonecast/pkg/config"
	"zonecast/pkg/logger"
	"zonecast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "zonecast",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	rosterRepo := repoFactory.CreateRosterRepository()
	mediaStateRepo := repoFactory.CreateMediaStateRepository()

	rosterService := services.NewRosterService(rosterRepo, zapLogger)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	engineConfig := webrtcinfra.EngineConfig{ICEServers: iceServers}
	engineConfig.PortRange.Min = cfg.WebRTC.PortRange.Min
	engineConfig.PortRange.Max = cfg.WebRTC.PortRange.Max
	mediaEngine := webrtcinfra.NewEngine(engineConfig, zapLogger)

	collector := monitoring.NewPrometheusCollector()

	// The relay and the registry reference each other: the registry
	// pushes room events through the relay, the relay dispatches sfu
	// requests into the registry. Registry is built first with the
	// relay injected afterwards via the server constructor ordering.
	var wsServer *signal.Server
	relay := signal.RelayFunc(func(target, msgType string, payload interface{}) error {
		return wsServer.Send(target, msgType, payload)
	})

	registry := sfu.NewRegistry(mediaEngine, relay, mediaStateRepo, zapLogger)

	wsServer = signal.NewServer(registry, rosterService, authService, signal.Config{
		PingInterval:      cfg.Signal.PingInterval,
		PongTimeout:       cfg.Signal.PongTimeout,
		WriteTimeout:      cfg.Signal.WriteTimeout,
		RequestTimeout:    cfg.Signal.RequestTimeout,
		RateLimitEnabled:  cfg.RateLimiting.Enabled,
		MessagesPerSecond: cfg.RateLimiting.MessagesPerSecond,
		Burst:             cfg.RateLimiting.Burst,
		MaxMessageSize:    cfg.RateLimiting.MaxMessageSizeBytes,
	}, collector, zapLogger)

	// With redis in play, several signaling nodes can serve one space;
	// the presence bus mirrors pushes between them.
	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()
	if redisClient := repoFactory.RedisClient(); redisClient != nil {
		bus := distributed.NewPresenceBus(redisClient, log)
		wsServer.SetPublisher(bus)
		go func() {
			err := bus.Subscribe(busCtx, func(evt distributed.Event) {
				if evt.TargetUserID != "" {
					if err := wsServer.SendLocal(string(evt.TargetUserID), evt.Type, evt.Payload); err != nil {
						log.Debugw("mirrored message target not here either", "user_id", evt.TargetUserID, "type", evt.Type)
					}
					return
				}
				wsServer.BroadcastLocal(evt.RoomID, evt.Type, evt.Payload)
			})
			if err != nil && busCtx.Err() == nil {
				log.Errorw("presence bus subscription ended", "error", err)
			}
		}()
		defer bus.Close()
	}

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("media_engine", func(ctx context.Context) (bool, error) {
		return registry.Healthy(), nil
	}, 2*time.Second)
	healthChecker.AddCheck("repositories", func(ctx context.Context) (bool, error) {
		if err := repoFactory.HealthCheck(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, 2*time.Second)

	authHandler := httphandlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL)
	roomHandler := httphandlers.NewRoomHandler(registry, healthChecker)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestLoggingMiddleware(logger.NewContextLogger(zapLogger)))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	authHandler.SetupRoutes(router)
	roomHandler.SetupRoutes(router, middleware.AuthMiddleware(authService))

	router.GET("/ws", func(c *gin.Context) {
		wsServer.HandleWebSocket(c.Writer, c.Request)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("prometheus metrics enabled")
	}

	// Keep the SFU gauges fresh in the background.
	statsCtx, stopStats := context.WithCancel(context.Background())
	defer stopStats()
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-statsCtx.Done():
				return
			case <-ticker.C:
				collector.UpdateRegistryStats(registry.Stats())
			}
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("starting zonecast server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	log.Info("shutting down zonecast server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	} else {
		log.Info("server shutdown gracefully")
	}

	if err := tracerProvider.Shutdown(context.Background()); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}

	log.Info("zonecast server stopped")
}
