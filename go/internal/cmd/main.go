package main

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sketchparty/go/internal/gateway"
	"github.com/mcdev12/sketchparty/go/internal/notify"
	"github.com/mcdev12/sketchparty/go/internal/outbox"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	setupLogging()

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	database, err := setupDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close()

	services := setupServices(database, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable jobs survive restarts: re-arm what is still scheduled, apply
	// the missed policy to what is overdue.
	if err := services.Scheduler.LoadPersisted(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to load persisted jobs")
	}
	go func() {
		if err := services.Scheduler.Run(ctx); err != nil {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()
	if err := services.Coordinator.ScheduleNextSweep(ctx); err != nil {
		log.Error().Err(err).Msg("failed to arm stale game sweep")
	}

	startOutboxRelay(ctx, cfg, services)
	startNotify(ctx, cfg, services)
	gatewayHandler := startGateway(ctx, cfg)

	server := setupServer(cfg, NewAPI(services), gatewayHandler)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

// startOutboxRelay starts the worker that moves committed outbox rows onto
// the message bus. Without NATS the relay logs events, which keeps local
// development observable without a broker.
func startOutboxRelay(ctx context.Context, cfg *AppConfig, services *Services) {
	var publisher outbox.EventPublisher
	if cfg.NATS.Enabled {
		jsCfg := outbox.DefaultJetStreamConfig()
		if cfg.NATS.URL != "" {
			jsCfg.URL = cfg.NATS.URL
		}
		p, err := outbox.NewJetStreamPublisher(jsCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create JetStream publisher")
		}
		publisher = p
	} else {
		publisher = outbox.NewLogPublisher(slog.Default())
	}

	worker := outbox.NewWorker(services.OutboxRepo, publisher, newOutboxListener(),
		outbox.DefaultWorkerConfig(), slog.Default())
	go func() {
		if err := worker.Start(ctx); err != nil {
			log.Error().Err(err).Msg("outbox worker stopped")
		}
	}()
}

func startNotify(ctx context.Context, cfg *AppConfig, services *Services) {
	if !cfg.Notify.Enabled || !cfg.NATS.Enabled {
		return
	}

	router := notify.NewRouter(
		notify.NewLogNotifier(),
		notify.StaticChannels{Completed: cfg.Notify.CompletedChannel, Admin: cfg.Notify.AdminChannel},
		services.Games,
		services.Seasons,
	)
	consumerCfg := notify.DefaultConsumerConfig()
	if cfg.NATS.URL != "" {
		consumerCfg.URL = cfg.NATS.URL
	}
	consumer, err := notify.NewConsumer(router, consumerCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create notification consumer")
	}
	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("notification consumer stopped")
		}
	}()
}

func startGateway(ctx context.Context, cfg *AppConfig) *gateway.Handler {
	if !cfg.Gateway.Enabled || !cfg.NATS.Enabled {
		return nil
	}

	manager := gateway.NewManager(gateway.DefaultConnectionConfig())
	go manager.Start(ctx)

	consumerCfg := gateway.DefaultConsumerConfig()
	if cfg.NATS.URL != "" {
		consumerCfg.URL = cfg.NATS.URL
	}
	consumer, err := gateway.NewConsumer(manager, consumerCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gateway consumer")
	}
	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway consumer stopped")
		}
	}()

	return gateway.NewHandler(manager)
}
