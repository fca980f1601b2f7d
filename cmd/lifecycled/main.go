package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/fieldpulse/lifecycle/internal/api"
	"github.com/fieldpulse/lifecycle/internal/billing"
	"github.com/fieldpulse/lifecycle/internal/cache"
	"github.com/fieldpulse/lifecycle/internal/clock"
	"github.com/fieldpulse/lifecycle/internal/config"
	"github.com/fieldpulse/lifecycle/internal/dispatch"
	"github.com/fieldpulse/lifecycle/internal/events"
	"github.com/fieldpulse/lifecycle/internal/health"
	"github.com/fieldpulse/lifecycle/internal/insights"
	"github.com/fieldpulse/lifecycle/internal/journey"
	"github.com/fieldpulse/lifecycle/internal/processors/activity"
	"github.com/fieldpulse/lifecycle/internal/scheduler"
	"github.com/fieldpulse/lifecycle/internal/segment"
	"github.com/fieldpulse/lifecycle/internal/store/postgres"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	var (
		configFile  = flag.String("config", "config/config.yaml", "Configuration file path")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("lifecycled version %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	logger.Info().Str("version", version).Str("commit", commit).Msg("lifecycled starting")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("lifecycled failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(cfg.Postgres.DSN(), postgres.Pool{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	accountStore := postgres.NewAccountStore(db)
	touchpointStore := postgres.NewTouchpointStore(db)
	healthScoreStore := postgres.NewHealthScoreStore(db)
	segmentStore := postgres.NewSegmentStore(db)
	journeyStore := postgres.NewJourneyStore(db)
	vectorStore := postgres.NewVectorStore(db)

	redisCache := cache.NewRedisCache(cfg.Redis, logger)
	defer redisCache.Close()
	cachedHealth := cache.NewHealthStore(healthScoreStore, redisCache)

	var publisher events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		if err := events.EnsureTopics(cfg.Kafka.Brokers, logger); err != nil {
			logger.Warn().Err(err).Msg("topic creation failed, continuing")
		}
		kafkaPublisher, err := events.NewKafkaPublisher(cfg.Kafka, logger)
		if err != nil {
			return fmt.Errorf("create kafka publisher: %w", err)
		}
		publisher = kafkaPublisher
	} else {
		logger.Warn().Msg("no kafka brokers configured, events stay in memory")
		publisher = events.NewCapture()
	}
	defer publisher.Close()

	clk := clock.Real{}
	weights := health.Weights{
		Adoption:     cfg.Scoring.AdoptionWeight,
		Engagement:   cfg.Scoring.EngagementWeight,
		Relationship: cfg.Scoring.RelationshipWeight,
		Financial:    cfg.Scoring.FinancialWeight,
		Support:      cfg.Scoring.SupportWeight,
	}

	calculator := health.NewCalculator(accountStore, touchpointStore, cachedHealth, publisher, weights, clk, logger)
	segmentManager := segment.NewManager(segmentStore, accountStore, cachedHealth, publisher, clk, logger)
	dispatcher := dispatch.NewBusDispatcher(publisher, logger)
	orchestrator := journey.NewOrchestrator(journeyStore, accountStore, cachedHealth, dispatcher, publisher, clk, logger)

	insightService := insights.NewService(insights.Config{
		APIKey:         cfg.OpenAI.APIKey,
		Model:          cfg.OpenAI.Model,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
	}, accountStore, cachedHealth, vectorStore, logger)

	billingService := billing.NewService(accountStore, touchpointStore, publisher, cfg.Stripe.WebhookSecret, clk, logger)

	processor := activity.NewProcessor(logger)
	processor.RegisterHealthRecalc(calculator)
	processor.RegisterEnrollmentChecks(journeyStore, orchestrator)

	if len(cfg.Kafka.Brokers) > 0 {
		for _, topic := range []string{events.TopicActivityEvents, events.TopicHealthEvents} {
			consumer := events.NewConsumer(cfg.Kafka, topic, logger)
			go func(c *events.Consumer, topic string) {
				defer c.Close()
				if err := c.Run(ctx, processor.Handle); err != nil {
					logger.Error().Err(err).Str("topic", topic).Msg("consumer stopped")
				}
			}(consumer, topic)
		}
	}

	sched := scheduler.New(cfg.Scheduler, orchestrator, segmentManager, segmentStore, calculator, accountStore, logger)
	go sched.Run(ctx)

	server := api.NewServer(cfg.API, api.Deps{
		Health:   calculator,
		Scores:   healthScoreStore,
		Segments: segmentManager,
		SegStore: segmentStore,
		Journeys: orchestrator,
		JStore:   journeyStore,
		Insights: insightService,
		Billing:  billingService,
		Pingers: map[string]api.Pinger{
			"postgres": dbPinger{db},
			"redis":    redisCache,
		},
	}, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("api server: %w", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api shutdown error")
	}
	logger.Info().Msg("lifecycled stopped")
	return nil
}

// dbPinger adapts sqlx.DB to the api.Pinger interface
type dbPinger struct {
	db *sqlx.DB
}

func (p dbPinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "lifecycled").Logger()
}
