package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/analyzer/internal/classifier"
	"github.com/gosight/gosight/analyzer/internal/config"
	"github.com/gosight/gosight/analyzer/internal/insights"
	"github.com/gosight/gosight/analyzer/internal/patterns"
	"github.com/gosight/gosight/analyzer/internal/publisher"
	"github.com/gosight/gosight/analyzer/internal/storage"
)

// insight-processor runs one pattern and insight recompute pass and exits.
// It is meant to be scheduled (cron, k8s CronJob); a failed pass is retried
// on the next run.
func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/analyzer.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Failed to load config")
	}

	log.Info().
		Str("clickhouse_addr", cfg.ClickHouse.Addr).
		Strs("kafka_brokers", cfg.Kafka.Brokers).
		Dur("window", cfg.Insights.Window).
		Msg("Configuration loaded")

	// Cancel the pass on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("Recompute pass failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	start := time.Now()

	// Initialize ClickHouse
	ch, err := storage.NewClickHouse(cfg.ClickHouse)
	if err != nil {
		return err
	}
	defer ch.Close()
	log.Info().Msg("Connected to ClickHouse")

	// Initialize PostgreSQL
	pg, err := storage.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()
	log.Info().Msg("Connected to PostgreSQL")

	if os.Getenv("RUN_MIGRATIONS") == "true" {
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		if err := ch.Migrate(ctx); err != nil {
			return err
		}
		log.Info().Msg("Schemas up to date")
	}

	// Patterns
	dedup := patterns.NewDeduplicator(pg, pg, cfg.Patterns)
	if _, err := dedup.Recompute(ctx); err != nil {
		return err
	}

	// Insights
	var opts []insights.Option
	if pub := publisher.NewKafka(cfg.Kafka); pub != nil {
		defer pub.Close()
		opts = append(opts, insights.WithPublisher(pub))
		log.Info().Msg("Kafka insight publisher initialized")
	}

	c := classifier.New(classifier.Thresholds{
		LCPThresholdMs:    cfg.Insights.SlowPage.LCPThresholdMs,
		DepthThresholdPct: cfg.Insights.ScrollDropoff.DepthThresholdPct,
	})
	agg := insights.NewAggregator(ch, pg, c, cfg.Insights, opts...)

	projects := []string{os.Getenv("PROJECT_ID")}
	if projects[0] == "" {
		projects, err = ch.ListActiveProjects(ctx, time.Now().Add(-2*cfg.Insights.Window), cfg.Insights.MaxProjects)
		if err != nil {
			return err
		}
	}
	log.Info().Int("projects", len(projects)).Msg("Recomputing insights")

	if err := agg.RecomputeProjects(ctx, projects); err != nil {
		return err
	}

	log.Info().Dur("duration", time.Since(start)).Msg("Recompute pass complete")
	return nil
}
