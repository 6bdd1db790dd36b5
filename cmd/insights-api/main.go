package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/gosight/gosight/analyzer/internal/auth"
	"github.com/gosight/gosight/analyzer/internal/classifier"
	"github.com/gosight/gosight/analyzer/internal/config"
	"github.com/gosight/gosight/analyzer/internal/correlator"
	"github.com/gosight/gosight/analyzer/internal/handler"
	"github.com/gosight/gosight/analyzer/internal/insights"
	"github.com/gosight/gosight/analyzer/internal/patterns"
	"github.com/gosight/gosight/analyzer/internal/publisher"
	"github.com/gosight/gosight/analyzer/internal/ratelimit"
	"github.com/gosight/gosight/analyzer/internal/service"
	"github.com/gosight/gosight/analyzer/internal/storage"
)

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

	log.Info().Msg("Starting GoSight Insights API...")

	// Initialize storage
	ch, err := storage.NewClickHouse(cfg.ClickHouse)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to ClickHouse")
	}
	defer ch.Close()
	log.Info().Msg("Connected to ClickHouse")

	pg, err := storage.NewPostgres(context.Background(), cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pg.Close()
	log.Info().Msg("Connected to PostgreSQL")

	// Initialize Redis; without it the limiter and key cache stay in-process
	var (
		limiter  ratelimit.Limiter = ratelimit.NewFixedWindow(cfg.RateLimit.Requests, cfg.RateLimit.Window, time.Now)
		keyCache auth.Cache
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		// Test connection
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Warn().Err(err).Msg("Failed to connect to Redis, using in-process rate limiting")
		} else {
			defer rdb.Close()
			limiter = ratelimit.NewRedis(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window)
			keyCache = auth.NewRedisCache(rdb)
			log.Info().Msg("Connected to Redis")
		}
	}

	// Pipelines
	c := classifier.New(classifier.Thresholds{
		LCPThresholdMs:    cfg.Insights.SlowPage.LCPThresholdMs,
		DepthThresholdPct: cfg.Insights.ScrollDropoff.DepthThresholdPct,
	})

	var aggOpts []insights.Option
	if pub := publisher.NewKafka(cfg.Kafka); pub != nil {
		defer pub.Close()
		aggOpts = append(aggOpts, insights.WithPublisher(pub))
		log.Info().Msg("Kafka insight publisher initialized")
	}

	svc := service.New(
		pg,
		patterns.NewDeduplicator(pg, pg, cfg.Patterns),
		insights.NewAggregator(ch, pg, c, cfg.Insights, aggOpts...),
		correlator.New(ch, ch, c, cfg.Correlator),
	)
	validator := auth.NewValidator(pg, keyCache)

	// Create gRPC server
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Start gRPC server
	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to listen for gRPC")
		}
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("Failed to serve gRPC")
		}
	}()

	// Create HTTP server
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           handler.NewRouter(handler.NewHTTPHandler(svc, limiter), validator),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down servers...")
	healthServer.Shutdown()
	grpcServer.GracefulStop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	log.Info().Msg("Servers stopped")
}
