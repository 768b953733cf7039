package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/strataline/strata/pkg/cache"
	"github.com/strataline/strata/pkg/config"
	"github.com/strataline/strata/pkg/entity"
	"github.com/strataline/strata/pkg/graph"
	"github.com/strataline/strata/pkg/registry"
	"github.com/strataline/strata/pkg/server"
	"github.com/strataline/strata/pkg/storage"
)

func main() {
	// Setup logger
	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Logger().
		Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	// Load configuration
	cfg := config.Default()
	config.LoadFromEnv(cfg)

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	printBanner(cfg)

	// Initialize storage backend
	var backendConfig map[string]interface{}
	if cfg.BackendType == "jsonfile" {
		if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
			logger.Fatal().Err(err).Msg("Failed to create base directory")
		}
		backendConfig = map[string]interface{}{
			"base_dir": cfg.BaseDir,
		}
	} else {
		backendConfig = map[string]interface{}{
			"db_path": cfg.DBPath,
		}
	}

	backend, err := storage.NewBackend(cfg.BackendType, backendConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize storage backend")
	}
	defer backend.Close()

	if infoProvider, ok := backend.(storage.InfoProvider); ok {
		info := infoProvider.Info()
		logger.Info().
			Str("type", info.Type).
			Str("version", info.Version).
			Bool("supports_indexes", info.SupportsIndexes).
			Bool("supports_transaction", info.SupportsTransaction).
			Msg("Storage initialized")
	}

	// Initialize cache
	var cacheInstance cache.Cache
	if cfg.CacheType == "redis" {
		redisCache, err := cache.NewRedisCache(
			cfg.RedisHost,
			cfg.RedisPort,
			time.Duration(cfg.CacheTTL)*time.Second,
		)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to connect to Redis, falling back to memory cache")
			cacheInstance = cache.NewMemoryCache(cfg.CacheSize, time.Duration(cfg.CacheTTL)*time.Second)
		} else {
			cacheInstance = redisCache
			logger.Info().Msg("Using Redis cache")
		}
	} else {
		cacheInstance = cache.NewMemoryCache(cfg.CacheSize, time.Duration(cfg.CacheTTL)*time.Second)
		logger.Info().Msg("Using in-memory cache")
	}
	defer cacheInstance.Close()

	// Wire the engine
	reg := registry.New(backend, cacheInstance)
	entities := entity.New(backend, reg)
	g := graph.New(backend)

	// Background sweep for expired relationships
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if cfg.SweepInterval > 0 {
		go runSweeper(sweepCtx, g, time.Duration(cfg.SweepInterval)*time.Second, logger)
		logger.Info().Int("interval_seconds", cfg.SweepInterval).Msg("Relationship sweeper started")
	} else {
		logger.Info().Msg("Relationship sweeper disabled")
	}

	// Create server
	srv := server.New(cfg, reg, entities, g, cacheInstance, logger)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info().Msg("Shutting down gracefully...")
		stopSweep()
		cacheInstance.Close()
		backend.Close()
		os.Exit(0)
	}()

	// Start server
	logger.Info().Msg("Server ready to accept requests")
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func runSweeper(ctx context.Context, g *graph.Graph, interval time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := g.CleanupExpired(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("Expired relationship sweep failed")
				continue
			}
			if count > 0 {
				logger.Info().Int("count", count).Msg("Swept expired relationships")
			}
		}
	}
}

func printBanner(cfg *config.Config) {
	fmt.Println("////////////////////////// strata " + config.Version + " //////////////////////////")
	fmt.Println("----------------------------------------------------------------------")
	fmt.Println("Server Configuration:")
	fmt.Printf("  Host: %s\n", cfg.Host)
	fmt.Printf("  Port: %d\n", cfg.Port)
	fmt.Println()
	fmt.Println("Backend Configuration:")
	fmt.Printf("  Type: %s\n", cfg.BackendType)
	if cfg.BackendType == "jsonfile" {
		fmt.Printf("  Base dir: %s\n", cfg.BaseDir)
	} else {
		fmt.Printf("  Database: %s\n", cfg.DBPath)
	}
	fmt.Println()
	fmt.Println("Cache Configuration:")
	fmt.Printf("  Type: %s\n", cfg.CacheType)
	fmt.Printf("  TTL: %d seconds\n", cfg.CacheTTL)
	if cfg.CacheType == "redis" {
		fmt.Printf("  Redis: %s:%d\n", cfg.RedisHost, cfg.RedisPort)
	}
	fmt.Println()
	fmt.Println("Other Configuration:")
	fmt.Printf("  Sweep interval: %d seconds\n", cfg.SweepInterval)
	fmt.Printf("  Max path depth: %d\n", cfg.MaxPathDepth)
	fmt.Printf("  Max entity size: %d bytes\n", cfg.MaxEntitySize)
	fmt.Println("----------------------------------------------------------------------")
	fmt.Println()
}
