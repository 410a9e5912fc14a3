// Package main provides the relay server binary: a WebSocket hub that seats
// participants and fans their sync frames out to every other seat.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/vrsync/internal/config"
	"github.com/cory-johannsen/vrsync/internal/observability"
	"github.com/cory-johannsen/vrsync/internal/relay"
	"github.com/cory-johannsen/vrsync/internal/server"
	"github.com/cory-johannsen/vrsync/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	healthInterval := flag.Duration("db-health", 30*time.Second, "journal database health check interval")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, "relay")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting relay",
		zap.String("addr", cfg.Relay.Addr()),
		zap.String("path", cfg.Relay.Path),
		zap.Int("max_seats", cfg.Relay.MaxSeats),
	)

	ctx := context.Background()
	lifecycle := server.NewLifecycle(logger)

	var journal relay.Journal = relay.NopJournal{}
	if cfg.Database.Enabled {
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Name),
			zap.Duration("elapsed", time.Since(dbStart)),
		)

		repo := postgres.NewJournalRepository(pool.DB())
		// Rows left open by a previous process can never be closed by it.
		closed, err := repo.CloseDangling(ctx, time.Now())
		if err != nil {
			logger.Fatal("closing dangling participations", zap.Error(err))
		}
		if closed > 0 {
			logger.Info("closed dangling participations", zap.Int64("count", closed))
		}
		journal = repo

		health := server.NewLoopService(func(ctx context.Context) error {
			ticker := time.NewTicker(*healthInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if err := pool.Health(ctx, 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			}
		})
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: health.Start,
			StopFn: func() {
				health.Stop()
				pool.Close()
			},
		})
	}

	srv := relay.NewServer(cfg.Relay, journal, logger)
	lifecycle.Add("relay", &server.FuncService{
		StartFn: srv.ListenAndServe,
		StopFn:  srv.Stop,
	})

	logger.Info("relay initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Bool("journal", cfg.Database.Enabled),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("relay error", zap.Error(err))
	}
}
