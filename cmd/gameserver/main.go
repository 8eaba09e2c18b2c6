// Package main provides the game server binary: the WebSocket game
// endpoint plus the JSON auth and status API.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/akeka/terraweb/internal/auth"
	"github.com/akeka/terraweb/internal/config"
	"github.com/akeka/terraweb/internal/game/session"
	"github.com/akeka/terraweb/internal/gameserver"
	"github.com/akeka/terraweb/internal/observability"
	"github.com/akeka/terraweb/internal/server"
	"github.com/akeka/terraweb/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting game server",
		zap.String("addr", cfg.Server.Addr()),
	)

	// Connect to PostgreSQL for player persistence
	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("connecting to database", zap.Error(err))
	}
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)
	players := postgres.NewPlayerRepository(pool.DB())

	tokens := auth.NewService(cfg.Auth)
	registry := session.NewRegistry(logger)

	wsHandler := gameserver.NewWSHandler(tokens, players, registry, logger, cfg.Server, cfg.Game)
	authHandler := gameserver.NewAuthHandler(players, tokens, logger)
	statusHandler := gameserver.NewStatusHandler(pool, registry)
	srv := gameserver.NewServer(cfg.Server, wsHandler, authHandler, statusHandler, logger)

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("http", srv)

	lifecycle.Add("postgres", &server.FuncService{
		StartFn: func() error {
			for {
				time.Sleep(30 * time.Second)
				if err := pool.Health(ctx, 5*time.Second); err != nil {
					logger.Warn("database health check failed", zap.Error(err))
				}
			}
		},
		StopFn: func() {
			pool.Close()
		},
	})

	logger.Info("game server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
