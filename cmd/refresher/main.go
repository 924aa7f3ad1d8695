// Command refresher runs a single leaderboard refresh cycle and exits.
// It is intended for cron-style scheduling next to the long-running
// server, and as a manual recovery tool.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"strings"

	"github.com/creator-leaderboard/internal/config"
	"github.com/creator-leaderboard/internal/domain"
	"github.com/creator-leaderboard/internal/postgres"
	"github.com/creator-leaderboard/internal/provider"
	"github.com/creator-leaderboard/internal/redis"
	"github.com/creator-leaderboard/internal/service"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	platformList := flag.String("platforms", "", "Comma-separated platforms to refresh (default: all)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var platforms []domain.Platform
	if *platformList != "" {
		for _, p := range strings.Split(*platformList, ",") {
			platform, err := domain.ParsePlatform(strings.TrimSpace(p))
			if err != nil {
				logger.Error("invalid platform", "platform", p)
				os.Exit(1)
			}
			platforms = append(platforms, platform)
		}
	}

	providerClient, err := provider.New(&cfg.Provider, logger)
	if err != nil {
		logger.Error("failed to configure provider client", "error", err)
		os.Exit(1)
	}

	repo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	latestCache, err := redis.NewLatestCache(&cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer latestCache.Close()

	refresher := service.NewRefresher(providerClient, repo, latestCache, nil, nil, &cfg.Refresh, logger)
	result := refresher.RefreshAll(ctx, platforms)

	if err := json.NewEncoder(os.Stdout).Encode(result); err != nil {
		logger.Error("failed to encode result", "error", err)
		os.Exit(1)
	}

	// Partial failure is reported in the body; exit non-zero only when
	// nothing refreshed at all.
	if len(result.Refreshed) == 0 && len(result.Errors) > 0 {
		os.Exit(1)
	}
}
