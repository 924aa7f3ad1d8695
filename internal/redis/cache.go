package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/creator-leaderboard/internal/config"
	"github.com/creator-leaderboard/internal/domain"
)

// LatestCache is the rolling low-latency cache: one JSON value per
// platform holding the most recently fetched snapshot. It is rewritten on
// every refresh and consulted first on the read path; the durable store
// in Postgres remains the source of truth.
type LatestCache struct {
	client *redis.Client
	cfg    *config.RedisConfig
	logger *slog.Logger
}

// NewLatestCache creates a new Redis-backed latest cache
func NewLatestCache(cfg *config.RedisConfig, logger *slog.Logger) (*LatestCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &LatestCache{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *LatestCache) Close() error {
	return c.client.Close()
}

// latestKey returns the Redis key for a platform's rolling latest snapshot
func (c *LatestCache) latestKey(platform domain.Platform) string {
	return fmt.Sprintf("leaderboard:%s:latest", platform)
}

// SetLatest overwrites the platform's rolling snapshot
func (c *LatestCache) SetLatest(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.latestKey(snap.Platform), data, c.cfg.LatestTTL).Err(); err != nil {
		return fmt.Errorf("setting latest snapshot: %w", err)
	}
	return nil
}

// GetLatest returns the platform's rolling snapshot, or ErrNoSnapshot
func (c *LatestCache) GetLatest(ctx context.Context, platform domain.Platform) (*domain.Snapshot, error) {
	data, err := c.client.Get(ctx, c.latestKey(platform)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNoSnapshot
		}
		return nil, fmt.Errorf("getting latest snapshot: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling latest snapshot: %w", err)
	}
	return &snap, nil
}
