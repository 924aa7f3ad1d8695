package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/creator-leaderboard/internal/config"
	"github.com/creator-leaderboard/internal/domain"
	"github.com/creator-leaderboard/internal/metrics"
	"github.com/creator-leaderboard/internal/normalize"
)

// LeaderboardService serves cached leaderboard data to the public API.
// Reads never touch the upstream provider: staleness is acceptable on the
// read path, synchronous upstream latency and cost are not. The one
// exception is avatar enrichment and per-handle live stats, which the UI
// invokes explicitly and which go through the provider on a cache miss.
type LeaderboardService struct {
	store    domain.SnapshotStore
	cache    domain.LatestCache
	provider domain.StatsSource
	cadence  domain.Cadence
	cfg      *config.Config
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(time.Duration)
}

// NewLeaderboardService creates a new leaderboard read service
func NewLeaderboardService(
	store domain.SnapshotStore,
	cache domain.LatestCache,
	provider domain.StatsSource,
	cfg *config.Config,
	logger *slog.Logger,
) *LeaderboardService {
	return &LeaderboardService{
		store:    store,
		cache:    cache,
		provider: provider,
		cadence:  domain.Cadence(cfg.Refresh.Cadence),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// ClampLimit resolves a requested limit to one of the two supported
// tiers. The provider serves fixed 100-row pages, so anything else would
// produce partial-page ambiguity.
func ClampLimit(limit int) int {
	if limit >= 200 {
		return 200
	}
	return 100
}

// GetTop returns the freshest available cached top list for a platform.
// Tier order: rolling latest cache, then the durable snapshot store
// (latest anchor at or before the current period), then the legacy
// page-keyed cache, then ErrNoSnapshot. Stored payloads are raw provider
// rows, so normalization runs on every read.
func (s *LeaderboardService) GetTop(ctx context.Context, platform domain.Platform, limit int) (*domain.TopList, error) {
	limit = ClampLimit(limit)

	if snap, err := s.cache.GetLatest(ctx, platform); err == nil {
		metrics.ReadServes.WithLabelValues(string(platform), "latest_cache").Inc()
		return s.buildTopList(platform, snap, limit), nil
	} else if !errors.Is(err, domain.ErrNoSnapshot) {
		s.logger.Warn("latest cache read failed", "platform", platform, "error", err)
	}

	anchor := s.cadence.Anchor(s.now())
	snap, err := s.store.GetLatestAtOrBefore(ctx, platform, anchor)
	if err == nil {
		metrics.ReadServes.WithLabelValues(string(platform), "snapshot").Inc()
		// Warm the rolling cache so the next read skips Postgres.
		if cacheErr := s.cache.SetLatest(ctx, *snap); cacheErr != nil {
			s.logger.Warn("latest cache writeback failed", "platform", platform, "error", cacheErr)
		}
		return s.buildTopList(platform, snap, limit), nil
	}
	if !errors.Is(err, domain.ErrNoSnapshot) {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	pages, err := s.store.GetLegacyPages(ctx, platform)
	if err != nil {
		return nil, fmt.Errorf("reading legacy cache: %w", err)
	}
	if len(pages) > 0 {
		metrics.ReadServes.WithLabelValues(string(platform), "legacy_cache").Inc()
		var raw []domain.RawItem
		fetchedAt := pages[0].UpdatedAt
		for _, page := range pages {
			raw = append(raw, page.RawItems...)
			if page.UpdatedAt.After(fetchedAt) {
				fetchedAt = page.UpdatedAt
			}
		}
		items := normalize.Items(platform, raw)
		if len(items) > limit {
			items = items[:limit]
		}
		return &domain.TopList{FetchedAt: fetchedAt, Items: items}, nil
	}

	metrics.ReadServes.WithLabelValues(string(platform), "none").Inc()
	return nil, domain.ErrNoSnapshot
}

func (s *LeaderboardService) buildTopList(platform domain.Platform, snap *domain.Snapshot, limit int) *domain.TopList {
	items := normalize.Items(platform, snap.RawItems)
	if len(items) > limit {
		items = items[:limit]
	}
	list := &domain.TopList{
		FetchedAt: snap.FetchedAt,
		Items:     items,
	}
	if !snap.PeriodAnchor.IsZero() {
		anchor := snap.PeriodAnchor
		list.PeriodStart = &anchor
	}
	return list
}

// ListNewEntrants returns recently detected new entrants for a platform
func (s *LeaderboardService) ListNewEntrants(ctx context.Context, platform domain.Platform, limit int) ([]domain.NewEntrant, error) {
	if limit <= 0 || limit > s.cfg.Leaderboard.MaxLimit {
		limit = s.cfg.Leaderboard.DefaultLimit
	}
	entrants, err := s.store.ListNewEntrants(ctx, platform, limit)
	if err != nil {
		return nil, fmt.Errorf("listing new entrants: %w", err)
	}
	return entrants, nil
}

// EnrichAvatars resolves avatars for a batch of creators, serving fresh
// cache entries directly and fetching the rest from the provider's
// per-creator statistics endpoint one at a time, with a short pause
// between upstream calls to avoid bursting it. Provider misses are cached
// with an empty URL so they are not re-fetched for the freshness window.
func (s *LeaderboardService) EnrichAvatars(ctx context.Context, req domain.AvatarRequest) (map[string]domain.AvatarInfo, error) {
	avatars := make(map[string]domain.AvatarInfo, len(req.IDs))
	needsFetch := false

	for _, id := range req.IDs {
		if id == "" {
			continue
		}

		entry, err := s.store.GetAvatar(ctx, req.Platform, id)
		if err == nil && entry.Fresh(s.now(), s.cfg.Avatar.TTL) {
			metrics.AvatarLookups.WithLabelValues(string(req.Platform), "hit").Inc()
			avatars[id] = domain.AvatarInfo{Avatar: entry.AvatarURL}
			continue
		}
		if err == nil {
			metrics.AvatarLookups.WithLabelValues(string(req.Platform), "stale").Inc()
		} else if errors.Is(err, domain.ErrAvatarNotCached) {
			metrics.AvatarLookups.WithLabelValues(string(req.Platform), "miss").Inc()
		} else {
			s.logger.Warn("avatar cache read failed", "platform", req.Platform, "id", id, "error", err)
		}

		if needsFetch {
			s.sleep(s.cfg.Avatar.FetchDelay)
		}
		needsFetch = true

		avatars[id] = s.fetchAvatar(ctx, req, id)
	}

	return avatars, nil
}

func (s *LeaderboardService) fetchAvatar(ctx context.Context, req domain.AvatarRequest, id string) domain.AvatarInfo {
	query := id
	if username := req.Usernames[id]; username != "" {
		query = username
	}

	entry := domain.AvatarCacheEntry{
		Platform:    req.Platform,
		PersonID:    id,
		DisplayName: req.DisplayNames[id],
		Username:    req.Usernames[id],
		FetchedAt:   s.now(),
	}

	row, err := s.provider.FetchStatistics(ctx, req.Platform, query)
	if err != nil {
		s.logger.Warn("avatar fetch failed", "platform", req.Platform, "id", id, "error", err)
		// Cache the miss: a creator with no resolvable avatar should not
		// cost an upstream call on every page view.
	} else if avatar, ok := normalize.Avatar(row); ok {
		entry.AvatarURL = avatar
	}

	if err := s.store.UpsertAvatar(ctx, entry); err != nil {
		s.logger.Warn("avatar cache write failed", "platform", req.Platform, "id", id, "error", err)
	}

	return domain.AvatarInfo{Avatar: entry.AvatarURL}
}

// GetLiveStats fetches a single creator's statistics straight from the
// provider. This is the one public operation with upstream latency; the
// UI calls it for individual profile lookups, never for the leaderboard.
func (s *LeaderboardService) GetLiveStats(ctx context.Context, platform domain.Platform, identifier string) (domain.RawItem, error) {
	if identifier == "" {
		return nil, domain.ErrInvalidRequest
	}
	row, err := s.provider.FetchStatistics(ctx, platform, identifier)
	if err != nil {
		return nil, fmt.Errorf("fetching live stats: %w", err)
	}
	return row, nil
}
