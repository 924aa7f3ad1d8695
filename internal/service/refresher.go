package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/creator-leaderboard/internal/config"
	"github.com/creator-leaderboard/internal/diff"
	"github.com/creator-leaderboard/internal/domain"
	"github.com/creator-leaderboard/internal/metrics"
	"github.com/creator-leaderboard/internal/normalize"
	"github.com/creator-leaderboard/internal/provider"
)

// Broadcaster pushes refresh results to connected clients. Implemented by
// the websocket hub; nil disables pushes.
type Broadcaster interface {
	BroadcastRefresh(platform domain.Platform, list *domain.TopList)
	BroadcastNewEntrants(platform domain.Platform, entrants []domain.NewEntrant)
}

// Refresher drives the full refresh pipeline for each platform: fetch the
// top list, normalize, gate on data quality, diff against the previous
// snapshot, persist, and fan out events. Platforms are processed
// sequentially with a short delay between them out of respect for the
// provider's rate limits; one platform's failure never aborts the run.
type Refresher struct {
	provider  domain.StatsSource
	store     domain.SnapshotStore
	cache     domain.LatestCache
	publisher domain.EntrantPublisher
	hub       Broadcaster
	cfg       *config.RefreshConfig
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(time.Duration)
}

// NewRefresher creates a refresh orchestrator. publisher and hub may be
// nil when Kafka or websocket fan-out is disabled.
func NewRefresher(
	statsSource domain.StatsSource,
	store domain.SnapshotStore,
	cache domain.LatestCache,
	publisher domain.EntrantPublisher,
	hub Broadcaster,
	cfg *config.RefreshConfig,
	logger *slog.Logger,
) *Refresher {
	return &Refresher{
		provider:  statsSource,
		store:     store,
		cache:     cache,
		publisher: publisher,
		hub:       hub,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// RefreshAll refreshes the given platforms in order. The result always
// carries both the refreshed list and the per-platform errors; partial
// failure is the expected steady state, not an exception.
func (r *Refresher) RefreshAll(ctx context.Context, platforms []domain.Platform) domain.RefreshResult {
	if len(platforms) == 0 {
		platforms = domain.AllPlatforms
	}

	result := domain.RefreshResult{
		Refreshed: []string{},
		FetchedAt: r.now(),
	}

	for i, platform := range platforms {
		if i > 0 {
			r.sleep(r.cfg.PlatformDelay)
		}

		if err := r.refreshPlatform(ctx, platform); err != nil {
			metrics.RefreshRuns.WithLabelValues(string(platform), "error").Inc()
			r.logger.Error("platform refresh failed", "platform", platform, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", platform, err))
			continue
		}

		metrics.RefreshRuns.WithLabelValues(string(platform), "ok").Inc()
		result.Refreshed = append(result.Refreshed, string(platform))
	}

	return result
}

func (r *Refresher) refreshPlatform(ctx context.Context, platform domain.Platform) error {
	raw, err := r.fetchWithRetry(ctx, platform)
	if err != nil {
		return err
	}

	items := normalize.Items(platform, raw)

	// Quality gate: a mostly-empty batch would diff as a wall of bogus
	// new entrants. Skip both the snapshot and the diff so the next run
	// compares against the last good snapshot instead.
	if frac := diff.QualityFraction(items); frac >= r.cfg.QualityThreshold {
		metrics.RefreshRuns.WithLabelValues(string(platform), "low_quality").Inc()
		return fmt.Errorf("unreliable fetch: %s of items have placeholder names or zero followers",
			strconv.FormatFloat(frac, 'f', 2, 64))
	}

	runAt := r.now()
	anchor := domain.Cadence(r.cfg.Cadence).Anchor(runAt)

	previous, err := r.store.GetLatestBefore(ctx, platform, anchor)
	if err != nil && !errors.Is(err, domain.ErrNoSnapshot) {
		return fmt.Errorf("reading previous snapshot: %w", err)
	}

	snap := domain.Snapshot{
		Platform:     platform,
		Cadence:      domain.Cadence(r.cfg.Cadence),
		PeriodAnchor: anchor,
		RawItems:     raw,
		FetchedAt:    runAt,
		LimitSize:    r.cfg.TopSize,
	}
	if err := r.store.UpsertSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("storing snapshot: %w", err)
	}

	if cacheErr := r.cache.SetLatest(ctx, snap); cacheErr != nil {
		r.logger.Warn("latest cache update failed", "platform", platform, "error", cacheErr)
	}

	if r.hub != nil {
		r.hub.BroadcastRefresh(platform, &domain.TopList{
			FetchedAt:   snap.FetchedAt,
			PeriodStart: &snap.PeriodAnchor,
			Items:       items,
		})
	}

	// First-ever run for a platform establishes the baseline: everything
	// is technically new, so diffing would only produce noise.
	if previous == nil {
		r.logger.Info("baseline snapshot stored, skipping diff",
			"platform", platform,
			"period_anchor", anchor.Format(time.DateOnly),
			"items", len(items),
		)
		return nil
	}

	previousItems := normalize.Items(platform, previous.RawItems)
	entrants := diff.NewEntrants(items, previousItems, runAt)
	if len(entrants) == 0 {
		r.logger.Info("refresh complete, no new entrants",
			"platform", platform,
			"period_anchor", anchor.Format(time.DateOnly),
		)
		return nil
	}

	if err := r.store.InsertNewEntrants(ctx, entrants); err != nil {
		return fmt.Errorf("storing new entrants: %w", err)
	}
	metrics.NewEntrantsFound.WithLabelValues(string(platform)).Add(float64(len(entrants)))

	if r.publisher != nil {
		if err := r.publisher.PublishNewEntrants(ctx, entrants); err != nil {
			// Entrants are already durable; losing the event fan-out is
			// worth a warning, not a failed run.
			r.logger.Warn("entrant publish failed", "platform", platform, "error", err)
		}
	}
	if r.hub != nil {
		r.hub.BroadcastNewEntrants(platform, entrants)
	}

	r.logger.Info("refresh complete",
		"platform", platform,
		"period_anchor", anchor.Format(time.DateOnly),
		"items", len(items),
		"new_entrants", len(entrants),
	)
	return nil
}

// fetchWithRetry fetches the top list, retrying exactly once after a
// fixed backoff when the provider answers with 429 or a 5xx.
func (r *Refresher) fetchWithRetry(ctx context.Context, platform domain.Platform) ([]domain.RawItem, error) {
	raw, err := r.provider.FetchTop(ctx, platform, r.cfg.TopSize)
	if err == nil {
		return raw, nil
	}

	var upstream *provider.UpstreamError
	if !errors.As(err, &upstream) || !upstream.Retryable() {
		return nil, err
	}

	r.logger.Warn("transient upstream failure, retrying once",
		"platform", platform,
		"status", upstream.StatusCode,
		"backoff", r.cfg.RetryBackoff,
	)
	r.sleep(r.cfg.RetryBackoff)

	return r.provider.FetchTop(ctx, platform, r.cfg.TopSize)
}
