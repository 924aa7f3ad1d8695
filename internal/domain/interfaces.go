package domain

import (
	"context"
	"time"
)

// StatsSource fetches creator statistics from the upstream provider.
type StatsSource interface {
	// FetchTop returns the raw top-N rows for a platform, merging pages
	// as needed. limit is 100 or 200.
	FetchTop(ctx context.Context, platform Platform, limit int) ([]RawItem, error)
	// FetchStatistics returns the raw per-creator statistics object for a
	// free-form identifier (username, handle or provider ID).
	FetchStatistics(ctx context.Context, platform Platform, query string) (RawItem, error)
}

// SnapshotStore persists snapshots, new entrants and the avatar cache.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snap Snapshot) error
	GetSnapshot(ctx context.Context, platform Platform, anchor time.Time) (*Snapshot, error)
	// GetLatestAtOrBefore returns the newest snapshot whose anchor is at or
	// before the given anchor, or ErrNoSnapshot.
	GetLatestAtOrBefore(ctx context.Context, platform Platform, anchor time.Time) (*Snapshot, error)
	// GetLatestBefore returns the newest snapshot strictly before the given
	// anchor, or ErrNoSnapshot. This is the diff engine's comparison basis.
	GetLatestBefore(ctx context.Context, platform Platform, anchor time.Time) (*Snapshot, error)

	GetLegacyPages(ctx context.Context, platform Platform) ([]LegacyPage, error)

	InsertNewEntrants(ctx context.Context, entrants []NewEntrant) error
	ListNewEntrants(ctx context.Context, platform Platform, limit int) ([]NewEntrant, error)

	GetAvatar(ctx context.Context, platform Platform, personID string) (*AvatarCacheEntry, error)
	UpsertAvatar(ctx context.Context, entry AvatarCacheEntry) error
}

// LatestCache is the rolling low-latency cache of the most recent fetch
// per platform, consulted before the durable snapshot store.
type LatestCache interface {
	SetLatest(ctx context.Context, snap Snapshot) error
	GetLatest(ctx context.Context, platform Platform) (*Snapshot, error)
}

// EntrantPublisher emits new-entrant events for downstream consumers.
type EntrantPublisher interface {
	PublishNewEntrants(ctx context.Context, entrants []NewEntrant) error
}
