package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/creator-leaderboard/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory SnapshotStore keyed the same way the Postgres
// tables are, so upsert semantics can be asserted on directly.
type fakeStore struct {
	snapshots map[string]domain.Snapshot
	legacy    map[domain.Platform][]domain.LegacyPage
	entrants  []domain.NewEntrant
	avatars   map[string]domain.AvatarCacheEntry

	upsertCalls       int
	insertCalls       int
	avatarUpsertCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		snapshots: make(map[string]domain.Snapshot),
		legacy:    make(map[domain.Platform][]domain.LegacyPage),
		avatars:   make(map[string]domain.AvatarCacheEntry),
	}
}

func snapshotKey(platform domain.Platform, anchor time.Time) string {
	return fmt.Sprintf("%s/%s", platform, anchor.Format(time.DateOnly))
}

func (s *fakeStore) UpsertSnapshot(_ context.Context, snap domain.Snapshot) error {
	s.upsertCalls++
	s.snapshots[snapshotKey(snap.Platform, snap.PeriodAnchor)] = snap
	return nil
}

func (s *fakeStore) GetSnapshot(_ context.Context, platform domain.Platform, anchor time.Time) (*domain.Snapshot, error) {
	snap, ok := s.snapshots[snapshotKey(platform, anchor)]
	if !ok {
		return nil, domain.ErrNoSnapshot
	}
	return &snap, nil
}

func (s *fakeStore) GetLatestAtOrBefore(_ context.Context, platform domain.Platform, anchor time.Time) (*domain.Snapshot, error) {
	return s.latest(platform, func(a time.Time) bool { return !a.After(anchor) })
}

func (s *fakeStore) GetLatestBefore(_ context.Context, platform domain.Platform, anchor time.Time) (*domain.Snapshot, error) {
	return s.latest(platform, func(a time.Time) bool { return a.Before(anchor) })
}

func (s *fakeStore) latest(platform domain.Platform, match func(time.Time) bool) (*domain.Snapshot, error) {
	var best *domain.Snapshot
	for _, snap := range s.snapshots {
		if snap.Platform != platform || !match(snap.PeriodAnchor) {
			continue
		}
		if best == nil || snap.PeriodAnchor.After(best.PeriodAnchor) {
			copied := snap
			best = &copied
		}
	}
	if best == nil {
		return nil, domain.ErrNoSnapshot
	}
	return best, nil
}

func (s *fakeStore) GetLegacyPages(_ context.Context, platform domain.Platform) ([]domain.LegacyPage, error) {
	return s.legacy[platform], nil
}

func (s *fakeStore) InsertNewEntrants(_ context.Context, entrants []domain.NewEntrant) error {
	s.insertCalls++
	s.entrants = append(s.entrants, entrants...)
	return nil
}

func (s *fakeStore) ListNewEntrants(_ context.Context, platform domain.Platform, limit int) ([]domain.NewEntrant, error) {
	var out []domain.NewEntrant
	for _, e := range s.entrants {
		if e.Platform == platform {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) GetAvatar(_ context.Context, platform domain.Platform, personID string) (*domain.AvatarCacheEntry, error) {
	entry, ok := s.avatars[string(platform)+"/"+personID]
	if !ok {
		return nil, domain.ErrAvatarNotCached
	}
	return &entry, nil
}

func (s *fakeStore) UpsertAvatar(_ context.Context, entry domain.AvatarCacheEntry) error {
	s.avatarUpsertCalls++
	s.avatars[string(entry.Platform)+"/"+entry.PersonID] = entry
	return nil
}

// fakeCache is an in-memory LatestCache.
type fakeCache struct {
	latest   map[domain.Platform]domain.Snapshot
	setCalls int
}

func newFakeCache() *fakeCache {
	return &fakeCache{latest: make(map[domain.Platform]domain.Snapshot)}
}

func (c *fakeCache) SetLatest(_ context.Context, snap domain.Snapshot) error {
	c.setCalls++
	c.latest[snap.Platform] = snap
	return nil
}

func (c *fakeCache) GetLatest(_ context.Context, platform domain.Platform) (*domain.Snapshot, error) {
	snap, ok := c.latest[platform]
	if !ok {
		return nil, domain.ErrNoSnapshot
	}
	return &snap, nil
}

// fakeSource scripts provider responses per call.
type fakeSource struct {
	fetchTop   func(platform domain.Platform, limit int) ([]domain.RawItem, error)
	fetchStats func(platform domain.Platform, query string) (domain.RawItem, error)

	topCalls   int
	statsCalls int
}

func (f *fakeSource) FetchTop(_ context.Context, platform domain.Platform, limit int) ([]domain.RawItem, error) {
	f.topCalls++
	return f.fetchTop(platform, limit)
}

func (f *fakeSource) FetchStatistics(_ context.Context, platform domain.Platform, query string) (domain.RawItem, error) {
	f.statsCalls++
	if f.fetchStats == nil {
		return nil, fmt.Errorf("unexpected statistics call for %s/%s", platform, query)
	}
	return f.fetchStats(platform, query)
}

type fakePublisher struct {
	published []domain.NewEntrant
	err       error
}

func (p *fakePublisher) PublishNewEntrants(_ context.Context, entrants []domain.NewEntrant) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, entrants...)
	return nil
}

type fakeHub struct {
	refreshes []domain.Platform
	entrants  map[domain.Platform][]domain.NewEntrant
}

func newFakeHub() *fakeHub {
	return &fakeHub{entrants: make(map[domain.Platform][]domain.NewEntrant)}
}

func (h *fakeHub) BroadcastRefresh(platform domain.Platform, _ *domain.TopList) {
	h.refreshes = append(h.refreshes, platform)
}

func (h *fakeHub) BroadcastNewEntrants(platform domain.Platform, entrants []domain.NewEntrant) {
	h.entrants[platform] = append(h.entrants[platform], entrants...)
}

// rawRow builds a well-formed provider row.
func rawRow(username, name string, followers int) domain.RawItem {
	return domain.RawItem{
		"username":    username,
		"displayName": name,
		"followers":   float64(followers),
	}
}

// rawRows builds n well-formed rows with usernames prefix0..prefixN-1.
func rawRows(prefix string, n int) []domain.RawItem {
	rows := make([]domain.RawItem, n)
	for i := range rows {
		rows[i] = rawRow(
			fmt.Sprintf("%s%d", prefix, i),
			fmt.Sprintf("Creator %s%d", prefix, i),
			1000-i,
		)
	}
	return rows
}
