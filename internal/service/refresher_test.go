package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/creator-leaderboard/internal/config"
	"github.com/creator-leaderboard/internal/domain"
	"github.com/creator-leaderboard/internal/provider"
)

func newTestRefresher(store *fakeStore, cache *fakeCache, source *fakeSource, publisher *fakePublisher, hub *fakeHub) *Refresher {
	cfg := config.DefaultConfig()
	var pub domain.EntrantPublisher
	if publisher != nil {
		pub = publisher
	}
	var b Broadcaster
	if hub != nil {
		b = hub
	}
	r := NewRefresher(source, store, cache, pub, b, &cfg.Refresh, discardLogger())
	r.now = func() time.Time { return fixedNow }
	r.sleep = func(time.Duration) {}
	return r
}

func TestRefreshBaselineRunStoresSnapshotWithoutEntrants(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	source := &fakeSource{
		fetchTop: func(domain.Platform, int) ([]domain.RawItem, error) {
			return rawRows("yt", 10), nil
		},
	}
	hub := newFakeHub()
	r := newTestRefresher(store, cache, source, &fakePublisher{}, hub)

	result := r.RefreshAll(context.Background(), []domain.Platform{domain.PlatformYouTube})
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if len(result.Refreshed) != 1 || result.Refreshed[0] != "youtube" {
		t.Fatalf("unexpected refreshed list: %v", result.Refreshed)
	}

	anchor := domain.CadenceWeekly.Anchor(fixedNow)
	snap, ok := store.snapshots[snapshotKey(domain.PlatformYouTube, anchor)]
	if !ok {
		t.Fatal("snapshot not stored")
	}
	if len(snap.RawItems) != 10 || snap.Cadence != domain.CadenceWeekly || snap.LimitSize != 200 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if len(store.entrants) != 0 {
		t.Fatalf("baseline run must not record entrants, got %d", len(store.entrants))
	}
	if cache.setCalls != 1 {
		t.Fatalf("latest cache not updated, setCalls = %d", cache.setCalls)
	}
	if len(hub.refreshes) != 1 {
		t.Fatalf("refresh broadcast missing, got %d", len(hub.refreshes))
	}
	if len(hub.entrants[domain.PlatformYouTube]) != 0 {
		t.Fatal("baseline run must not broadcast entrants")
	}
}

func TestRefreshDetectsAndFansOutNewEntrants(t *testing.T) {
	store := newFakeStore()
	previousAnchor := domain.CadenceWeekly.Anchor(fixedNow).AddDate(0, 0, -7)
	store.snapshots[snapshotKey(domain.PlatformYouTube, previousAnchor)] = domain.Snapshot{
		Platform:     domain.PlatformYouTube,
		PeriodAnchor: previousAnchor,
		RawItems:     []domain.RawItem{rawRow("a", "Creator A", 100), rawRow("b", "Creator B", 90)},
	}

	source := &fakeSource{
		fetchTop: func(domain.Platform, int) ([]domain.RawItem, error) {
			return []domain.RawItem{
				rawRow("a", "Creator A", 110),
				rawRow("c", "Creator C", 95),
			}, nil
		},
	}
	publisher := &fakePublisher{}
	hub := newFakeHub()
	r := newTestRefresher(store, newFakeCache(), source, publisher, hub)

	result := r.RefreshAll(context.Background(), []domain.Platform{domain.PlatformYouTube})
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}

	if len(store.entrants) != 1 || store.entrants[0].ProfileID != "c" {
		t.Fatalf("expected one entrant c, got %+v", store.entrants)
	}
	entrant := store.entrants[0]
	if entrant.Rank != 2 || entrant.Audience != 95 || !entrant.RunAt.Equal(fixedNow) {
		t.Fatalf("unexpected entrant: %+v", entrant)
	}
	if len(publisher.published) != 1 {
		t.Fatalf("expected entrant published, got %d", len(publisher.published))
	}
	if len(hub.entrants[domain.PlatformYouTube]) != 1 {
		t.Fatalf("expected entrant broadcast, got %d", len(hub.entrants[domain.PlatformYouTube]))
	}
}

func TestRefreshSamePeriodOverwritesSnapshot(t *testing.T) {
	store := newFakeStore()
	calls := 0
	source := &fakeSource{
		fetchTop: func(domain.Platform, int) ([]domain.RawItem, error) {
			calls++
			if calls == 1 {
				return rawRows("first", 5), nil
			}
			return rawRows("second", 5), nil
		},
	}
	r := newTestRefresher(store, newFakeCache(), source, nil, nil)

	r.RefreshAll(context.Background(), []domain.Platform{domain.PlatformYouTube})
	r.RefreshAll(context.Background(), []domain.Platform{domain.PlatformYouTube})

	if len(store.snapshots) != 1 {
		t.Fatalf("same-period refreshes must share one row, got %d", len(store.snapshots))
	}
	anchor := domain.CadenceWeekly.Anchor(fixedNow)
	snap := store.snapshots[snapshotKey(domain.PlatformYouTube, anchor)]
	if snap.RawItems[0]["username"] != "second0" {
		t.Fatalf("expected last write to win, got %v", snap.RawItems[0]["username"])
	}
	// Both runs compare against a snapshot strictly before the current
	// period, so a mid-period rerun never diffs against itself.
	if len(store.entrants) != 0 {
		t.Fatalf("mid-period rerun produced entrants: %+v", store.entrants)
	}
}

func TestRefreshQualityGateSkipsStoreAndDiff(t *testing.T) {
	store := newFakeStore()
	previousAnchor := domain.CadenceWeekly.Anchor(fixedNow).AddDate(0, 0, -7)
	store.snapshots[snapshotKey(domain.PlatformYouTube, previousAnchor)] = domain.Snapshot{
		Platform:     domain.PlatformYouTube,
		PeriodAnchor: previousAnchor,
		RawItems:     rawRows("prev", 5),
	}

	source := &fakeSource{
		fetchTop: func(domain.Platform, int) ([]domain.RawItem, error) {
			// Only usernames: every row has a placeholder display name and
			// zero followers.
			rows := make([]domain.RawItem, 10)
			for i := range rows {
				rows[i] = domain.RawItem{"username": "u"}
			}
			return rows, nil
		},
	}
	r := newTestRefresher(store, newFakeCache(), source, nil, nil)

	result := r.RefreshAll(context.Background(), []domain.Platform{domain.PlatformYouTube})
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "unreliable fetch") {
		t.Fatalf("expected quality gate error, got %v", result.Errors)
	}
	if len(result.Refreshed) != 0 {
		t.Fatalf("gated platform must not count as refreshed: %v", result.Refreshed)
	}
	if store.upsertCalls != 0 {
		t.Fatal("gated batch must not be stored")
	}
	if len(store.entrants) != 0 {
		t.Fatal("gated batch must not be diffed")
	}
}

func TestRefreshQualityGateTripsAtThreshold(t *testing.T) {
	// Exactly 8 of 10 rows degraded: the 0.8 fraction sits on the
	// threshold and must still be gated.
	mixedRows := func(degraded int) []domain.RawItem {
		rows := make([]domain.RawItem, 10)
		for i := range rows {
			if i < degraded {
				rows[i] = domain.RawItem{"username": fmt.Sprintf("ghost%d", i)}
			} else {
				rows[i] = rawRow(fmt.Sprintf("ok%d", i), fmt.Sprintf("Creator %d", i), 100+i)
			}
		}
		return rows
	}

	store := newFakeStore()
	previousAnchor := domain.CadenceWeekly.Anchor(fixedNow).AddDate(0, 0, -7)
	store.snapshots[snapshotKey(domain.PlatformYouTube, previousAnchor)] = domain.Snapshot{
		Platform:     domain.PlatformYouTube,
		PeriodAnchor: previousAnchor,
		RawItems:     rawRows("prev", 5),
	}

	batch := mixedRows(8)
	source := &fakeSource{
		fetchTop: func(domain.Platform, int) ([]domain.RawItem, error) {
			return batch, nil
		},
	}
	r := newTestRefresher(store, newFakeCache(), source, nil, nil)

	result := r.RefreshAll(context.Background(), []domain.Platform{domain.PlatformYouTube})
	if len(result.Errors) != 1 {
		t.Fatalf("80%% degraded batch must be gated, got errors %v", result.Errors)
	}
	if store.upsertCalls != 0 || len(store.entrants) != 0 {
		t.Fatalf("gated batch leaked: upserts=%d entrants=%d", store.upsertCalls, len(store.entrants))
	}

	// 7 of 10 degraded is below the threshold and goes through.
	batch = mixedRows(7)
	result = r.RefreshAll(context.Background(), []domain.Platform{domain.PlatformYouTube})
	if len(result.Errors) != 0 {
		t.Fatalf("70%% degraded batch should pass the gate: %v", result.Errors)
	}
	if store.upsertCalls != 1 {
		t.Fatalf("passing batch not stored, upserts = %d", store.upsertCalls)
	}
}

func TestRefreshRetriesOnceOnRateLimit(t *testing.T) {
	store := newFakeStore()
	calls := 0
	source := &fakeSource{
		fetchTop: func(domain.Platform, int) ([]domain.RawItem, error) {
			calls++
			if calls == 1 {
				return nil, &provider.UpstreamError{StatusCode: http.StatusTooManyRequests}
			}
			return rawRows("yt", 5), nil
		},
	}
	r := newTestRefresher(store, newFakeCache(), source, nil, nil)

	var slept []time.Duration
	r.sleep = func(d time.Duration) { slept = append(slept, d) }

	result := r.RefreshAll(context.Background(), []domain.Platform{domain.PlatformYouTube})
	if len(result.Errors) != 0 {
		t.Fatalf("retry should have recovered, got %v", result.Errors)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 fetch attempts, got %d", calls)
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Fatalf("expected one 2s backoff, got %v", slept)
	}
	if store.upsertCalls != 1 {
		t.Fatal("snapshot not stored after successful retry")
	}
}

func TestRefreshRetryFailureSurfacesError(t *testing.T) {
	calls := 0
	source := &fakeSource{
		fetchTop: func(domain.Platform, int) ([]domain.RawItem, error) {
			calls++
			return nil, &provider.UpstreamError{StatusCode: http.StatusInternalServerError}
		},
	}
	r := newTestRefresher(newFakeStore(), newFakeCache(), source, nil, nil)

	result := r.RefreshAll(context.Background(), []domain.Platform{domain.PlatformYouTube})
	if calls != 2 {
		t.Fatalf("expected exactly one retry, got %d attempts", calls)
	}
	if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0], "youtube:") {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
}

func TestRefreshDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	source := &fakeSource{
		fetchTop: func(domain.Platform, int) ([]domain.RawItem, error) {
			calls++
			return nil, &provider.UpstreamError{StatusCode: http.StatusUnauthorized}
		},
	}
	r := newTestRefresher(newFakeStore(), newFakeCache(), source, nil, nil)

	result := r.RefreshAll(context.Background(), []domain.Platform{domain.PlatformYouTube})
	if calls != 1 {
		t.Fatalf("401 must not be retried, got %d attempts", calls)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
}

func TestRefreshPartialFailureContinues(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{
		fetchTop: func(platform domain.Platform, _ int) ([]domain.RawItem, error) {
			if platform == domain.PlatformYouTube {
				return nil, errors.New("connection refused")
			}
			return rawRows(string(platform), 5), nil
		},
	}
	r := newTestRefresher(store, newFakeCache(), source, nil, nil)

	result := r.RefreshAll(context.Background(), nil)
	if len(result.Refreshed) != 2 {
		t.Fatalf("expected the other platforms to refresh, got %v", result.Refreshed)
	}
	if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0], "youtube:") {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if store.upsertCalls != 2 {
		t.Fatalf("expected 2 snapshots stored, got %d", store.upsertCalls)
	}
}

func TestRefreshPausesBetweenPlatforms(t *testing.T) {
	source := &fakeSource{
		fetchTop: func(platform domain.Platform, _ int) ([]domain.RawItem, error) {
			return rawRows(string(platform), 1), nil
		},
	}
	r := newTestRefresher(newFakeStore(), newFakeCache(), source, nil, nil)

	var slept []time.Duration
	r.sleep = func(d time.Duration) { slept = append(slept, d) }

	r.RefreshAll(context.Background(), domain.AllPlatforms)
	if len(slept) != len(domain.AllPlatforms)-1 {
		t.Fatalf("expected %d pauses, got %d", len(domain.AllPlatforms)-1, len(slept))
	}
	for _, d := range slept {
		if d != time.Second {
			t.Fatalf("pause = %v, want 1s", d)
		}
	}
}

func TestRefreshPublishFailureDoesNotFailRun(t *testing.T) {
	store := newFakeStore()
	previousAnchor := domain.CadenceWeekly.Anchor(fixedNow).AddDate(0, 0, -7)
	store.snapshots[snapshotKey(domain.PlatformYouTube, previousAnchor)] = domain.Snapshot{
		Platform:     domain.PlatformYouTube,
		PeriodAnchor: previousAnchor,
		RawItems:     []domain.RawItem{rawRow("a", "Creator A", 100)},
	}
	source := &fakeSource{
		fetchTop: func(domain.Platform, int) ([]domain.RawItem, error) {
			return []domain.RawItem{rawRow("b", "Creator B", 200)}, nil
		},
	}
	publisher := &fakePublisher{err: errors.New("broker down")}
	r := newTestRefresher(store, newFakeCache(), source, publisher, nil)

	result := r.RefreshAll(context.Background(), []domain.Platform{domain.PlatformYouTube})
	if len(result.Errors) != 0 {
		t.Fatalf("publish failure must not fail the run: %v", result.Errors)
	}
	if len(store.entrants) != 1 {
		t.Fatal("entrant must still be durable")
	}
}
