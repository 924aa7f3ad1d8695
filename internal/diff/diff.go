// Package diff detects creators that entered the top-N since the previous
// snapshot. It operates on normalized items so that the ID fallback chain
// is applied identically to both sides of the comparison.
package diff

import (
	"time"

	"github.com/creator-leaderboard/internal/domain"
	"github.com/creator-leaderboard/internal/normalize"
)

// NewEntrants returns the items of current whose ID is absent from
// previous, in current rank order. A duplicated ID within current is
// reported once, at its best rank. Callers are responsible for the
// baseline case: with no previous snapshot at all, diffing must be
// skipped entirely rather than reporting the whole list as new.
func NewEntrants(current, previous []domain.TopItem, runAt time.Time) []domain.NewEntrant {
	seen := make(map[string]struct{}, len(previous))
	for _, item := range previous {
		seen[item.ID] = struct{}{}
	}

	var entrants []domain.NewEntrant
	for _, item := range current {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		entrants = append(entrants, domain.NewEntrant{
			Platform:    item.Platform,
			RunAt:       runAt,
			ProfileID:   item.ID,
			Handle:      item.Username,
			DisplayName: item.DisplayName,
			Rank:        item.Rank,
			Audience:    item.Followers,
		})
	}
	return entrants
}

// QualityFraction returns the share of items that look empty: placeholder
// display name or zero followers. A high fraction means the upstream
// payload was degraded and diffing it would produce mass new-entrant
// noise instead of signal.
func QualityFraction(items []domain.TopItem) float64 {
	if len(items) == 0 {
		return 1
	}
	bad := 0
	for _, item := range items {
		if normalize.IsPlaceholderName(item) || item.Followers == 0 {
			bad++
		}
	}
	return float64(bad) / float64(len(items))
}
