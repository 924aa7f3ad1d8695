package domain

import (
	"time"
)

// RawItem is one creator row exactly as the statistics provider returned
// it. Field names and nesting vary by platform and by provider response
// version; the normalizer is the only component that interprets them.
type RawItem map[string]interface{}

// TopItem is the canonical, API-facing shape of one leaderboard row.
type TopItem struct {
	Rank        int      `json:"rank"`
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Username    string   `json:"username,omitempty"`
	Avatar      string   `json:"avatar,omitempty"`
	Followers   int64    `json:"followers"`
	Platform    Platform `json:"platform"`
}

// TopList is the public read API response for one platform.
type TopList struct {
	FetchedAt   time.Time  `json:"fetched_at"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
	Items       []TopItem  `json:"items"`
}

// Snapshot is one full top-N fetch stored against a period anchor.
// RawItems is the pre-normalization provider payload; readers must run
// it through the normalizer on every read.
type Snapshot struct {
	Platform     Platform  `json:"platform"`
	Cadence      Cadence   `json:"cadence"`
	PeriodAnchor time.Time `json:"period_anchor"`
	RawItems     []RawItem `json:"raw_items"`
	FetchedAt    time.Time `json:"fetched_at"`
	LimitSize    int       `json:"limit_size"`
}

// LegacyPage is one row of the older page-keyed cache table, kept for
// backward compatibility as the second read-path tier.
type LegacyPage struct {
	Platform  Platform
	Page      int
	RawItems  []RawItem
	UpdatedAt time.Time
}

// NewEntrant records a creator present in the current snapshot but absent
// from the previous one. Rows are append-only.
type NewEntrant struct {
	Platform    Platform  `json:"platform"`
	RunAt       time.Time `json:"run_at"`
	ProfileID   string    `json:"profile_id"`
	Handle      string    `json:"handle,omitempty"`
	DisplayName string    `json:"display_name"`
	Rank        int       `json:"rank"`
	Audience    int64     `json:"audience"`
	Raw         RawItem   `json:"raw,omitempty"`
}

// AvatarCacheEntry caches one creator's resolved profile picture. A miss
// (the provider returned no avatar) is cached too, distinguished only by
// an empty AvatarURL.
type AvatarCacheEntry struct {
	Platform    Platform  `json:"platform"`
	PersonID    string    `json:"person_id"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Username    string    `json:"username,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Fresh reports whether the entry is still inside the freshness window.
func (e AvatarCacheEntry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.FetchedAt) <= ttl
}

// RefreshResult aggregates the outcome of one orchestrator run across
// platforms. A partially failed run is still a successful HTTP call;
// callers must inspect Errors.
type RefreshResult struct {
	Refreshed []string  `json:"refreshed"`
	Errors    []string  `json:"errors,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// AvatarRequest asks for avatar enrichment of a batch of creators.
// DisplayNames and Usernames are optional hints keyed by creator ID,
// used to pick a better provider query and to fill the cache row.
type AvatarRequest struct {
	Platform     Platform          `json:"platform"`
	IDs          []string          `json:"ids"`
	DisplayNames map[string]string `json:"displayNames,omitempty"`
	Usernames    map[string]string `json:"usernames,omitempty"`
}

// AvatarInfo is one resolved avatar in an enrichment response.
type AvatarInfo struct {
	Avatar string `json:"avatar,omitempty"`
}
