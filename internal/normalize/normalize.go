// Package normalize maps raw statistics-provider rows into the canonical
// TopItem shape. The provider's field names and nesting vary by platform
// and by response version, so every logical attribute is resolved through
// an ordered list of candidate paths, most specific first, flattest last.
// The package is pure: no I/O, deterministic for the same input.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/creator-leaderboard/internal/domain"
)

// path is an ordered key sequence into a nested raw row. Components are
// lowercase; lookup is case-insensitive.
type path []string

var idPaths = []path{
	{"id", "userid"},
	{"id", "user_id"},
	{"id", "channelid"},
	{"id", "channel_id"},
	{"userid"},
	{"user_id"},
	{"channelid"},
	{"channel_id"},
	{"id"},
	{"username"},
	{"handle"},
}

var usernamePaths = []path{
	{"id", "username"},
	{"id", "handle"},
	{"username"},
	{"handle"},
}

var namePaths = []path{
	{"id", "displayname"},
	{"id", "display_name"},
	{"id", "name"},
	{"statistics", "total", "displayname"},
	{"statistics", "total", "display_name"},
	{"displayname"},
	{"display_name"},
	{"title"},
	{"channeltitle"},
	{"name"},
	{"fullname"},
}

var avatarPaths = []path{
	{"id", "avatar"},
	{"id", "profile_picture"},
	{"thumbnail", "url"},
	{"thumbnails", "default", "url"},
	{"avatar"},
	{"profile_picture"},
	{"thumbnail"},
	{"image"},
}

// followerPaths prefers the platform's own metric name but accepts either,
// nested under statistics.total or flat at the top level.
func followerPaths(platform domain.Platform) []path {
	metric := platform.MetricName()
	return []path{
		{"statistics", "total", metric},
		{"statistics", "total", "subscribers"},
		{"statistics", "total", "followers"},
		{metric},
		{"subscribers"},
		{"followers"},
	}
}

// Items normalizes a merged raw list into canonical TopItems. Rank is the
// 1-based position in the input, so callers must merge pages before
// normalizing to keep rank continuous across pages.
func Items(platform domain.Platform, rows []domain.RawItem) []domain.TopItem {
	items := make([]domain.TopItem, len(rows))
	for i, row := range rows {
		id := ResolveID(platform, row, i)

		name, ok := firstString(row, namePaths)
		if !ok {
			name = id
		}

		item := domain.TopItem{
			Rank:        i + 1,
			ID:          id,
			DisplayName: name,
			Followers:   resolveFollowers(platform, row),
			Platform:    platform,
		}
		if username, ok := firstString(row, usernamePaths); ok {
			item.Username = username
		}
		if avatar, ok := firstString(row, avatarPaths); ok {
			item.Avatar = avatar
		}
		items[i] = item
	}
	return items
}

// ResolveID returns the stable identifier for a raw row: the first match
// in the ID fallback chain, or a synthesized "{platform}-{index}"
// placeholder when nothing usable is present. index is the row's 0-based
// position. The diff engine relies on the same chain so that IDs compare
// consistently across snapshots.
func ResolveID(platform domain.Platform, row domain.RawItem, index int) string {
	if id, ok := firstString(row, idPaths); ok {
		return id
	}
	return fmt.Sprintf("%s-%d", platform, index)
}

// Avatar extracts an avatar URL from a raw per-creator statistics object.
func Avatar(row domain.RawItem) (string, bool) {
	return firstString(row, avatarPaths)
}

// IsPlaceholderName reports whether an item's display name carries no
// information beyond its ID, i.e. every name field was missing upstream.
func IsPlaceholderName(item domain.TopItem) bool {
	return item.DisplayName == "" || item.DisplayName == item.ID
}

func resolveFollowers(platform domain.Platform, row domain.RawItem) int64 {
	for _, p := range followerPaths(platform) {
		if v, ok := lookup(row, p); ok {
			if n, ok := CoerceCount(v); ok {
				return n
			}
		}
	}
	return 0
}

// firstString returns the first candidate path that resolves to a
// non-empty scalar, rendered as a string.
func firstString(row domain.RawItem, paths []path) (string, bool) {
	for _, p := range paths {
		v, ok := lookup(row, p)
		if !ok {
			continue
		}
		if s, ok := stringValue(v); ok {
			return s, true
		}
	}
	return "", false
}

// lookup walks nested maps along a path, matching keys case-insensitively.
func lookup(row domain.RawItem, p path) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(row)
	for _, key := range p {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		v, ok := lookupKey(m, key)
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case domain.RawItem:
		return m, true
	}
	return nil, false
}

func lookupKey(m map[string]interface{}, key string) (interface{}, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func stringValue(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		trimmed := strings.TrimSpace(s)
		return trimmed, trimmed != ""
	case json.Number:
		return s.String(), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	}
	return "", false
}

// CoerceCount converts a follower count to a non-negative integer. Native
// numbers and strings with thousands separators or whitespace are
// accepted; anything else fails, which callers treat as zero. Follower
// counts are a best-effort display metric, never an error source.
func CoerceCount(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return clampCount(int64(n)), true
	case int:
		return clampCount(int64(n)), true
	case int64:
		return clampCount(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return clampCount(i), true
		}
		if f, err := n.Float64(); err == nil {
			return clampCount(int64(f)), true
		}
		return 0, false
	case string:
		cleaned := strings.Map(func(r rune) rune {
			if r == ',' || r == ' ' || r == ' ' {
				return -1
			}
			return r
		}, n)
		if cleaned == "" {
			return 0, false
		}
		if i, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
			return clampCount(i), true
		}
		if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
			return clampCount(int64(f)), true
		}
		return 0, false
	}
	return 0, false
}

func clampCount(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
