package domain

import (
	"fmt"
	"strings"
)

// Platform identifies a social media data source
type Platform string

const (
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
)

// AllPlatforms lists every supported platform in refresh order
var AllPlatforms = []Platform{PlatformYouTube, PlatformTikTok, PlatformInstagram}

// ParsePlatform validates a platform string from user input
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PlatformYouTube, PlatformTikTok, PlatformInstagram:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPlatform, s)
}

// MetricName returns the ranking metric the statistics provider expects
// for this platform. YouTube ranks by subscribers, everything else by
// followers. This mapping is fixed, not configurable.
func (p Platform) MetricName() string {
	if p == PlatformYouTube {
		return "subscribers"
	}
	return "followers"
}
