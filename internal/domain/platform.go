package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Platform represents the source platform for downloads
type Platform string

const (
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
	PlatformFacebook  Platform = "facebook"
	PlatformSora      Platform = "sora"
)

// AllPlatforms lists every supported platform
var AllPlatforms = []Platform{
	PlatformTikTok,
	PlatformInstagram,
	PlatformYouTube,
	PlatformFacebook,
	PlatformSora,
}

// platformHosts maps a platform to the host suffixes its URLs may use
var platformHosts = map[Platform][]string{
	PlatformTikTok:    {"tiktok.com"},
	PlatformInstagram: {"instagram.com"},
	PlatformYouTube:   {"youtube.com", "youtu.be"},
	PlatformFacebook:  {"facebook.com", "fb.watch"},
	PlatformSora:      {"sora.com", "sora.chatgpt.com"},
}

// Quality is the requested quality tier
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// ValidatePlatform checks if a platform is valid
func ValidatePlatform(platform Platform) bool {
	_, ok := platformHosts[platform]
	return ok
}

// ValidateQuality checks if a quality tier is valid
func ValidateQuality(quality Quality) bool {
	return quality == QualityHigh || quality == QualityMedium || quality == QualityLow
}

// DetectPlatform detects the platform from a URL host
func DetectPlatform(rawURL string) Platform {
	host := urlHost(rawURL)
	if host == "" {
		return ""
	}
	for _, p := range AllPlatforms {
		if hostMatches(host, platformHosts[p]) {
			return p
		}
	}
	return ""
}

// ValidateURL checks that rawURL is an http(s) URL belonging to platform
func ValidateURL(platform Platform, rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid URL: %s", rawURL)
	}
	hosts, ok := platformHosts[platform]
	if !ok {
		return fmt.Errorf("invalid platform: %s", platform)
	}
	if !hostMatches(strings.ToLower(u.Hostname()), hosts) {
		return fmt.Errorf("URL must be from %s: %s", platform, rawURL)
	}
	return nil
}

func urlHost(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func hostMatches(host string, suffixes []string) bool {
	for _, s := range suffixes {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}
