package app

import (
	"fmt"
	"time"

	"github.com/yourusername/social-dl-go/internal/domain"
)

// qualityPolicy is the extraction constraint for one quality tier
type qualityPolicy struct {
	format    string
	minHeight int
	maxHeight int
}

var qualityPolicies = map[domain.Quality]qualityPolicy{
	domain.QualityHigh: {
		format:    "bestvideo+bestaudio/best",
		minHeight: 720,
	},
	domain.QualityMedium: {
		format:    "bestvideo[height<=720]+bestaudio/best[height<=720]",
		maxHeight: 720,
	},
	domain.QualityLow: {
		format:    "bestvideo[height<=480]+bestaudio/best[height<=480]",
		maxHeight: 480,
	},
}

// FormatSelector maps a platform and quality tier to extraction options
type FormatSelector struct {
	socketTimeout time.Duration
	retries       int
}

// NewFormatSelector creates a selector using the configured network policy
func NewFormatSelector(config *domain.DownloadConfig) *FormatSelector {
	return &FormatSelector{
		socketTimeout: config.SocketTimeout,
		retries:       config.Retries,
	}
}

// Select returns the extraction options for platform and quality
func (s *FormatSelector) Select(platform domain.Platform, quality domain.Quality) (domain.FetchOptions, error) {
	if !domain.ValidatePlatform(platform) {
		return domain.FetchOptions{}, fmt.Errorf("invalid platform: %s", platform)
	}
	policy, ok := qualityPolicies[quality]
	if !ok {
		return domain.FetchOptions{}, fmt.Errorf("invalid quality: %s", quality)
	}

	return domain.FetchOptions{
		Platform:      platform,
		Quality:       quality,
		Format:        policy.format,
		MinHeight:     policy.minHeight,
		MaxHeight:     policy.maxHeight,
		SocketTimeout: s.socketTimeout,
		Retries:       s.retries,
	}, nil
}

// Satisfiable reports whether any reported format meets the height constraint
// of opts. Formats without a known height are ignored. When formats are listed
// but none reports a height, a minimum height counts as unmet; an empty list
// cannot be judged and is treated as met.
func Satisfiable(opts domain.FetchOptions, formats []domain.Format) bool {
	known := false
	for _, f := range formats {
		if f.Height <= 0 {
			continue
		}
		known = true
		if opts.MinHeight > 0 && f.Height < opts.MinHeight {
			continue
		}
		if opts.MaxHeight > 0 && f.Height > opts.MaxHeight {
			continue
		}
		return true
	}
	if known {
		return false
	}
	return len(formats) == 0 || opts.MinHeight <= 0
}

// bestHeight returns the tallest known format height, or 0
func bestHeight(formats []domain.Format) int {
	best := 0
	for _, f := range formats {
		if f.Height > best {
			best = f.Height
		}
	}
	return best
}
