package infrastructure

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	ytget "github.com/ytget/ytdlp/v2"
	"go.uber.org/zap"
)

const (
	defaultPlaylistTimeout = 60 * time.Second
	youtubeWatchURL        = "https://www.youtube.com/watch?v=%s"
)

// YouTubePlaylistExpander implements domain.PlaylistExpander with the pure-Go
// YouTube client
type YouTubePlaylistExpander struct {
	timeout  time.Duration
	logger   *zap.Logger
	videoIDs func(ctx context.Context, playlistID string) ([]string, error)
}

// NewYouTubePlaylistExpander creates an expander; timeout bounds one expansion
func NewYouTubePlaylistExpander(timeout time.Duration, logger *zap.Logger) *YouTubePlaylistExpander {
	if timeout <= 0 {
		timeout = defaultPlaylistTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &YouTubePlaylistExpander{
		timeout:  timeout,
		logger:   logger,
		videoIDs: fetchPlaylistVideoIDs,
	}
}

func fetchPlaylistVideoIDs(ctx context.Context, playlistID string) ([]string, error) {
	items, err := ytget.New().GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.VideoID)
	}
	return ids, nil
}

// Expand resolves a playlist URL into watch URLs in playlist order. Duplicate
// and empty ids are skipped.
func (e *YouTubePlaylistExpander) Expand(ctx context.Context, playlistURL string) ([]string, error) {
	playlistID, err := PlaylistID(playlistURL)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ids, err := e.videoIDs(ctx, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to get playlist items: %w", err)
	}

	seen := make(map[string]bool, len(ids))
	urls := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		urls = append(urls, fmt.Sprintf(youtubeWatchURL, id))
	}

	e.logger.Info("Playlist expanded",
		zap.String("playlist_id", playlistID),
		zap.Int("videos", len(urls)))
	return urls, nil
}

// PlaylistID extracts the list= parameter of a YouTube URL
func PlaylistID(playlistURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(playlistURL))
	if err != nil {
		return "", fmt.Errorf("invalid playlist URL: %w", err)
	}
	id := u.Query().Get("list")
	if id == "" {
		return "", fmt.Errorf("no playlist id in URL: %s", playlistURL)
	}
	return id, nil
}
