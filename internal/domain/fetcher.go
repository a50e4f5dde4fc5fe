package domain

import (
	"context"
	"time"
)

// FetchOptions are the extraction options produced by the format selector
type FetchOptions struct {
	Platform      Platform
	Quality       Quality
	Format        string // yt-dlp format selector
	MinHeight     int    // 0 means no floor
	MaxHeight     int    // 0 means no ceiling
	OutputPath    string // set by the executor, never an existing file
	SocketTimeout time.Duration
	Retries       int
}

// Format is one downloadable rendition reported by the extractor
type Format struct {
	ID     string `json:"format_id"`
	Height int    `json:"height"`
	Ext    string `json:"ext"`
}

// VideoInfo is what the extractor resolves before any bytes are transferred
type VideoInfo struct {
	Metadata VideoMetadata
	Formats  []Format
}

// FetchResult is the outcome of a successful download
type FetchResult struct {
	FilePath string
	Metadata VideoMetadata
}

// ProgressUpdate is reported by a fetcher while it downloads
type ProgressUpdate struct {
	Percent  int
	Metadata *VideoMetadata
}

// ProgressFunc receives progress for exactly one session
type ProgressFunc func(ProgressUpdate)

// Fetcher wraps the external media-extraction library. Implementations return
// *FetchError values so callers can branch on the error kind.
type Fetcher interface {
	// Probe resolves metadata and available formats without downloading
	Probe(ctx context.Context, url string, opts FetchOptions) (*VideoInfo, error)

	// Download transfers the media to opts.OutputPath
	Download(ctx context.Context, url string, opts FetchOptions, progress ProgressFunc) (*FetchResult, error)
}

// PlaylistExpander resolves a playlist URL into video URLs
type PlaylistExpander interface {
	Expand(ctx context.Context, playlistURL string) ([]string, error)
}
