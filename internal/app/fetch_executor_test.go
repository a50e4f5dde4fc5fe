package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/social-dl-go/internal/domain"
	"github.com/yourusername/social-dl-go/pkg/logger"
)

func newTestExecutor(t *testing.T, fetcher domain.Fetcher) (*FetchExecutor, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "downloads")
	return NewFetchExecutor(fetcher, dir, logger.NewSingleLoggerAdapter(nil)), dir
}

func highOptions(t *testing.T) domain.FetchOptions {
	t.Helper()
	opts, err := NewFormatSelector(&domain.DownloadConfig{}).Select(domain.PlatformTikTok, domain.QualityHigh)
	require.NoError(t, err)
	return opts
}

func TestFetchExecutor_Success(t *testing.T) {
	executor, dir := newTestExecutor(t, newFakeFetcher())

	var updates []domain.ProgressUpdate
	out := executor.Execute(context.Background(), tiktokURL, highOptions(t), func(u domain.ProgressUpdate) {
		updates = append(updates, u)
	})

	require.True(t, out.Succeeded())
	assert.Nil(t, out.Failure)
	assert.Equal(t, dir, filepath.Dir(out.Result.FilePath), "download directory created on demand")
	assert.Regexp(t, `^tiktok_[0-9a-f]{8}\.mp4$`, filepath.Base(out.Result.FilePath))
	assert.Equal(t, "clip", out.Result.Metadata.Title)

	require.NotEmpty(t, updates)
	require.NotNil(t, updates[0].Metadata, "metadata reported before any bytes")
	assert.Equal(t, 100, updates[len(updates)-1].Percent)
}

func TestFetchExecutor_NeverReusesExistingFile(t *testing.T) {
	executor, dir := newTestExecutor(t, newFakeFetcher())
	require.NoError(t, os.MkdirAll(dir, 0755))
	taken := filepath.Join(dir, "tiktok_aaaaaaaa.mp4")
	require.NoError(t, os.WriteFile(taken, []byte("keep me"), 0644))

	suffixes := []string{"aaaaaaaa", "bbbbbbbb"}
	executor.newSuffix = func() string {
		s := suffixes[0]
		suffixes = suffixes[1:]
		return s
	}

	out := executor.Execute(context.Background(), tiktokURL, highOptions(t), nil)
	require.True(t, out.Succeeded())
	assert.Equal(t, filepath.Join(dir, "tiktok_bbbbbbbb.mp4"), out.Result.FilePath)

	content, err := os.ReadFile(taken)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(content))
}

type panickingFetcher struct{ *fakeFetcher }

func (panickingFetcher) Download(context.Context, string, domain.FetchOptions, domain.ProgressFunc) (*domain.FetchResult, error) {
	panic("extractor crashed")
}

type noFileFetcher struct{ *fakeFetcher }

func (noFileFetcher) Download(context.Context, string, domain.FetchOptions, domain.ProgressFunc) (*domain.FetchResult, error) {
	return &domain.FetchResult{}, nil
}

func TestFetchExecutor_Failures(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	notFound := newFakeFetcher()
	notFound.failProbe(tiktokURL, domain.NewFetchError(domain.KindVideoNotFound, "gone", nil))

	wrapped := newFakeFetcher()
	wrapped.failDownload(tiktokURL, errors.Join(errors.New("merge"), domain.NewFetchError(domain.KindDownload, "ffmpeg", nil)))

	tests := []struct {
		name    string
		ctx     context.Context
		fetcher domain.Fetcher
		kind    domain.ErrorKind
	}{
		{"probe not found", context.Background(), notFound, domain.KindVideoNotFound},
		{"wrapped download error", context.Background(), wrapped, domain.KindDownload},
		{"cancelled before start", cancelled, newFakeFetcher(), domain.KindCancelled},
		{"panic", context.Background(), panickingFetcher{newFakeFetcher()}, domain.KindUnknown},
		{"no file produced", context.Background(), noFileFetcher{newFakeFetcher()}, domain.KindDownload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor, _ := newTestExecutor(t, tt.fetcher)
			out := executor.Execute(tt.ctx, tiktokURL, highOptions(t), nil)

			assert.False(t, out.Succeeded())
			assert.Nil(t, out.Result)
			require.NotNil(t, out.Failure)
			assert.Equal(t, tt.kind, out.Failure.Kind)
		})
	}
}
