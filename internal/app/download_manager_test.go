package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/social-dl-go/internal/domain"
)

const tiktokURL = "https://www.tiktok.com/@user/video/7300000000000000000"

func TestDownloadManager_CreateSession(t *testing.T) {
	env := newTestEnv(t, newFakeFetcher(), 2)

	session, err := env.manager.CreateSession(tiktokURL, "", "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, session.State)
	assert.Equal(t, domain.PlatformTikTok, session.Platform, "platform detected from host")
	assert.Equal(t, domain.QualityHigh, session.Quality, "quality defaults to high")

	_, err = env.manager.CreateSession("https://example.com/v/1", "", domain.QualityLow)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.manager.CreateSession(tiktokURL, domain.PlatformYouTube, domain.QualityLow)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.manager.CreateSession(tiktokURL, domain.PlatformTikTok, "4k")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDownloadManager_ProcessSuccess(t *testing.T) {
	env := newTestEnv(t, newFakeFetcher(), 2)
	created, err := env.manager.CreateSession(tiktokURL, domain.PlatformTikTok, domain.QualityHigh)
	require.NoError(t, err)

	session, err := env.manager.Process(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StateCompleted, session.State)
	assert.Equal(t, 100, session.Progress)
	assert.Nil(t, session.Error)
	assert.Equal(t, "clip", session.Metadata.Title)
	assert.True(t, strings.HasPrefix(session.Filename, "tiktok_"))
	assert.True(t, strings.HasSuffix(session.Filename, ".mp4"))
	require.NotNil(t, session.ExpiresAt)
	assert.Equal(t, env.clock.Now().Add(300*time.Second), *session.ExpiresAt)

	path, err := env.manager.GetArtifactPath(created.ID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.config.Download.Dir, session.Filename), path)
	assert.FileExists(t, path)

	_, err = env.manager.Process(context.Background(), created.ID)
	var transitionErr *domain.ErrInvalidTransition
	assert.ErrorAs(t, err, &transitionErr, "a session is processed once")
}

func TestDownloadManager_ClassifiedFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind domain.ErrorKind
	}{
		{"not found", domain.NewFetchError(domain.KindVideoNotFound, "video unavailable", nil), domain.KindVideoNotFound},
		{"network", domain.NewFetchError(domain.KindNetwork, "connection reset", nil), domain.KindNetwork},
		{"download", domain.NewFetchError(domain.KindDownload, "ffmpeg merge failed", nil), domain.KindDownload},
		{"injected rate limit", domain.ErrRateLimited, domain.KindRateLimited},
		{"unclassified", errors.New("something odd"), domain.KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := newFakeFetcher()
			fetcher.failDownload(tiktokURL, tt.err)
			env := newTestEnv(t, fetcher, 1)

			created, err := env.manager.CreateSession(tiktokURL, domain.PlatformTikTok, domain.QualityHigh)
			require.NoError(t, err)
			session, err := env.manager.Process(context.Background(), created.ID)
			require.NoError(t, err)

			assert.Equal(t, domain.StateFailed, session.State)
			require.NotNil(t, session.Error)
			assert.Equal(t, tt.kind, session.Error.Kind)
			assert.Empty(t, session.ArtifactPath)

			_, err = env.manager.GetArtifactPath(created.ID)
			assert.ErrorIs(t, err, domain.ErrArtifactNotReady)

			entries, err := os.ReadDir(env.config.Download.Dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "no artifact left behind")
		})
	}
}

func TestDownloadManager_QualityNotAvailable(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.formats = []domain.Format{{ID: "18", Height: 360}, {ID: "140"}}
	env := newTestEnv(t, fetcher, 1)

	created, err := env.manager.CreateSession(tiktokURL, domain.PlatformTikTok, domain.QualityHigh)
	require.NoError(t, err)
	session, err := env.manager.Process(context.Background(), created.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StateFailed, session.State)
	require.NotNil(t, session.Error)
	assert.Equal(t, domain.KindQualityNotAvailable, session.Error.Kind)
	assert.Equal(t, int64(0), fetcher.calls.Load(), "no bytes fetched for an unsatisfiable quality")
}

func TestDownloadManager_ProbeNotFound(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.failProbe(tiktokURL, domain.NewFetchError(domain.KindVideoNotFound, "video removed", nil))
	env := newTestEnv(t, fetcher, 1)

	created, err := env.manager.CreateSession(tiktokURL, "", "")
	require.NoError(t, err)
	session, err := env.manager.Process(context.Background(), created.ID)
	require.NoError(t, err)

	require.NotNil(t, session.Error)
	assert.Equal(t, domain.KindVideoNotFound, session.Error.Kind)
	assert.Equal(t, "video removed", session.Error.Message)
}

func TestDownloadManager_ConcurrencyBound(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	const workers = 3
	env := newTestEnv(t, fetcher, workers)

	var ids []string
	for i := 0; i < 10; i++ {
		s, err := env.manager.CreateSession(tiktokURL, domain.PlatformTikTok, domain.QualityLow)
		require.NoError(t, err)
		require.NoError(t, env.manager.StartSingleDownload(s.ID))
		ids = append(ids, s.ID)
	}

	require.Eventually(t, func() bool { return fetcher.inFlight.Load() == workers }, time.Second, 5*time.Millisecond)
	stats := env.manager.GetStats()
	assert.Equal(t, workers, stats.InFlight)
	assert.Equal(t, int64(workers), stats.Sessions.Processing)

	for i := 0; i < len(ids); i++ {
		fetcher.gate <- struct{}{}
		assert.LessOrEqual(t, fetcher.inFlight.Load(), int64(workers))
	}
	for _, id := range ids {
		assert.Equal(t, domain.StateCompleted, env.waitTerminal(t, id).State)
	}
	assert.Equal(t, int64(workers), fetcher.peak.Load())
}

func TestDownloadManager_QueueFullFailsSession(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	env := newTestEnvWithQueue(t, fetcher, 1, 1)

	running, err := env.manager.CreateSession(tiktokURL, "", "")
	require.NoError(t, err)
	require.NoError(t, env.manager.StartSingleDownload(running.ID))
	require.Eventually(t, func() bool { return fetcher.inFlight.Load() == 1 }, time.Second, time.Millisecond)

	queued, err := env.manager.CreateSession(tiktokURL, "", "")
	require.NoError(t, err)
	require.NoError(t, env.manager.StartSingleDownload(queued.ID))

	rejected, err := env.manager.CreateSession(tiktokURL, "", "")
	require.NoError(t, err)
	err = env.manager.StartSingleDownload(rejected.ID)
	assert.ErrorIs(t, err, ErrQueueFull)

	session, err := env.manager.GetStatus(rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, session.State)
	assert.Equal(t, domain.KindRateLimited, session.Error.Kind)
	assert.NotNil(t, session.StartedAt, "dispatch failures still pass through processing")

	queuedSession, err := env.manager.GetStatus(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, queuedSession.State)
}

func TestDownloadManager_CancelInFlight(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.gate = make(chan struct{})
	env := newTestEnv(t, fetcher, 1)

	created, err := env.manager.CreateSession(tiktokURL, "", "")
	require.NoError(t, err)
	require.NoError(t, env.manager.StartSingleDownload(created.ID))
	require.Eventually(t, func() bool { return fetcher.inFlight.Load() == 1 }, time.Second, time.Millisecond)

	_, err = env.manager.Cancel(created.ID)
	require.NoError(t, err)

	session := env.waitTerminal(t, created.ID)
	assert.Equal(t, domain.StateFailed, session.State)
	assert.Equal(t, domain.KindCancelled, session.Error.Kind)

	_, err = env.manager.Cancel(created.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestDownloadManager_CancelPending(t *testing.T) {
	env := newTestEnv(t, newFakeFetcher(), 1)

	created, err := env.manager.CreateSession(tiktokURL, "", "")
	require.NoError(t, err)

	session, err := env.manager.Cancel(created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, session.State)
	assert.Equal(t, domain.KindCancelled, session.Error.Kind)

	_, err = env.manager.Process(context.Background(), created.ID)
	assert.Error(t, err, "a cancelled session is never resurrected")
}

func TestDownloadManager_UnknownSession(t *testing.T) {
	env := newTestEnv(t, newFakeFetcher(), 1)

	_, err := env.manager.GetStatus("does-not-exist")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Equal(t, domain.KindInvalidSession, domain.KindOf(err))

	assert.ErrorIs(t, env.manager.StartSingleDownload("does-not-exist"), domain.ErrSessionNotFound)
	_, err = env.manager.Cancel("does-not-exist")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = env.manager.GetArtifactPath("does-not-exist")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestDownloadManager_PublishesEvents(t *testing.T) {
	env := newTestEnv(t, newFakeFetcher(), 1)

	created, err := env.manager.CreateSession(tiktokURL, "", "")
	require.NoError(t, err)
	_, err = env.manager.Process(context.Background(), created.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(env.sink.types()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []domain.EventType{domain.EventStarted, domain.EventCompleted}, env.sink.types())
}
