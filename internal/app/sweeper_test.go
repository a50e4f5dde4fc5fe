package app

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/social-dl-go/internal/domain"
	"github.com/yourusername/social-dl-go/pkg/logger"
)

func completeSession(t *testing.T, env *testEnv) domain.DownloadSession {
	t.Helper()
	created, err := env.manager.CreateSession(tiktokURL, "", "")
	require.NoError(t, err)
	session, err := env.manager.Process(context.Background(), created.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, session.State)
	return session
}

func TestSweeper_ExpiryCorrectness(t *testing.T) {
	env := newTestEnv(t, newFakeFetcher(), 1)
	session := completeSession(t, env)
	path, err := env.manager.GetArtifactPath(session.ID)
	require.NoError(t, err)

	env.clock.Advance(299 * time.Second)
	result := env.sweeper.Sweep()
	assert.Equal(t, 0, result.Due)
	assert.FileExists(t, path)
	s, _ := env.store.Get(session.ID)
	assert.Equal(t, domain.StateCompleted, s.State)

	env.clock.Advance(time.Second)
	result = env.sweeper.Sweep()
	assert.Equal(t, SweepResult{Due: 1, Expired: 1}, result)
	assert.NoFileExists(t, path)

	s, err = env.store.Get(session.ID)
	require.NoError(t, err, "expired sessions stay queryable")
	assert.Equal(t, domain.StateExpired, s.State)
	assert.True(t, s.FileExpired)

	_, err = env.manager.GetArtifactPath(session.ID)
	assert.ErrorIs(t, err, domain.ErrArtifactExpired)

	assert.Equal(t, SweepResult{}, env.sweeper.Sweep(), "a second pass finds nothing")
}

func TestSweeper_FileAlreadyGone(t *testing.T) {
	env := newTestEnv(t, newFakeFetcher(), 1)
	session := completeSession(t, env)
	path, err := env.manager.GetArtifactPath(session.ID)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	env.clock.Advance(time.Hour)
	result := env.sweeper.Sweep()
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, 0, result.Failed)
}

func TestSweeper_DeleteFailureDoesNotAbortPass(t *testing.T) {
	env := newTestEnv(t, newFakeFetcher(), 1)
	first := completeSession(t, env)
	second := completeSession(t, env)
	stuckPath, err := env.manager.GetArtifactPath(first.ID)
	require.NoError(t, err)

	env.sweeper.remove = func(path string) error {
		if path == stuckPath {
			return errors.New("permission denied")
		}
		return os.Remove(path)
	}

	env.clock.Advance(time.Hour)
	result := env.sweeper.Sweep()
	assert.Equal(t, SweepResult{Due: 2, Expired: 1, Failed: 1}, result)

	s, _ := env.store.Get(first.ID)
	assert.Equal(t, domain.StateCompleted, s.State, "retried on the next pass")
	s, _ = env.store.Get(second.ID)
	assert.Equal(t, domain.StateExpired, s.State)

	env.sweeper.remove = os.Remove
	result = env.sweeper.Sweep()
	assert.Equal(t, 1, result.Expired)
}

func TestSweeper_FailedSessionsAreIgnored(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.failDownload(tiktokURL, domain.NewFetchError(domain.KindNetwork, "timeout", nil))
	env := newTestEnv(t, fetcher, 1)
	created, err := env.manager.CreateSession(tiktokURL, "", "")
	require.NoError(t, err)
	_, err = env.manager.Process(context.Background(), created.ID)
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	assert.Equal(t, SweepResult{}, env.sweeper.Sweep())
	s, _ := env.store.Get(created.ID)
	assert.Equal(t, domain.StateFailed, s.State)
}

func TestSweeper_StartIsIdempotent(t *testing.T) {
	store := NewMemorySessionStore(nil)
	sweeper := NewSweeper(store, nil, 10*time.Millisecond, nil, logger.NewSingleLoggerAdapter(nil))

	sweeper.Start(context.Background())
	sweeper.Start(context.Background())
	assert.True(t, sweeper.IsRunning())

	time.Sleep(205 * time.Millisecond)
	require.NoError(t, sweeper.Stop())

	iterations := sweeper.Iterations()
	assert.GreaterOrEqual(t, iterations, int64(5))
	assert.LessOrEqual(t, iterations, int64(21), "a second loop would roughly double the count")

	assert.False(t, sweeper.IsRunning())
	assert.Error(t, sweeper.Stop())
}

func TestSweeper_SurvivesPanickingPass(t *testing.T) {
	store := NewMemorySessionStore(nil)
	sweeper := NewSweeper(&panickingStore{MemorySessionStore: store}, nil, 5*time.Millisecond, nil, logger.NewSingleLoggerAdapter(nil))

	sweeper.Start(context.Background())
	require.Eventually(t, func() bool { return sweeper.Iterations() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, sweeper.IsRunning())
	require.NoError(t, sweeper.Stop())
}

func TestSweeper_StopsWithContext(t *testing.T) {
	sweeper := NewSweeper(NewMemorySessionStore(nil), nil, 5*time.Millisecond, nil, logger.NewSingleLoggerAdapter(nil))
	ctx, cancel := context.WithCancel(context.Background())

	sweeper.Start(ctx)
	cancel()
	require.Eventually(t, func() bool { return !sweeper.IsRunning() }, time.Second, 5*time.Millisecond)

	sweeper.Start(context.Background())
	assert.True(t, sweeper.IsRunning(), "restartable after its context ended")
	require.NoError(t, sweeper.Stop())
}

func TestSweeper_RestartWhileOldLoopIsExiting(t *testing.T) {
	store := &blockingStore{MemorySessionStore: NewMemorySessionStore(nil), entered: make(chan struct{}, 1), release: make(chan struct{})}
	sweeper := NewSweeper(store, nil, time.Millisecond, nil, logger.NewSingleLoggerAdapter(nil))
	ctx, cancel := context.WithCancel(context.Background())

	sweeper.Start(ctx)
	<-store.entered

	// The first loop is mid-pass and has not seen the cancellation yet
	cancel()
	sweeper.Start(context.Background())
	require.True(t, sweeper.IsRunning())

	close(store.release)
	time.Sleep(50 * time.Millisecond)

	assert.True(t, sweeper.IsRunning(), "the exiting loop must not clear the new loop's state")
	before := sweeper.Iterations()
	require.Eventually(t, func() bool { return sweeper.Iterations() > before }, time.Second, 5*time.Millisecond)
	require.NoError(t, sweeper.Stop())
}

type blockingStore struct {
	*MemorySessionStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) List(filter domain.SessionFilter) []domain.DownloadSession {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.MemorySessionStore.List(filter)
}

type panickingStore struct {
	*MemorySessionStore
}

func (p *panickingStore) List(domain.SessionFilter) []domain.DownloadSession {
	panic("list exploded")
}
