package app

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/social-dl-go/internal/domain"
	"github.com/yourusername/social-dl-go/pkg/logger"
)

// fakeFetcher is a scriptable domain.Fetcher. Downloads write a small file to
// opts.OutputPath. When gate is set every download blocks until it receives
// from gate or its context is cancelled.
type fakeFetcher struct {
	gate     chan struct{}
	formats  []domain.Format
	metadata domain.VideoMetadata

	mu       sync.Mutex
	failures map[string]error // url -> error returned by Download
	probeErr map[string]error // url -> error returned by Probe

	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		formats:  []domain.Format{{ID: "137", Height: 1080, Ext: "mp4"}, {ID: "18", Height: 360, Ext: "mp4"}},
		metadata: domain.VideoMetadata{Title: "clip", Author: "someone", Duration: 12},
		failures: make(map[string]error),
		probeErr: make(map[string]error),
	}
}

func (f *fakeFetcher) failDownload(url string, err error) {
	f.mu.Lock()
	f.failures[url] = err
	f.mu.Unlock()
}

func (f *fakeFetcher) failProbe(url string, err error) {
	f.mu.Lock()
	f.probeErr[url] = err
	f.mu.Unlock()
}

func (f *fakeFetcher) Probe(ctx context.Context, url string, opts domain.FetchOptions) (*domain.VideoInfo, error) {
	f.mu.Lock()
	err := f.probeErr[url]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &domain.VideoInfo{Metadata: f.metadata, Formats: f.formats}, nil
}

func (f *fakeFetcher) Download(ctx context.Context, url string, opts domain.FetchOptions, progress domain.ProgressFunc) (*domain.FetchResult, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	progress(domain.ProgressUpdate{Percent: 10})

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	err := f.failures[url]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	progress(domain.ProgressUpdate{Percent: 60})
	if err := os.WriteFile(opts.OutputPath, []byte("video"), 0644); err != nil {
		return nil, err
	}
	progress(domain.ProgressUpdate{Percent: 100})
	return &domain.FetchResult{FilePath: opts.OutputPath}, nil
}

// recordingSink collects published events
type recordingSink struct {
	mu     sync.Mutex
	events []domain.SessionEvent
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(ctx context.Context, event domain.SessionEvent) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	config   *domain.Config
	clock    *fakeClock
	store    *MemorySessionStore
	pool     *WorkerPool
	events   *EventBus
	sink     *recordingSink
	fetcher  *fakeFetcher
	manager  *DownloadManager
	batches  *BatchManager
	sweeper  *Sweeper
	executor *FetchExecutor
}

func newTestEnv(t *testing.T, fetcher *fakeFetcher, workers int) *testEnv {
	t.Helper()
	return newTestEnvWithQueue(t, fetcher, workers, 100)
}

func newTestEnvWithQueue(t *testing.T, fetcher *fakeFetcher, workers, queueSize int) *testEnv {
	t.Helper()

	config := domain.DefaultConfig()
	config.Download.Dir = t.TempDir()
	config.Download.Workers = workers
	config.Download.QueueSize = queueSize
	config.Download.FileTTL = 300 * time.Second

	log := logger.NewSingleLoggerAdapter(nil)
	clock := newFakeClock()
	store := NewMemorySessionStore(clock)
	sink := &recordingSink{}
	events := NewEventBus(clock, log, sink)
	require.NoError(t, events.Start())

	pool := NewWorkerPool(workers, config.Download.QueueSize, log)
	require.NoError(t, pool.Start(context.Background()))

	executor := NewFetchExecutor(fetcher, config.Download.Dir, log)
	manager := NewDownloadManager(store, NewFormatSelector(&config.Download), executor, pool, events, clock, &config.Download, log)
	batches := NewBatchManager(store, manager, nil, config, log)
	sweeper := NewSweeper(store, clock, config.Download.SweepInterval, events, log)

	t.Cleanup(func() {
		if fetcher.gate != nil {
			select {
			case <-fetcher.gate:
			default:
				close(fetcher.gate)
			}
		}
		batches.Stop()
		if pool.IsRunning() {
			_ = pool.Stop()
		}
		batches.Wait()
		_ = events.Stop()
	})

	return &testEnv{
		config:   config,
		clock:    clock,
		store:    store,
		pool:     pool,
		events:   events,
		sink:     sink,
		fetcher:  fetcher,
		manager:  manager,
		batches:  batches,
		sweeper:  sweeper,
		executor: executor,
	}
}

// waitTerminal polls until the session reaches a terminal state
func (e *testEnv) waitTerminal(t *testing.T, id string) domain.DownloadSession {
	t.Helper()
	var session domain.DownloadSession
	require.Eventually(t, func() bool {
		var err error
		session, err = e.store.Get(id)
		return err == nil && session.State.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	return session
}
