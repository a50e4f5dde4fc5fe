package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/yourusername/social-dl-go/internal/domain"
	"github.com/yourusername/social-dl-go/pkg/logger"
)

// BatchManager runs a list of URLs as one batch. Each URL becomes its own
// session; at most the platform's max_concurrent of them are dispatched to the
// worker pool at a time, in submission order.
type BatchManager struct {
	store     domain.SessionStore
	downloads *DownloadManager
	expander  domain.PlaylistExpander
	config    *domain.Config
	log       *logger.LoggerAdapter
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewBatchManager creates a batch manager. expander may be nil, which
// disables playlist batches.
func NewBatchManager(
	store domain.SessionStore,
	downloads *DownloadManager,
	expander domain.PlaylistExpander,
	config *domain.Config,
	log *logger.LoggerAdapter,
) *BatchManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchManager{
		store:     store,
		downloads: downloads,
		expander:  expander,
		config:    config,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// StartBatchDownload validates urls, creates one PENDING session per URL and
// starts the batch in the background
func (bm *BatchManager) StartBatchDownload(urls []string, platform domain.Platform, quality domain.Quality) (domain.BatchView, error) {
	if len(urls) == 0 {
		return domain.BatchView{}, fmt.Errorf("%w: at least one url is required", ErrValidation)
	}
	if limit := bm.config.Download.MaxBatchSize; limit > 0 && len(urls) > limit {
		return domain.BatchView{}, fmt.Errorf("%w: batch has %d urls, maximum is %d", ErrValidation, len(urls), limit)
	}
	if err := bm.ctx.Err(); err != nil {
		return domain.BatchView{}, ErrPoolStopped
	}

	cleaned := make([]string, len(urls))
	for i, url := range urls {
		cleaned[i] = strings.TrimSpace(url)
		if platform == "" {
			platform = domain.DetectPlatform(cleaned[i])
		}
	}

	var err error
	if platform, quality, err = NormalizeRequest(cleaned[0], platform, quality); err != nil {
		return domain.BatchView{}, err
	}
	for _, url := range cleaned {
		if err := domain.ValidateURL(platform, url); err != nil {
			return domain.BatchView{}, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	batch := bm.store.CreateBatch(cleaned, platform, quality)
	bm.log.Session().Info("batch_created",
		zap.String("batch_id", batch.ID),
		zap.Int("total_urls", len(cleaned)),
		zap.String("platform", string(platform)),
		zap.String("quality", string(quality)))

	bm.wg.Add(1)
	go bm.run(batch)

	return bm.GetBatch(batch.ID)
}

// StartPlaylist expands a YouTube playlist and starts a batch with its videos.
// Playlists longer than max_batch_size are truncated.
func (bm *BatchManager) StartPlaylist(ctx context.Context, playlistURL string, quality domain.Quality) (domain.BatchView, error) {
	if bm.expander == nil {
		return domain.BatchView{}, fmt.Errorf("%w: playlist downloads are not available", ErrValidation)
	}
	if err := domain.ValidateURL(domain.PlatformYouTube, playlistURL); err != nil {
		return domain.BatchView{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	urls, err := bm.expander.Expand(ctx, playlistURL)
	if err != nil {
		return domain.BatchView{}, err
	}
	if len(urls) == 0 {
		return domain.BatchView{}, fmt.Errorf("%w: playlist has no videos", ErrValidation)
	}
	if limit := bm.config.Download.MaxBatchSize; limit > 0 && len(urls) > limit {
		bm.log.General().Warn("Truncating playlist",
			zap.String("url", playlistURL),
			zap.Int("videos", len(urls)),
			zap.Int("max_batch_size", limit))
		urls = urls[:limit]
	}

	return bm.StartBatchDownload(urls, domain.PlatformYouTube, quality)
}

// GetBatch returns the derived view of a batch
func (bm *BatchManager) GetBatch(id string) (domain.BatchView, error) {
	batch, members, err := bm.store.GetBatch(id)
	if err != nil {
		return domain.BatchView{}, err
	}
	return domain.DeriveBatchView(batch, members), nil
}

// run is the batch coordinator. It owns its own goroutine and never occupies
// a pool worker, so a full pool cannot deadlock a batch.
func (bm *BatchManager) run(batch domain.BatchSession) {
	defer bm.wg.Done()

	limit := bm.config.MaxConcurrent(batch.Platform)
	sem := make(chan struct{}, limit)
	var items sync.WaitGroup

dispatchLoop:
	for i, id := range batch.SessionIDs {
		if bm.ctx.Err() != nil {
			bm.abandon(batch, i)
			break
		}

		select {
		case sem <- struct{}{}:
		case <-bm.ctx.Done():
			bm.abandon(batch, i)
			break dispatchLoop
		}

		handle, err := bm.downloads.dispatch(bm.ctx, id)
		if err != nil {
			<-sem
			bm.log.General().Warn("Batch item not dispatched",
				zap.String("batch_id", batch.ID),
				zap.String("session_id", id),
				zap.Error(err))
			continue
		}

		items.Add(1)
		go func() {
			defer items.Done()
			<-handle.Done()
			<-sem
		}()
	}
	items.Wait()

	view, err := bm.GetBatch(batch.ID)
	if err != nil {
		bm.log.LogError(logger.CategorySession, "Failed to read finished batch",
			zap.String("batch_id", batch.ID),
			zap.Error(err))
		return
	}
	bm.log.Session().Info("batch_finished",
		zap.String("batch_id", batch.ID),
		zap.String("status", string(view.State)),
		zap.Int("processed_urls", view.ProcessedURLs),
		zap.Int("errors", len(view.Errors)))
}

// abandon fails every member from index from on that was never dispatched
func (bm *BatchManager) abandon(batch domain.BatchSession, from int) {
	for _, id := range batch.SessionIDs[from:] {
		_, _ = bm.downloads.failPending(id, domain.KindCancelled, "batch stopped before dispatch")
	}
}

// Stop fails every batch item not yet dispatched and refuses new batches.
// Items already in the worker pool finish or are cancelled with the pool.
func (bm *BatchManager) Stop() {
	bm.cancel()
}

// Wait blocks until every batch coordinator has returned
func (bm *BatchManager) Wait() {
	bm.wg.Wait()
}
