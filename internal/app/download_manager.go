package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/yourusername/social-dl-go/internal/domain"
	"github.com/yourusername/social-dl-go/pkg/logger"
)

var (
	// ErrValidation marks a rejected request
	ErrValidation = errors.New("invalid request")

	// ErrNotCancellable is returned when cancelling a session that already
	// reached a terminal state
	ErrNotCancellable = errors.New("session already finished")
)

// ManagerStats reports session counts and worker pool load
type ManagerStats struct {
	Sessions domain.SessionStats `json:"sessions"`
	InFlight int                 `json:"in_flight"`
	Queued   int                 `json:"queued"`
	Workers  int                 `json:"workers"`
}

// DownloadManager creates sessions and drives each one through
// PENDING -> PROCESSING -> COMPLETED | FAILED
type DownloadManager struct {
	store    domain.SessionStore
	selector *FormatSelector
	executor *FetchExecutor
	pool     *WorkerPool
	events   *EventBus
	clock    Clock
	config   *domain.DownloadConfig
	log      *logger.LoggerAdapter
	mu       sync.Mutex
	handles  map[string]*TaskHandle
}

// NewDownloadManager creates a new download manager
func NewDownloadManager(
	store domain.SessionStore,
	selector *FormatSelector,
	executor *FetchExecutor,
	pool *WorkerPool,
	events *EventBus,
	clock Clock,
	config *domain.DownloadConfig,
	log *logger.LoggerAdapter,
) *DownloadManager {
	if clock == nil {
		clock = SystemClock
	}
	return &DownloadManager{
		store:    store,
		selector: selector,
		executor: executor,
		pool:     pool,
		events:   events,
		clock:    clock,
		config:   config,
		log:      log,
		handles:  make(map[string]*TaskHandle),
	}
}

// NormalizeRequest validates a download request. An empty platform is
// detected from the URL host and an empty quality defaults to high.
func NormalizeRequest(url string, platform domain.Platform, quality domain.Quality) (domain.Platform, domain.Quality, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "", "", fmt.Errorf("%w: url is required", ErrValidation)
	}
	if platform == "" {
		platform = domain.DetectPlatform(url)
		if platform == "" {
			return "", "", fmt.Errorf("%w: unsupported platform for url %s", ErrValidation, url)
		}
	}
	if quality == "" {
		quality = domain.QualityHigh
	}
	if !domain.ValidatePlatform(platform) {
		return "", "", fmt.Errorf("%w: invalid platform: %s", ErrValidation, platform)
	}
	if !domain.ValidateQuality(quality) {
		return "", "", fmt.Errorf("%w: invalid quality: %s", ErrValidation, quality)
	}
	if err := domain.ValidateURL(platform, url); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return platform, quality, nil
}

// CreateSession validates the request and inserts a PENDING session
func (dm *DownloadManager) CreateSession(url string, platform domain.Platform, quality domain.Quality) (domain.DownloadSession, error) {
	platform, quality, err := NormalizeRequest(url, platform, quality)
	if err != nil {
		return domain.DownloadSession{}, err
	}

	id := dm.store.Create(strings.TrimSpace(url), platform, quality)
	dm.log.Session().Info("session_created",
		zap.String("session_id", id),
		zap.String("url", url),
		zap.String("platform", string(platform)),
		zap.String("quality", string(quality)))

	return dm.store.Get(id)
}

// StartSingleDownload hands the session to the worker pool and returns
// immediately. If the pool cannot take it the session is failed and the
// dispatch error returned.
func (dm *DownloadManager) StartSingleDownload(id string) error {
	if _, err := dm.store.Get(id); err != nil {
		return err
	}

	handle, err := dm.pool.TrySubmit(dm.task(id))
	if err != nil {
		dm.failDispatch(id, err)
		return err
	}
	dm.track(id, handle)
	return nil
}

// dispatch queues the session, waiting for a queue slot until ctx is done
func (dm *DownloadManager) dispatch(ctx context.Context, id string) (*TaskHandle, error) {
	handle, err := dm.pool.Submit(ctx, dm.task(id))
	if err != nil {
		dm.failDispatch(id, err)
		return nil, err
	}
	dm.track(id, handle)
	return handle, nil
}

func (dm *DownloadManager) task(id string) TaskFunc {
	return func(ctx context.Context) {
		if _, err := dm.Process(ctx, id); err != nil {
			dm.log.General().Warn("Session not processed",
				zap.String("session_id", id),
				zap.Error(err))
		}
	}
}

// Process runs one session to a terminal state on the calling goroutine. It
// returns an error only if the session is unknown or no longer PENDING; a
// failed download is reported through the returned session.
func (dm *DownloadManager) Process(ctx context.Context, id string) (domain.DownloadSession, error) {
	session, err := dm.store.Update(id, func(s *domain.DownloadSession) error {
		return s.MarkProcessing(dm.clock.Now())
	})
	if err != nil {
		return session, err
	}

	dm.log.Session().Info("session_started",
		zap.String("session_id", id),
		zap.String("url", session.URL),
		zap.String("platform", string(session.Platform)))
	dm.events.Publish(domain.EventStarted, session)

	return dm.finalize(id, dm.execute(ctx, session))
}

// execute is the orchestrator boundary: whatever happens below it ends as an
// Outcome
func (dm *DownloadManager) execute(ctx context.Context, session domain.DownloadSession) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = failure(domain.KindUnknown, fmt.Sprintf("unexpected panic: %v", r), nil)
		}
	}()

	opts, err := dm.selector.Select(session.Platform, session.Quality)
	if err != nil {
		return failure(domain.KindUnknown, err.Error(), err)
	}
	return dm.executor.Execute(ctx, session.URL, opts, dm.progressSink(session.ID))
}

// progressSink binds fetcher progress to one session
func (dm *DownloadManager) progressSink(id string) domain.ProgressFunc {
	return func(update domain.ProgressUpdate) {
		_, _ = dm.store.Update(id, func(s *domain.DownloadSession) error {
			if update.Metadata != nil {
				s.ApplyMetadata(*update.Metadata)
			}
			s.ReportProgress(update.Percent)
			return nil
		})
	}
}

func (dm *DownloadManager) finalize(id string, outcome Outcome) (domain.DownloadSession, error) {
	now := dm.clock.Now()

	if outcome.Succeeded() {
		result := outcome.Result
		session, err := dm.store.Update(id, func(s *domain.DownloadSession) error {
			s.ApplyMetadata(result.Metadata)
			return s.MarkCompleted(result.FilePath, filepath.Base(result.FilePath), now, dm.config.FileTTL)
		})
		if err != nil {
			removeQuietly(result.FilePath)
			dm.log.LogError(logger.CategorySession, "Failed to complete session",
				zap.String("session_id", id),
				zap.Error(err))
			return session, err
		}

		dm.log.Session().Info("session_completed",
			zap.String("session_id", id),
			zap.String("file", session.Filename),
			zap.Time("expires_at", *session.ExpiresAt))
		dm.events.Publish(domain.EventCompleted, session)
		return session, nil
	}

	fe := outcome.Failure
	if fe == nil {
		fe = domain.NewFetchError(domain.KindUnknown, "fetch returned no result", nil)
	}
	if fe.Kind == domain.KindUnknown {
		dm.log.LogError(logger.CategorySession, "Unclassified download failure",
			zap.String("session_id", id),
			zap.Error(fe))
	}

	session, err := dm.store.Update(id, func(s *domain.DownloadSession) error {
		return s.MarkFailed(fe.Kind, domain.MessageOf(fe), now)
	})
	if err != nil {
		return session, err
	}

	dm.log.Session().Info("session_failed",
		zap.String("session_id", id),
		zap.String("kind", string(fe.Kind)),
		zap.String("error", domain.MessageOf(fe)))
	dm.events.Publish(domain.EventFailed, session)
	return session, nil
}

// failDispatch fails a session that never reached a worker. The session still
// passes through PROCESSING, inside a single atomic update.
func (dm *DownloadManager) failDispatch(id string, cause error) {
	kind := domain.KindOf(cause)
	switch {
	case errors.Is(cause, ErrQueueFull):
		kind = domain.KindRateLimited
	case errors.Is(cause, ErrPoolStopped):
		kind = domain.KindCancelled
	}
	if _, err := dm.failPending(id, kind, cause.Error()); err != nil {
		dm.log.General().Debug("Dispatch failure not recorded",
			zap.String("session_id", id),
			zap.Error(err))
	}
}

func (dm *DownloadManager) failPending(id string, kind domain.ErrorKind, message string) (domain.DownloadSession, error) {
	now := dm.clock.Now()
	session, err := dm.store.Update(id, func(s *domain.DownloadSession) error {
		if err := s.MarkProcessing(now); err != nil {
			return err
		}
		return s.MarkFailed(kind, message, now)
	})
	if err != nil {
		return session, err
	}

	dm.log.Session().Info("session_failed",
		zap.String("session_id", id),
		zap.String("kind", string(kind)),
		zap.String("error", message))
	dm.events.Publish(domain.EventFailed, session)
	return session, nil
}

func (dm *DownloadManager) track(id string, handle *TaskHandle) {
	dm.mu.Lock()
	dm.handles[id] = handle
	dm.mu.Unlock()

	go func() {
		<-handle.Done()
		dm.mu.Lock()
		if dm.handles[id] == handle {
			delete(dm.handles, id)
		}
		dm.mu.Unlock()
	}()
}

// Cancel stops a session that has not finished. A dispatched session is
// cancelled through its task context and fails with kind cancelled once the
// fetcher returns; a session still waiting for dispatch fails immediately.
func (dm *DownloadManager) Cancel(id string) (domain.DownloadSession, error) {
	session, err := dm.store.Get(id)
	if err != nil {
		return session, err
	}
	if session.State.IsTerminal() {
		return session, fmt.Errorf("%w: %s", ErrNotCancellable, session.State)
	}

	if dm.cancelHandle(id) {
		return dm.store.Get(id)
	}

	session, err = dm.failPending(id, domain.KindCancelled, "download cancelled")
	if err == nil {
		return session, nil
	}
	// Dispatched between the lookup and the update
	if dm.cancelHandle(id) {
		return dm.store.Get(id)
	}
	return session, fmt.Errorf("%w: %s", ErrNotCancellable, session.State)
}

func (dm *DownloadManager) cancelHandle(id string) bool {
	dm.mu.Lock()
	handle, ok := dm.handles[id]
	dm.mu.Unlock()
	if !ok {
		return false
	}

	handle.Cancel()
	dm.log.Session().Info("session_cancel_requested", zap.String("session_id", id))
	return true
}

// GetStatus returns a snapshot of a session
func (dm *DownloadManager) GetStatus(id string) (domain.DownloadSession, error) {
	return dm.store.Get(id)
}

// GetArtifactPath returns the local file of a completed session
func (dm *DownloadManager) GetArtifactPath(id string) (string, error) {
	session, err := dm.store.Get(id)
	if err != nil {
		return "", err
	}

	switch session.State {
	case domain.StateCompleted:
		return session.ArtifactPath, nil
	case domain.StateExpired:
		return "", domain.ErrArtifactExpired
	default:
		return "", fmt.Errorf("%w: session is %s", domain.ErrArtifactNotReady, session.State)
	}
}

// ListSessions lists sessions matching filter
func (dm *DownloadManager) ListSessions(filter domain.SessionFilter) []domain.DownloadSession {
	return dm.store.List(filter)
}

// GetStats returns session and worker pool statistics
func (dm *DownloadManager) GetStats() ManagerStats {
	return ManagerStats{
		Sessions: dm.store.Stats(),
		InFlight: dm.pool.InFlight(),
		Queued:   dm.pool.Queued(),
		Workers:  dm.pool.Workers(),
	}
}
