package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/social-dl-go/internal/domain"
	"github.com/yourusername/social-dl-go/pkg/logger"
)

// SweepResult summarizes one sweep pass
type SweepResult struct {
	Due     int `json:"due"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// Sweeper deletes the artifacts of completed sessions once their TTL has
// passed and marks the sessions EXPIRED. It wakes on a fixed interval.
type Sweeper struct {
	store      domain.SessionStore
	clock      Clock
	interval   time.Duration
	events     *EventBus
	log        *logger.LoggerAdapter
	remove     func(path string) error
	mu         sync.Mutex
	running    bool
	stopChan   chan struct{}
	loopDone   <-chan struct{}
	wg         sync.WaitGroup
	iterations atomic.Int64
}

// NewSweeper creates a sweeper waking every interval
func NewSweeper(store domain.SessionStore, clock Clock, interval time.Duration, events *EventBus, log *logger.LoggerAdapter) *Sweeper {
	if clock == nil {
		clock = SystemClock
	}
	return &Sweeper{
		store:    store,
		clock:    clock,
		interval: interval,
		events:   events,
		log:      log,
		remove:   os.Remove,
	}
}

// Start launches the sweep loop. Starting a running sweeper is a no-op
// unless the running loop's context has already ended.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		select {
		case <-s.loopDone:
		default:
			s.log.Sweeper().Debug("sweeper_already_running")
			return
		}
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.loopDone = ctx.Done()

	s.log.Sweeper().Info("sweeper_started", zap.Duration("interval", s.interval))

	s.wg.Add(1)
	go s.loop(ctx, s.stopChan)
}

// Stop stops the loop and waits for the current pass to finish
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper not running")
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Sweeper().Info("sweeper_stopped", zap.Int64("iterations", s.Iterations()))
	return nil
}

// IsRunning returns whether the sweep loop is active
func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Iterations returns how many passes the loop has run
func (s *Sweeper) Iterations() int64 {
	return s.iterations.Load()
}

func (s *Sweeper) loop(ctx context.Context, stop chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Sweeper().Info("sweeper_loop_stopped", zap.String("reason", "context_cancelled"))
			s.mu.Lock()
			// a newer loop may have replaced this one
			if s.stopChan == stop {
				s.running = false
			}
			s.mu.Unlock()
			return
		case <-stop:
			return
		case <-ticker.C:
			s.iterate()
		}
	}
}

// iterate runs one pass; a panic is logged and the loop keeps going
func (s *Sweeper) iterate() {
	defer s.iterations.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.log.LogError(logger.CategorySweeper, "Sweep pass panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	result := s.Sweep()
	if result.Due > 0 {
		s.log.Sweeper().Info("sweep_finished",
			zap.Int("due", result.Due),
			zap.Int("expired", result.Expired),
			zap.Int("failed", result.Failed))
	}
}

// Sweep runs a single pass: every COMPLETED session whose expiry has passed
// loses its file and becomes EXPIRED. A file that is already gone counts as
// deleted. A session whose file cannot be deleted stays COMPLETED and is
// retried on the next pass; it never stops the rest of the pass.
func (s *Sweeper) Sweep() SweepResult {
	var result SweepResult
	now := s.clock.Now()

	for _, session := range s.store.List(domain.SessionFilter{State: domain.StateCompleted}) {
		if !session.IsExpiredAt(now) {
			continue
		}
		result.Due++

		if err := s.removeArtifact(session.ArtifactPath); err != nil {
			result.Failed++
			s.log.LogError(logger.CategorySweeper, "Failed to delete artifact",
				zap.String("session_id", session.ID),
				zap.String("file", session.ArtifactPath),
				zap.Error(err))
			continue
		}

		expired, err := s.store.Update(session.ID, func(d *domain.DownloadSession) error {
			return d.MarkExpired()
		})
		if err != nil {
			result.Failed++
			s.log.LogError(logger.CategorySweeper, "Failed to expire session",
				zap.String("session_id", session.ID),
				zap.Error(err))
			continue
		}

		result.Expired++
		s.log.Sweeper().Info("session_expired",
			zap.String("session_id", session.ID),
			zap.String("file", session.ArtifactPath))
		s.events.Publish(domain.EventExpired, expired)
	}

	return result
}

func (s *Sweeper) removeArtifact(path string) error {
	if path == "" {
		return nil
	}
	if err := s.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
