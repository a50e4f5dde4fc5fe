package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/social-dl-go/internal/domain"
	"github.com/yourusername/social-dl-go/pkg/logger"
)

const (
	eventBufferSize    = 256
	defaultSinkTimeout = 5 * time.Second
)

// EventBus delivers session events to sinks in order on a single goroutine.
// Publishing never blocks the caller; events are dropped and logged when the
// buffer is full. Sink errors are logged and never reach session state.
type EventBus struct {
	sinks       []domain.EventSink
	clock       Clock
	log         *logger.LoggerAdapter
	sinkTimeout time.Duration
	events      chan domain.SessionEvent
	mu          sync.RWMutex
	running     bool
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// NewEventBus creates a bus delivering to sinks
func NewEventBus(clock Clock, log *logger.LoggerAdapter, sinks ...domain.EventSink) *EventBus {
	if clock == nil {
		clock = SystemClock
	}
	return &EventBus{
		sinks:       sinks,
		clock:       clock,
		log:         log,
		sinkTimeout: defaultSinkTimeout,
		events:      make(chan domain.SessionEvent, eventBufferSize),
	}
}

// Start launches the delivery goroutine
func (b *EventBus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return fmt.Errorf("event bus already running")
	}
	b.running = true
	b.stopChan = make(chan struct{})

	b.wg.Add(1)
	go b.deliver()
	return nil
}

// Stop delivers what is already buffered and then stops
func (b *EventBus) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return fmt.Errorf("event bus not running")
	}
	b.running = false
	close(b.stopChan)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// Publish queues an event for session. A nil bus is a no-op.
func (b *EventBus) Publish(eventType domain.EventType, session domain.DownloadSession) {
	if b == nil || len(b.sinks) == 0 {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.running {
		return
	}

	event := domain.SessionEvent{
		Type:       eventType,
		Session:    session,
		OccurredAt: b.clock.Now(),
	}
	select {
	case b.events <- event:
	default:
		b.log.LogError(logger.CategorySession, "Event buffer full, dropping event",
			zap.String("session_id", session.ID),
			zap.String("event", string(eventType)))
	}
}

func (b *EventBus) deliver() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.events:
			b.dispatch(event)
		case <-b.stopChan:
			for {
				select {
				case event := <-b.events:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *EventBus) dispatch(event domain.SessionEvent) {
	for _, sink := range b.sinks {
		b.send(sink, event)
	}
}

func (b *EventBus) send(sink domain.EventSink, event domain.SessionEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.LogError(logger.CategorySession, "Event sink panicked",
				zap.String("sink", sink.Name()),
				zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), b.sinkTimeout)
	defer cancel()

	if err := sink.Publish(ctx, event); err != nil {
		b.log.LogError(logger.CategorySession, "Event sink failed",
			zap.String("sink", sink.Name()),
			zap.String("session_id", event.Session.ID),
			zap.String("event", string(event.Type)),
			zap.Error(err))
	}
}
