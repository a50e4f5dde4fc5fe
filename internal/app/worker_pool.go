package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/yourusername/social-dl-go/pkg/logger"
)

var (
	// ErrQueueFull is returned by TrySubmit when every worker is busy and the
	// queue has no free slot
	ErrQueueFull = errors.New("download queue is full")

	// ErrPoolStopped is returned when submitting to a pool that is not running
	ErrPoolStopped = errors.New("worker pool is not running")
)

// TaskFunc is a unit of work. ctx is cancelled when the task handle is
// cancelled or the pool stops.
type TaskFunc func(ctx context.Context)

// TaskHandle tracks one submitted task
type TaskHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Done is closed once the task has returned
func (h *TaskHandle) Done() <-chan struct{} {
	return h.done
}

// Cancel cancels the task's context. A queued task still runs, with an
// already-cancelled context.
func (h *TaskHandle) Cancel() {
	h.cancel()
}

type task struct {
	fn     TaskFunc
	handle *TaskHandle
}

// WorkerPool runs tasks on a fixed number of workers fed by a bounded queue.
// The worker count is a hard cap on concurrently running tasks.
type WorkerPool struct {
	workers  int
	tasks    chan *task
	log      *logger.LoggerAdapter
	mu       sync.RWMutex
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	workerWg sync.WaitGroup
	inFlight atomic.Int64
}

// NewWorkerPool creates a pool with workers goroutines and room for queueSize
// waiting tasks
func NewWorkerPool(workers, queueSize int, log *logger.LoggerAdapter) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &WorkerPool{
		workers: workers,
		tasks:   make(chan *task, queueSize),
		log:     log,
	}
}

// Start launches the workers. Task contexts derive from ctx.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("worker pool already running")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.workerWg.Add(1)
		go p.worker()
	}

	p.log.General().Info("Worker pool started",
		zap.Int("workers", p.workers),
		zap.Int("queue_size", cap(p.tasks)))
	return nil
}

// Stop cancels running tasks, waits for the workers to exit and then runs
// every still-queued task with a cancelled context so none is silently lost
func (p *WorkerPool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("worker pool not running")
	}
	p.running = false
	close(p.stopChan)
	p.cancel()
	p.mu.Unlock()

	p.workerWg.Wait()

	drained := 0
	for {
		select {
		case t := <-p.tasks:
			p.run(t)
			drained++
		default:
			p.log.General().Info("Worker pool stopped", zap.Int("drained", drained))
			return nil
		}
	}
}

// IsRunning returns whether the pool accepts work
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Submit queues fn, blocking while the queue is full until ctx is done. The
// read lock is held across the send so Stop cannot drain the queue between
// the running check and the enqueue; workers keep consuming meanwhile.
func (p *WorkerPool) Submit(ctx context.Context, fn TaskFunc) (*TaskHandle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return nil, ErrPoolStopped
	}

	t := p.newTask(fn)
	select {
	case p.tasks <- t:
		return t.handle, nil
	case <-ctx.Done():
		t.handle.cancel()
		return nil, ctx.Err()
	}
}

// TrySubmit queues fn or fails immediately with ErrQueueFull
func (p *WorkerPool) TrySubmit(fn TaskFunc) (*TaskHandle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return nil, ErrPoolStopped
	}

	t := p.newTask(fn)
	select {
	case p.tasks <- t:
		return t.handle, nil
	default:
		t.handle.cancel()
		return nil, ErrQueueFull
	}
}

// newTask must be called with mu held
func (p *WorkerPool) newTask(fn TaskFunc) *task {
	ctx, cancel := context.WithCancel(p.ctx)
	return &task{
		fn: fn,
		handle: &TaskHandle{
			ctx:    ctx,
			cancel: cancel,
			done:   make(chan struct{}),
		},
	}
}

// InFlight returns the number of tasks currently running
func (p *WorkerPool) InFlight() int {
	return int(p.inFlight.Load())
}

// Queued returns the number of tasks waiting for a worker
func (p *WorkerPool) Queued() int {
	return len(p.tasks)
}

// Workers returns the concurrency cap
func (p *WorkerPool) Workers() int {
	return p.workers
}

func (p *WorkerPool) worker() {
	defer p.workerWg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case t := <-p.tasks:
			p.run(t)
		}
	}
}

// run executes one task. A panicking task is logged and never takes the
// worker down with it.
func (p *WorkerPool) run(t *task) {
	defer close(t.handle.done)
	defer t.handle.cancel()
	defer func() {
		if r := recover(); r != nil {
			p.log.LogError(logger.CategorySession, "Task panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()

	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	t.fn(t.handle.ctx)
}
