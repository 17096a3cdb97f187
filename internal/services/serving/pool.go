package serving

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Pool runs submitted functions on a fixed set of worker goroutines, keeping
// forward passes off request goroutines. Submitters that need a result read
// it from a channel their closure writes to.
type Pool struct {
	tasks    chan func()
	workers  int
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

func NewPool(workers, queueDepth int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth < workers {
		queueDepth = workers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		tasks:   make(chan func(), queueDepth),
		workers: workers,
		stopCh:  make(chan struct{}),
		logger:  logger,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.logger.Info("Starting inference workers", zap.Int("workers", p.workers))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case fn := <-p.tasks:
			fn()
		}
	}
}

// Submit queues fn for execution. It blocks while the queue is full and
// fails with the context error or ErrShutdown instead of queueing work that
// nobody will run.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	select {
	case <-p.stopCh:
		return ErrShutdown
	default:
	}
	select {
	case p.tasks <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return ErrShutdown
	}
}

// Depth reports how many tasks are queued but not yet picked up.
func (p *Pool) Depth() int {
	return len(p.tasks)
}

// Stop halts the workers after their current task. Queued tasks that no
// worker picked up are dropped.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
	p.wg.Wait()
	p.logger.Info("Inference workers stopped")
}
