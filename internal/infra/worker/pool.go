// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"video-generation-service/internal/domain"
	"video-generation-service/internal/infra/metrics"
)

// Task is a unit of work run by the pool. ctx is the pool's context: it is
// cancelled when the pool shuts down.
type Task = func(ctx context.Context) error

// Pool runs submitted tasks on a fixed number of goroutines. It never queues
// more tasks than it has workers, so Free is an exact admission budget.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan Task
	quit chan struct{}
	n    int
	log  *zerolog.Logger

	mu       sync.Mutex
	busy     int
	started  bool
	stopped  bool
	stopOnce sync.Once
	ctx      context.Context
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	l := logger.With().Str("component", "worker_pool").Logger()
	return &Pool{
		jobs: make(chan Task, workers),
		quit: make(chan struct{}),
		n:    workers,
		log:  &l,
		ctx:  context.Background(),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.ctx = ctx
	p.mu.Unlock()

	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case task := <-p.jobs:
					p.run(ctx, id, task)
				}
			}
		}(i)
	}
	p.log.Info().Int("workers", p.n).Msg("worker pool started")
}

// Stop waits for running tasks, then runs whatever is still queued with the
// (cancelled) pool context so that every accepted task observes the shutdown.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		ctx := p.ctx
		p.mu.Unlock()

		close(p.quit)
		p.wg.Wait()
		for {
			select {
			case task := <-p.jobs:
				p.run(ctx, -1, task)
			default:
				p.log.Info().Msg("worker pool stopped")
				return
			}
		}
	})
}

// Submit enqueues task or returns domain.ErrQueueFull when every worker is
// already spoken for or the pool is shutting down.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing() || p.busy >= p.n {
		return domain.ErrQueueFull
	}
	p.busy++
	metrics.SetWorkersBusy(p.busy)
	p.jobs <- task // never blocks: len(jobs) <= busy <= cap(jobs)
	return nil
}

// Free returns how many more tasks Submit will accept right now.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing() {
		return 0
	}
	return p.n - p.busy
}

// closing reports whether Stop ran or the pool context ended. Caller holds mu.
func (p *Pool) closing() bool {
	return p.stopped || p.ctx.Err() != nil
}

func (p *Pool) Size() int { return p.n }

func (p *Pool) run(ctx context.Context, id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Int("worker", id).Interface("panic", r).Msg("worker task panicked")
		}
		p.mu.Lock()
		p.busy--
		metrics.SetWorkersBusy(p.busy)
		p.mu.Unlock()
	}()
	if err := task(ctx); err != nil {
		p.log.Warn().Err(err).Int("worker", id).Msg("worker task error")
	}
}
