package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/kacperjurak/goftircore"
	"github.com/kacperjurak/goftircore/pkg/models"
)

// ErrClosed is returned when submitting to a pool that is shutting down.
var ErrClosed = errors.New("worker pool is shut down")

// Pool runs baseline fits on a fixed number of goroutines.
type Pool struct {
	jobs      chan models.WorkItem
	results   chan models.WorkResult
	workers   int
	shutdown  chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	processor ProcessorFunc
	quiet     bool
}

// ProcessorFunc fits s with params. It must honour ctx, which is cancelled
// when the pool shuts down.
type ProcessorFunc func(ctx context.Context, s *goftircore.Spectrum, params goftircore.Params) (*goftircore.Result, error)

// Options holds configuration for creating a new worker pool
type Options struct {
	Workers   int
	Processor ProcessorFunc
	Quiet     bool
}

// New creates a new worker pool with specified configuration
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.Processor == nil {
		opts.Processor = defaultProcessor
	}

	ctx, cancel := context.WithCancel(context.Background())
	// buffered so submitters rarely block while every worker is busy
	pool := &Pool{
		jobs:      make(chan models.WorkItem, opts.Workers*2),
		results:   make(chan models.WorkResult, opts.Workers*2),
		workers:   opts.Workers,
		shutdown:  make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		processor: opts.Processor,
		quiet:     opts.Quiet,
	}

	pool.start()
	return pool
}

func defaultProcessor(ctx context.Context, s *goftircore.Spectrum, params goftircore.Params) (*goftircore.Result, error) {
	res, err := goftircore.NewSpectrumSolver(s, params).Solve(ctx)
	if err != nil {
		return nil, err
	}
	return res, s.Commit(res)
}

func (p *Pool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	if !p.quiet {
		log.Printf("🔧 Worker pool started with %d workers", p.workers)
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case job := <-p.jobs:
			result := p.processJob(job)
			if job.Reply != nil {
				job.Reply <- result
			} else {
				select {
				case p.results <- result:
				case <-p.shutdown:
					return
				}
			}

		case <-p.shutdown:
			return
		}
	}
}

func (p *Pool) processJob(job models.WorkItem) models.WorkResult {
	startTime := time.Now()
	res, err := p.processor(p.ctx, job.Spectrum, job.Params)
	processingTime := time.Since(startTime)

	if !p.quiet {
		name := ""
		if job.Spectrum != nil {
			name = job.Spectrum.Name
		}
		if err != nil {
			log.Printf("❌ Fit %s/%d (%s) failed after %v: %v", job.BatchID, job.ID, name, processingTime, err)
		} else {
			log.Printf("✅ Fit %s/%d (%s) done in %v, %d iterations", job.BatchID, job.ID, name, processingTime, res.Iters)
		}
	}

	return models.WorkResult{
		ID:             job.ID,
		RequestID:      job.RequestID,
		BatchID:        job.BatchID,
		Spectrum:       job.Spectrum,
		Result:         res,
		Err:            err,
		ProcessingTime: processingTime,
	}
}

// SubmitJob queues job, blocking while the queue is full. Jobs with a Reply
// channel must size it so workers never block on delivery.
func (p *Pool) SubmitJob(job models.WorkItem) error {
	select {
	case <-p.shutdown:
		return ErrClosed
	default:
	}
	select {
	case p.jobs <- job:
		return nil
	default:
	}
	if !p.quiet {
		log.Printf("⚠️  Worker pool jobs channel full, job may be delayed")
	}
	select {
	case p.jobs <- job:
		return nil
	case <-p.shutdown:
		return ErrClosed
	}
}

// GetResult retrieves a result for a job submitted without a Reply channel
// (non-blocking)
func (p *Pool) GetResult() (models.WorkResult, bool) {
	select {
	case result := <-p.results:
		return result, true
	default:
		return models.WorkResult{}, false
	}
}

// Workers reports the pool size.
func (p *Pool) Workers() int {
	return p.workers
}

// Shutdown cancels running fits and waits for every worker to exit. Queued
// jobs that never started are dropped.
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() {
		if !p.quiet {
			log.Printf("🛑 Shutting down worker pool...")
		}
		p.cancel()
		close(p.shutdown)
		p.wg.Wait()
		if !p.quiet {
			log.Printf("✅ Worker pool shutdown complete")
		}
	})
}
