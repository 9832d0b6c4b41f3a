// Package jobqueue runs a fixed-size worker pool over the durable
// memory_jobs table (spec.md §4.2). It generalizes the teacher's
// internal/engine worker pool — a fixed goroutine count draining an
// in-memory chan *EnrichmentJob (enrichment_worker.go) — to a leased SQL
// table so queued work survives a daemon restart (spec.md §5
// "leftover processing rows... daemon_restart").
package jobqueue

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/memento-core/daemon/internal/store"
	"github.com/memento-core/daemon/pkg/types"
)

// Dispatcher executes one leased job and returns its raw JSON result.
// Implementations live in internal/pipeline, keyed by job.JobType.
type Dispatcher interface {
	Dispatch(ctx context.Context, job types.Job) (result string, err error)
}

// Config tunes the worker pool. Zero values fall back to the defaults
// spec.md §4.2 names.
type Config struct {
	NumWorkers      int
	BatchSize       int           // jobs leased per poll, per worker
	PollInterval    time.Duration // sleep when lease returns nothing
	LeaseTimeout    time.Duration // a processing job older than this is re-leasable
	JobTimeout      time.Duration // per-job dispatch deadline
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.NumWorkers <= 0 {
		c.NumWorkers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = 2 * time.Minute
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Pool is the durable analogue of the teacher's MemoryEngine worker pool:
// a fixed set of goroutines, each looping lease -> dispatch -> complete/
// fail, instead of ranging over a channel until it closes.
type Pool struct {
	queue      store.JobQueue
	dispatcher Dispatcher
	cfg        Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool constructs a worker pool bound to queue and dispatcher.
func NewPool(queue store.JobQueue, dispatcher Dispatcher, cfg Config) *Pool {
	return &Pool{queue: queue, dispatcher: dispatcher, cfg: cfg.withDefaults()}
}

// Start launches the worker goroutines. Mirrors the teacher's
// startWorkerPool, one goroutine per worker added to a shared WaitGroup.
func (p *Pool) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.cfg.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(workerCtx, i)
	}
	log.Printf("jobqueue: started %d workers", p.cfg.NumWorkers)
}

// Stop requests shutdown and waits for in-flight jobs to finish, up to
// ShutdownTimeout — mirrors the teacher's stopWorkerPool select between
// WaitGroup drain, a timeout, and external context cancellation.
func (p *Pool) Stop(ctx context.Context) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("jobqueue: all workers stopped")
		return nil
	case <-time.After(p.cfg.ShutdownTimeout):
		log.Println("jobqueue: shutdown timeout reached, workers may still be finishing their current job")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) run(ctx context.Context, workerID int) {
	defer p.wg.Done()
	self := workerName(workerID)
	log.Printf("jobqueue: worker %s started", self)

	for {
		select {
		case <-ctx.Done():
			log.Printf("jobqueue: worker %s stopped", self)
			return
		default:
		}

		jobs, err := p.queue.Lease(ctx, self, p.cfg.BatchSize, p.cfg.LeaseTimeout)
		if err != nil {
			log.Printf("jobqueue: worker %s lease error: %v", self, err)
			sleep(ctx, p.cfg.PollInterval)
			continue
		}
		if len(jobs) == 0 {
			sleep(ctx, p.cfg.PollInterval)
			continue
		}

		for _, job := range jobs {
			p.process(ctx, self, job)
		}
	}
}

func (p *Pool) process(ctx context.Context, workerID string, job types.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	result, err := p.dispatcher.Dispatch(jobCtx, job)
	if err != nil {
		log.Printf("jobqueue: worker %s job %s (%s) failed: %v", workerID, job.ID, job.JobType, err)
		if failErr := p.queue.Fail(ctx, job.ID, err.Error()); failErr != nil {
			log.Printf("jobqueue: worker %s failed to record failure for job %s: %v", workerID, job.ID, failErr)
		}
		return
	}
	if err := p.queue.Complete(ctx, job.ID, result); err != nil {
		log.Printf("jobqueue: worker %s failed to mark job %s completed: %v", workerID, job.ID, err)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func workerName(id int) string {
	return "worker-" + strconv.Itoa(id)
}
