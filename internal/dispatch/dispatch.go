// Package dispatch runs enrichment off the submission path: extraction of a
// new reflection and, when the cadence says so, a personality rebuild.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bowerhall/kindred/internal/essence"
	"github.com/bowerhall/kindred/internal/logger"
	"github.com/bowerhall/kindred/internal/store"
)

const (
	defaultWorkers    = 2
	defaultQueueSize  = 256
	defaultJobTimeout = 5 * time.Minute
)

type Extractor interface {
	Extract(ctx context.Context, reflectionID string) (*essence.Result, error)
}

type Rebuilder interface {
	Rebuild(ctx context.Context, ownerID string) (*store.Personality, error)
}

type Kind string

const (
	KindExtract Kind = "extract"
	KindRebuild Kind = "rebuild"
)

type Job struct {
	Kind         Kind
	ReflectionID string
	OwnerID      string
}

// Failure describes a job step that did not complete.
type Failure struct {
	Job   Job
	Stage string
	Err   error
	At    time.Time
}

type Config struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
}

type Dispatcher struct {
	extractor  Extractor
	rebuilder  Rebuilder
	queue      chan Job
	failures   chan Failure
	workers    int
	jobTimeout time.Duration

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

func New(ex Extractor, rb Rebuilder, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}

	return &Dispatcher{
		extractor:  ex,
		rebuilder:  rb,
		queue:      make(chan Job, cfg.QueueSize),
		failures:   make(chan Failure, cfg.QueueSize),
		workers:    cfg.Workers,
		jobTimeout: cfg.JobTimeout,
	}
}

// Start launches the workers. Jobs run under ctx (not the submitter's
// context) and workers exit when it is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.stopped {
		return
	}
	d.started = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(ctx, i)
	}
	logger.Info("dispatcher started", "workers", d.workers, "queue", cap(d.queue))
}

// Submit queues extraction for a new reflection. It never blocks; false
// means the job was dropped because the queue is full or the dispatcher
// has stopped.
func (d *Dispatcher) Submit(reflectionID, ownerID string) bool {
	return d.enqueue(Job{Kind: KindExtract, ReflectionID: reflectionID, OwnerID: ownerID})
}

// SubmitRebuild queues a personality rebuild for the owner.
func (d *Dispatcher) SubmitRebuild(ownerID string) bool {
	return d.enqueue(Job{Kind: KindRebuild, OwnerID: ownerID})
}

func (d *Dispatcher) enqueue(job Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		logger.Warn("dispatcher stopped, dropping job", "kind", job.Kind, "reflection", job.ReflectionID, "owner", job.OwnerID)
		return false
	}

	select {
	case d.queue <- job:
		return true
	default:
		logger.Warn("dispatch queue full, dropping job", "kind", job.Kind, "reflection", job.ReflectionID, "owner", job.OwnerID)
		return false
	}
}

// Failures reports failed job steps. Failures nobody receives are dropped
// once the buffer is full. The channel is closed by Stop.
func (d *Dispatcher) Failures() <-chan Failure {
	return d.failures
}

// Stop refuses new jobs, lets the workers drain the queue and waits for them.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	close(d.failures)
	logger.Info("dispatcher stopped")
}

// Pending returns the number of queued jobs.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

func (d *Dispatcher) work(ctx context.Context, id int) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-d.queue:
			if !ok {
				return
			}
			d.run(ctx, job)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.fail(job, string(job.Kind), fmt.Errorf("panic: %v", r))
		}
	}()

	switch job.Kind {
	case KindExtract:
		res, err := d.extract(ctx, job)
		if err != nil {
			d.fail(job, essence.Stage, err)
			return
		}
		if res.ShouldAggregate {
			d.rebuild(ctx, job)
		}
	case KindRebuild:
		d.rebuild(ctx, job)
	default:
		d.fail(job, "dispatch", fmt.Errorf("unknown job kind %q", job.Kind))
	}
}

func (d *Dispatcher) extract(ctx context.Context, job Job) (*essence.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.jobTimeout)
	defer cancel()

	return d.extractor.Extract(ctx, job.ReflectionID)
}

func (d *Dispatcher) rebuild(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(ctx, d.jobTimeout)
	defer cancel()

	if _, err := d.rebuilder.Rebuild(ctx, job.OwnerID); err != nil {
		d.fail(job, "aggregation", err)
	}
}

func (d *Dispatcher) fail(job Job, stage string, err error) {
	log := logger.Error
	if errors.Is(err, essence.ErrNeedsTranscription) || errors.Is(err, context.Canceled) {
		log = logger.Info
	}
	log("enrichment failed", "stage", stage, "reflection", job.ReflectionID, "owner", job.OwnerID, "error", err)

	select {
	case d.failures <- Failure{Job: job, Stage: stage, Err: err, At: time.Now()}:
	default:
	}
}
