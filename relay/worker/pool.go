// Package worker provides an asynchronous worker pool that hands relay events
// to an eventstream.Publisher.
//
// The pool decouples event publishing from the relay's HTTP hot path so a slow
// or unavailable broker never delays a client response.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/papercomputeco/ragrelay/pkg/eventstream"
)

var (
	defaultNumWorkers     uint = 2
	defaultJobQueueSize   uint = 256
	defaultPublishTimeout      = 5 * time.Second
)

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	Event *eventstream.RelayEvent
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Publisher receives every event. Required.
	Publisher eventstream.Publisher

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// PublishTimeout bounds a single PublishRelay call (defaults to 5s).
	PublishTimeout time.Duration

	// Logger is the provided slog logger
	Logger *slog.Logger
}

// Pool publishes relay events asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Publisher == nil {
		return nil, errors.New("worker pool requires a publisher")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full or the pool is closed,
// resulting in the job being dropped.
func (p *Pool) Enqueue(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("job not queued, pool closed", "request_id", job.Event.RequestID)
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("job queued",
			"request_id", job.Event.RequestID,
			"route", job.Event.Route,
		)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			"request_id", job.Event.RequestID,
			"route", job.Event.Route,
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the relay HTTP server has stopped.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("event worker stopped", "worker_id", id)
}

// processJob publishes one event. Failures are logged and the event dropped.
func (p *Pool) processJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
	defer cancel()

	if err := p.config.Publisher.PublishRelay(ctx, job.Event); err != nil {
		p.logger.Error("relay event publish failed",
			"request_id", job.Event.RequestID,
			"event_id", job.Event.EventID,
			"error", err,
		)
		return
	}

	p.logger.Debug("relay event published",
		"request_id", job.Event.RequestID,
		"event_id", job.Event.EventID,
	)
}
