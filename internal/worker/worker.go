// Package worker provides the bounded background pool the control plane runs
// provisioning and deploy jobs on. Submissions are named tasks; the pool
// bounds concurrency, recovers panics, and drains cleanly on shutdown.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Task is one unit of background work.
type Task struct {
	Name string
	Func func(context.Context) error
}

// Metrics are the pool's Prometheus collectors. Register them once on the
// process registry.
type Metrics struct {
	Submitted prometheus.Counter
	Rejected  prometheus.Counter
	Failed    prometheus.Counter
	Panics    prometheus.Counter
	InFlight  prometheus.Gauge
	QueueLen  prometheus.GaugeFunc
}

// Pool runs tasks on a fixed number of goroutines over a bounded queue.
type Pool struct {
	queue   chan Task
	log     *zap.Logger
	metrics *Metrics

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// New starts a pool with the given worker count and queue capacity. A nil
// logger falls back to zap.NewNop.
func New(workers, queueSize int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:  make(chan Task, queueSize),
		log:    log,
		cancel: cancel,
	}
	p.metrics = newMetrics(p)

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

func newMetrics(p *Pool) *Metrics {
	return &Metrics{
		Submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atlas_worker_tasks_submitted_total",
			Help: "Tasks accepted onto the worker queue.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atlas_worker_tasks_rejected_total",
			Help: "Tasks rejected because the queue was full or the pool stopped.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atlas_worker_tasks_failed_total",
			Help: "Tasks that returned an error.",
		}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "atlas_worker_task_panics_total",
			Help: "Tasks that panicked and were recovered.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "atlas_worker_tasks_in_flight",
			Help: "Tasks currently executing.",
		}),
		QueueLen: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "atlas_worker_queue_length",
			Help: "Tasks waiting on the queue.",
		}, func() float64 { return float64(len(p.queue)) }),
	}
}

// Metrics returns the pool's collectors for registration.
func (p *Pool) Metrics() *Metrics {
	return p.metrics
}

// Collectors returns every collector for a single Register call.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.Submitted, m.Rejected, m.Failed, m.Panics, m.InFlight, m.QueueLen}
}

// Submit queues a task without blocking. It returns an error when the queue
// is full or the pool has been shut down; the caller surfaces that instead of
// silently dropping work.
func (p *Pool) Submit(task Task) error {
	// The mutex is held across the send so Shutdown cannot close the queue
	// between the stopped check and the send. The send never blocks, so the
	// critical section stays short.
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		p.metrics.Rejected.Inc()
		return fmt.Errorf("submit %s: pool is shut down", task.Name)
	}

	select {
	case p.queue <- task:
		p.metrics.Submitted.Inc()
		return nil
	default:
		p.metrics.Rejected.Inc()
		return fmt.Errorf("submit %s: queue is full", task.Name)
	}
}

// Shutdown stops intake, cancels running tasks, and waits for the workers to
// drain or ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for task := range p.queue {
		p.runTask(ctx, id, task)
	}
}

func (p *Pool) runTask(ctx context.Context, id int, task Task) {
	p.metrics.InFlight.Inc()
	defer p.metrics.InFlight.Dec()
	defer func() {
		if r := recover(); r != nil {
			p.metrics.Panics.Inc()
			p.log.Error("task panicked",
				zap.String("task", task.Name),
				zap.Int("worker", id),
				zap.Any("panic", r))
		}
	}()

	if err := task.Func(ctx); err != nil {
		p.metrics.Failed.Inc()
		p.log.Error("task failed",
			zap.String("task", task.Name),
			zap.Int("worker", id),
			zap.Error(err))
	}
}
