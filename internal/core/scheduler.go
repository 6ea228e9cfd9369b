package core

/*
substream — mine subdomain labels from the Certificate Transparency stream
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/x-stp/substream/internal/metrics"

	"github.com/zeebo/xxh3"
)

// SchedulerConfig sizes the worker pool.
type SchedulerConfig struct {
	// Workers is the number of worker goroutines. Zero means runtime.NumCPU().
	Workers int
	// QueueCapacity is the buffered size of each worker queue. Zero means WorkerQueueCapacity.
	QueueCapacity int
	// PinCPUs binds each worker's OS thread to one core where the platform supports it.
	PinCPUs bool
}

// Scheduler manages a pool of worker goroutines and dispatches WorkItems to them
// based on a hash of the item key. Items with the same key always land on the same
// worker and therefore run one after another; different keys spread across workers.
type Scheduler struct {
	numWorkers   int
	workers      []*worker          // Slice of worker goroutine managers.
	ctx          context.Context    // Master context for shutdown signalling.
	cancel       context.CancelFunc // Function to stop the workers.
	shutdown     atomic.Bool        // Flag to prevent submitting work during/after shutdown.
	submitMu     sync.RWMutex       // Orders activeWork.Add against Drain's Wait.
	workItemPool sync.Pool          // Pool for reusing WorkItem structs, reducing GC pressure.
	activeWork   sync.WaitGroup     // Tracks queued and running work items.
	workersDone  sync.WaitGroup     // Tracks worker goroutines.
	metrics      *metrics.Metrics
}

// worker encapsulates a single worker goroutine and its state.
type worker struct {
	id          int
	cpuAffinity int
	pin         bool
	queue       chan *WorkItem
	scheduler   *Scheduler
	ctx         context.Context

	processed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
	maxWait   atomic.Int64 // nanoseconds
}

func (w *worker) recordWait(d time.Duration) {
	for {
		cur := w.maxWait.Load()
		if int64(d) <= cur || w.maxWait.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

// NewScheduler creates and starts the scheduler and its worker pool.
func NewScheduler(parentCtx context.Context, cfg SchedulerConfig) (*Scheduler, error) {
	numWorkers := cfg.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > MaxWorkers {
		return nil, fmt.Errorf("failed to create scheduler: %d workers exceeds maximum of %d", numWorkers, MaxWorkers)
	}
	queueCap := cfg.QueueCapacity
	if queueCap <= 0 {
		queueCap = WorkerQueueCapacity
	}

	// Workers outlive cancellation of the parent; only Drain or Shutdown stops them.
	sctx, cancel := context.WithCancel(context.WithoutCancel(parentCtx))
	s := &Scheduler{
		numWorkers: numWorkers,
		workers:    make([]*worker, numWorkers),
		ctx:        sctx,
		cancel:     cancel,
		workItemPool: sync.Pool{
			New: func() interface{} {
				return &WorkItem{}
			},
		},
		metrics: metrics.GetMetrics(),
	}

	for i := 0; i < numWorkers; i++ {
		w := &worker{
			id:          i,
			cpuAffinity: i % runtime.NumCPU(), // Simple round-robin core assignment.
			pin:         cfg.PinCPUs,
			queue:       make(chan *WorkItem, queueCap),
			scheduler:   s,
			ctx:         sctx,
		}
		s.workers[i] = w
		s.workersDone.Add(1)
		go w.run()
	}

	log.Printf("Scheduler initialized with %d workers (queue capacity %d, cpu pinning %v).", numWorkers, queueCap, cfg.PinCPUs)
	return s, nil
}

// NumWorkers returns the size of the pool.
func (s *Scheduler) NumWorkers() int {
	return s.numWorkers
}

// run is the main processing loop for a single worker goroutine.
// Hot Path: Yes.
func (w *worker) run() {
	defer w.scheduler.workersDone.Done()
	if w.pin {
		setAffinity(w.id, w.cpuAffinity)
	}

	for {
		select {
		case <-w.ctx.Done():
			w.discardQueued()
			return
		case item := <-w.queue:
			if item == nil {
				continue
			}
			w.process(item)
			w.scheduler.metrics.UpdateQueueMetrics(w.id, len(w.queue))

			// Reset fields to avoid data leakage between uses.
			item.Callback = nil
			item.Key = ""
			item.Ctx = nil
			item.CreatedAt = time.Time{}
			w.scheduler.workItemPool.Put(item)
		}
	}
}

// discardQueued releases items still queued when the worker is stopped without a drain.
func (w *worker) discardQueued() {
	for {
		select {
		case item := <-w.queue:
			if item != nil {
				w.scheduler.activeWork.Done()
			}
		default:
			return
		}
	}
}

func (w *worker) process(item *WorkItem) {
	defer w.scheduler.activeWork.Done()
	wait := time.Since(item.CreatedAt)
	w.scheduler.metrics.ObserveQueueWait(wait)
	w.recordWait(wait)
	defer func() {
		if r := recover(); r != nil {
			w.panics.Add(1)
			w.scheduler.metrics.IncWorkerPanic(w.id)
			log.Printf("Panic recovered in worker %d processing key %q: %v", w.id, item.Key, r)
		}
	}()

	if err := item.Callback(item); err != nil {
		w.failed.Add(1)
		log.Printf("Error processing key %q in worker %d: %v", item.Key, w.id, err)
		return
	}
	w.processed.Add(1)
}

func (s *Scheduler) shardFor(key string) *worker {
	return s.workers[xxh3.HashString(key)%uint64(s.numWorkers)]
}

func (s *Scheduler) newItem(ctx context.Context, key string, callback WorkCallback) *WorkItem {
	item := s.workItemPool.Get().(*WorkItem)
	item.Key = key
	item.Callback = callback
	item.Ctx = ctx
	item.CreatedAt = time.Now()
	return item
}

// SubmitWork routes a callback to the worker owning key. It blocks while that worker's
// queue is full and gives up when ctx is done. After Drain or Shutdown has begun it
// returns ErrWorkerShutdown.
func (s *Scheduler) SubmitWork(ctx context.Context, key string, callback WorkCallback) error {
	s.submitMu.RLock()
	defer s.submitMu.RUnlock()
	if s.shutdown.Load() {
		return ErrWorkerShutdown
	}

	target := s.shardFor(key)
	item := s.newItem(ctx, key, callback)
	s.activeWork.Add(1)

	select {
	case target.queue <- item:
		s.metrics.UpdateQueueMetrics(target.id, len(target.queue))
		return nil
	default:
	}

	// Queue is full, wait for room.
	s.metrics.IncBackpressure(target.id)
	select {
	case target.queue <- item:
		return nil
	case <-ctx.Done():
		s.activeWork.Done()
		s.workItemPool.Put(item)
		return fmt.Errorf("submit to worker %d: %w", target.id, ctx.Err())
	case <-s.ctx.Done():
		s.activeWork.Done()
		s.workItemPool.Put(item)
		return ErrWorkerShutdown
	}
}

// TrySubmit is the non-blocking variant of SubmitWork: a full queue yields ErrQueueFull.
func (s *Scheduler) TrySubmit(ctx context.Context, key string, callback WorkCallback) error {
	s.submitMu.RLock()
	defer s.submitMu.RUnlock()
	if s.shutdown.Load() {
		return ErrWorkerShutdown
	}

	target := s.shardFor(key)
	item := s.newItem(ctx, key, callback)
	s.activeWork.Add(1)

	select {
	case target.queue <- item:
		s.metrics.UpdateQueueMetrics(target.id, len(target.queue))
		return nil
	default:
		s.activeWork.Done()
		s.workItemPool.Put(item)
		s.metrics.IncBackpressure(target.id)
		return fmt.Errorf("worker %d for key %q: %w", target.id, key, ErrQueueFull)
	}
}

// Drain stops accepting work, lets every queued and running item finish, then stops
// the workers. If ctx expires first the workers are stopped anyway and ctx.Err() is returned.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.submitMu.Lock()
	first := s.shutdown.CompareAndSwap(false, true)
	s.submitMu.Unlock()
	if !first {
		s.workersDone.Wait()
		return nil
	}

	log.Println("Scheduler draining...")
	done := make(chan struct{})
	go func() {
		s.activeWork.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		log.Printf("Scheduler drain interrupted: %v", err)
	}
	s.cancel()
	s.workersDone.Wait()
	log.Println("Scheduler stopped.")
	return err
}

// Shutdown stops the workers without waiting for queued work.
func (s *Scheduler) Shutdown() {
	s.submitMu.Lock()
	first := s.shutdown.CompareAndSwap(false, true)
	s.submitMu.Unlock()
	if first {
		log.Println("Scheduler shutting down...")
	}
	s.cancel()
	s.workersDone.Wait()
}

// WorkerStats is a snapshot of one worker's counters.
type WorkerStats struct {
	ID        int
	Queued    int
	Processed int64
	Failed    int64
	Panics    int64
	// MaxWait is the longest time any item waited in this worker's queue.
	MaxWait time.Duration
}

// Stats returns per-worker counters.
func (s *Scheduler) Stats() []WorkerStats {
	out := make([]WorkerStats, len(s.workers))
	for i, w := range s.workers {
		out[i] = WorkerStats{
			ID:        w.id,
			Queued:    len(w.queue),
			Processed: w.processed.Load(),
			Failed:    w.failed.Load(),
			Panics:    w.panics.Load(),
			MaxWait:   time.Duration(w.maxWait.Load()),
		}
	}
	return out
}
