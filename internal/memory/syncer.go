package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iammorganparry/clive/apps/projmem/internal/cache"
	"github.com/iammorganparry/clive/apps/projmem/internal/models"
	"github.com/iammorganparry/clive/apps/projmem/internal/vectorsync"
)

// VectorLeaser hands out leased vector clients. *cache.Manager implements it.
type VectorLeaser interface {
	Vector(p models.Project) (*cache.Lease[*vectorsync.Client], error)
}

type syncJob struct {
	project models.Project
	docs    []vectorsync.Document
}

// Syncer indexes records into the vector subsystem in the background. Jobs
// are never retried: a failure is logged and discarded, and a full queue
// drops the job.
type Syncer struct {
	vectors VectorLeaser
	queue   chan syncJob
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
	failed  atomic.Int64
	done    atomic.Int64
}

// SyncerOptions configures the worker pool.
type SyncerOptions struct {
	Workers   int
	QueueSize int
	// Timeout bounds one job, including connection setup.
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewSyncer starts opts.Workers workers.
func NewSyncer(vectors VectorLeaser, opts SyncerOptions) *Syncer {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Syncer{
		vectors: vectors,
		queue:   make(chan syncJob, opts.QueueSize),
		timeout: opts.Timeout,
		logger:  logger.With("component", "syncer"),
	}
	for i := 0; i < opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Enqueue schedules docs for indexing without blocking. It reports whether
// the job was accepted.
func (s *Syncer) Enqueue(p models.Project, docs ...vectorsync.Document) bool {
	if len(docs) == 0 {
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return false
	}

	select {
	case s.queue <- syncJob{project: p, docs: docs}:
		return true
	default:
		s.dropped.Add(1)
		s.logger.Warn("sync queue full, dropping job", "project_id", p.ID, "documents", len(docs))
		return false
	}
}

// Pending is the number of queued jobs.
func (s *Syncer) Pending() int {
	return len(s.queue)
}

// Dropped counts jobs discarded because the queue was full or closed.
func (s *Syncer) Dropped() int64 {
	return s.dropped.Load()
}

// Failed counts jobs whose indexing returned an error or panicked.
func (s *Syncer) Failed() int64 {
	return s.failed.Load()
}

// Completed counts jobs indexed successfully.
func (s *Syncer) Completed() int64 {
	return s.done.Load()
}

// Close stops accepting jobs, drains the queue and waits for the workers.
func (s *Syncer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Syncer) worker() {
	defer s.wg.Done()
	for job := range s.queue {
		if err := s.run(job); err != nil {
			s.failed.Add(1)
			s.logger.Warn("vector sync failed", "project_id", job.project.ID, "documents", len(job.docs), "error", err)
			continue
		}
		s.done.Add(1)
	}
}

func (s *Syncer) run(job syncJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in vector sync", "project_id", job.project.ID, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	lease, err := s.vectors.Vector(job.project)
	if err != nil {
		return fmt.Errorf("lease vector client: %w", err)
	}
	defer lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return lease.Value.Upsert(ctx, job.docs)
}
