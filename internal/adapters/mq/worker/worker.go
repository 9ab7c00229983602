// Package worker scores queued student records and writes the results to
// the ranking store.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/trophy/internal/adapters/repository"
	"github.com/okian/trophy/internal/domain/achievement"
	"github.com/okian/trophy/internal/domain/model"
	"github.com/okian/trophy/internal/domain/types"
	"github.com/okian/trophy/pkg/logger"
	"github.com/okian/trophy/pkg/metrics"
)

const (
	poolShutdownTimeout = 30 * time.Second
	maxReconcileRounds  = 16
)

// ErrUnsettled is returned when a student keeps changing while its ranking
// row is being written.
var ErrUnsettled = errors.New("student kept changing during reconcile")

// Job is what workers read off the queue.
type Job = model.ScoreJob

// Updater writes a student's score to the ranking store.
type Updater interface {
	Upsert(ctx context.Context, s types.Standing) error
	Remove(ctx context.Context, urn string) error
}

// Snapshot is a student's directory state at one version.
type Snapshot struct {
	Record  model.StudentRecord
	Exists  bool
	Version uint64
}

// Source serves the current state of a student. Changed reports whether
// the student moved past version since it was read.
type Source interface {
	Snapshot(ctx context.Context, urn string) (Snapshot, error)
	Changed(urn string, version uint64) bool
}

// Scorer computes the achievement result for a record.
type Scorer interface {
	Score(ctx context.Context, rec model.StudentRecord) (achievement.Result, error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Job
}

// Worker processes jobs until the queue is drained or it is stopped.
type Worker interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// counters are shared by every worker of a pool.
type counters struct {
	processed atomic.Int64
	failed    atomic.Int64
}

// InMemoryWorker scores jobs from a Queue and upserts them into an Updater.
type InMemoryWorker struct {
	queue     Queue
	scorer    Scorer
	updater   Updater
	name      string
	onFailure FailureFunc
	source    Source
	counters  *counters

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, scorer Scorer, updater Updater, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    queue,
		scorer:   scorer,
		updater:  updater,
		name:     "worker",
		counters: &counters{},
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.With(logger.String("worker", w.name))
	}
	return w
}

// Run starts the worker loop. It returns when the queue channel closes,
// ctx is cancelled, or Shutdown is called.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.process(ctx, job); err != nil {
				w.counters.failed.Add(1)
				if w.onFailure != nil {
					w.onFailure(ctx, job, err)
				}
				continue
			}
			w.counters.processed.Add(1)
		}
	}
}

// Shutdown stops the worker after its current job.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, job Job) error { //nolint:gocritic // hugeParam: Job is received by value from the channel
	if w.source != nil {
		return w.reconcile(ctx, job.JobID, job.Record.URN)
	}
	start := time.Now()
	res, err := w.scorer.Score(ctx, job.Record)
	if err != nil {
		metrics.RecordScoringError()
		metrics.RecordWorkerError("score")
		w.logger.Error(ctx, "scoring failed",
			logger.String("job_id", job.JobID),
			logger.String("urn", job.Record.URN),
			logger.Error(err),
		)
		return fmt.Errorf("score job %s: %w", job.JobID, err)
	}
	Observe(res, time.Since(start))

	st := standing(job.Record, res.Total)
	if err := w.updater.Upsert(ctx, st); err != nil {
		metrics.RecordWorkerError("store")
		w.logger.Error(ctx, "leaderboard update failed",
			logger.String("job_id", job.JobID),
			logger.String("urn", job.Record.URN),
			logger.Error(err),
		)
		return fmt.Errorf("store job %s: %w", job.JobID, err)
	}
	w.logger.Debug(ctx, "scored",
		logger.String("urn", st.URN),
		logger.Int("total", res.Total),
		logger.Bool("pending_resolved", res.PendingResolved),
	)
	return nil
}

// reconcile scores the student as the source holds it now, so a job that
// sat in the queue behind a newer submission or a delete cannot leave a
// stale row behind.
func (w *InMemoryWorker) reconcile(ctx context.Context, jobID, urn string) error {
	start := time.Now()
	snap, res, err := Reconcile(ctx, w.source, w.scorer, w.updater, urn)
	if err != nil {
		metrics.RecordWorkerError("reconcile")
		w.logger.Error(ctx, "reconcile failed",
			logger.String("job_id", jobID),
			logger.String("urn", urn),
			logger.Error(err),
		)
		return fmt.Errorf("reconcile job %s: %w", jobID, err)
	}
	if !snap.Exists {
		w.logger.Debug(ctx, "student no longer exists, row removed", logger.String("urn", urn))
		return nil
	}
	Observe(res, time.Since(start))
	w.logger.Debug(ctx, "scored",
		logger.String("urn", urn),
		logger.Int("total", res.Total),
		logger.Bool("pending_resolved", res.PendingResolved),
	)
	return nil
}

// Reconcile brings urn's ranking row in line with src: the current record
// is scored and upserted, or the row is removed when the student is gone.
// It repeats while the student changes underneath the write.
func Reconcile(ctx context.Context, src Source, scorer Scorer, upd Updater, urn string) (Snapshot, achievement.Result, error) {
	for round := 0; round < maxReconcileRounds; round++ {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, achievement.Result{}, err
		}
		snap, err := src.Snapshot(ctx, urn)
		if err != nil {
			return Snapshot{}, achievement.Result{}, fmt.Errorf("load %s: %w", urn, err)
		}

		var res achievement.Result
		if snap.Exists {
			if res, err = scorer.Score(ctx, snap.Record); err != nil {
				metrics.RecordScoringError()
				return snap, res, fmt.Errorf("score %s: %w", urn, err)
			}
			err = upd.Upsert(ctx, standing(snap.Record, res.Total))
		} else if err = upd.Remove(ctx, urn); errors.Is(err, repository.ErrNotFound) {
			err = nil
		}
		if err != nil {
			return snap, res, fmt.Errorf("store %s: %w", urn, err)
		}

		if !src.Changed(urn, snap.Version) {
			return snap, res, nil
		}
	}
	return Snapshot{}, achievement.Result{}, fmt.Errorf("%w: %s", ErrUnsettled, urn)
}

func standing(rec model.StudentRecord, total int) types.Standing {
	return types.Standing{
		URN:    rec.URN,
		Name:   rec.Name,
		Branch: rec.Branch,
		Year:   rec.Year,
		Score:  total,
	}
}

// Observe records scoring metrics for one result.
func Observe(res achievement.Result, took time.Duration) {
	for _, e := range res.Entries {
		metrics.RecordEntryOutcome(e.Level.String(), e.Position.String())
	}
	if res.CaptainBonus > 0 {
		metrics.RecordBonus("captain")
	}
	if res.SportBonus > 0 {
		metrics.RecordBonus("sport")
	}
	metrics.RecordScored(res.Total, float64(took.Microseconds())/1000)
}

// Pool manages multiple workers reading the same queue.
type Pool struct {
	workers  []*InMemoryWorker
	queue    Queue
	counters *counters
	logger   logger.Logger
}

// NewPool creates a worker pool. A count below 1 uses the CPU count.
func NewPool(workerCount int, queue Queue, scorer Scorer, updater Updater, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	p := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    queue,
		counters: &counters{},
		logger:   logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		w := NewInMemoryWorker(queue, scorer, updater, wopts...)
		w.counters = p.counters
		p.workers[i] = w
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns how many jobs were scored and stored.
func (p *Pool) Processed() int64 { return p.counters.processed.Load() }

// Failed returns how many jobs failed.
func (p *Pool) Failed() int64 { return p.counters.failed.Load() }

// Shutdown closes the queue and waits for workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	metrics.UpdateWorkerCount(0)
	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
	return nil
}
