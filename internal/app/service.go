// Package service wires the directory, ranking store, dedupe, queue, worker
// pool and achievement engine into the operations the adapters expose.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/trophy/internal/adapters/directory"
	eventqueue "github.com/okian/trophy/internal/adapters/mq/queue"
	workerpool "github.com/okian/trophy/internal/adapters/mq/worker"
	"github.com/okian/trophy/internal/adapters/repository"
	"github.com/okian/trophy/internal/domain/achievement"
	"github.com/okian/trophy/internal/domain/dedupe"
	"github.com/okian/trophy/internal/domain/model"
	"github.com/okian/trophy/internal/domain/types"
	"github.com/okian/trophy/pkg/logger"
	"github.com/okian/trophy/pkg/metrics"
)

// Directory is the persistent source of student records.
type Directory interface {
	Put(ctx context.Context, rec model.StudentRecord) error
	Get(ctx context.Context, urn string) (model.StudentRecord, error)
	List(ctx context.Context, f directory.Filter) ([]model.StudentRecord, error)
	Delete(ctx context.Context, urn string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// SubmitAck acknowledges one submitted record.
type SubmitAck struct {
	URN       string `json:"urn"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
	JobID     string `json:"job_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Stats is a point-in-time view of the service for monitoring.
type Stats struct {
	Started       bool  `json:"started"`
	Workers       int   `json:"worker_count"`
	QueueCapacity int   `json:"queue_capacity"`
	QueueLength   int   `json:"queue_length"`
	DedupeEntries int64 `json:"dedupe_entries"`
	Students      int   `json:"students"`
	Ranked        int   `json:"ranked"`
	Processed     int64 `json:"jobs_processed"`
	Failed        int64 `json:"jobs_failed"`
}

// Service implements the operations behind the HTTP API and the CLI.
type Service struct {
	mu sync.RWMutex

	directory Directory
	store     repository.Store
	deduper   dedupe.Deduper
	queue     eventqueue.Queue
	engine    *achievement.Engine
	pool      *workerpool.Pool
	versions  *versions

	ownsDirectory bool
	ownsStore     bool
	// stopped is set once Stop has closed a directory or store that was
	// supplied through options; such a service cannot start again.
	stopped bool

	workerCount      int
	queueSize        int
	dedupeSize       int
	scoreConcurrency int
	rebuildOnStart   bool

	started bool
	logger  logger.Logger
}

// New constructs a Service. Components not supplied through options are
// created by Start.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:      runtime.NumCPU(),
		queueSize:        10000,
		dedupeSize:       50000,
		scoreConcurrency: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.stopped {
		return ErrStopped
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting trophy service...")

	if s.directory == nil {
		dir, err := directory.Open(ctx, directory.DriverSQLite, ":memory:")
		if err != nil {
			return fmt.Errorf("open default directory: %w", err)
		}
		s.directory = dir
		s.ownsDirectory = true
		s.logger.Info(ctx, "using in-memory sqlite directory")
	}
	if s.store == nil {
		s.store = repository.NewTreapStore(ctx)
		s.ownsStore = true
		s.logger.Info(ctx, "using treap store")
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.engine = achievement.NewEngine(achievement.WithConcurrency(s.scoreConcurrency))
	s.versions = newVersions()
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.engine, s.store,
		workerpool.WithFailureHandler(s.onJobFailure),
		workerpool.WithSource(s.source()),
	)
	s.pool.Start(ctx)
	s.started = true

	if s.rebuildOnStart {
		n, err := s.rebuild(ctx, directory.Filter{})
		if err != nil {
			s.logger.Error(ctx, "rebuild on start failed", logger.Error(err))
		} else {
			s.logger.Info(ctx, "leaderboard rebuilt", logger.Int("students", n))
		}
	}

	s.logger.Info(ctx, "trophy service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
	)
	return nil
}

// onJobFailure forgets the fingerprint so the same record can be retried.
func (s *Service) onJobFailure(ctx context.Context, job model.ScoreJob, _ error) {
	s.deduper.Forget(ctx, job.Record.URN)
}

func (s *Service) source() directorySource {
	return directorySource{dir: s.directory, versions: s.versions}
}

// Stop drains the queue and releases every component. Components the
// service created are dropped so a later Start creates fresh ones; a
// directory or store supplied through options stays closed and Start then
// returns ErrStopped.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping trophy service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := s.directory.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close directory: %w", err))
	}
	if s.ownsStore {
		s.store, s.ownsStore = nil, false
	} else {
		s.stopped = true
	}
	if s.ownsDirectory {
		s.directory, s.ownsDirectory = nil, false
	} else {
		s.stopped = true
	}
	s.started = false
	s.logger.Info(ctx, "trophy service stopped")
	return errors.Join(errs...)
}

// running returns ErrNotStarted unless Start has completed.
func (s *Service) running() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

func normalize(rec model.StudentRecord) (model.StudentRecord, error) {
	rec.URN = strings.TrimSpace(rec.URN)
	if rec.URN == "" {
		return rec, fmt.Errorf("%w: missing urn", ErrInvalidRecord)
	}
	if rec.Year < 0 {
		return rec, fmt.Errorf("%w: negative year", ErrInvalidRecord)
	}
	return rec, nil
}

// Submit stores the record and queues it for scoring. A record identical
// to the last accepted version of the same student is acknowledged as a
// duplicate without rescoring. Workers score whatever the directory holds
// when the job runs, so the last accepted version always wins.
func (s *Service) Submit(ctx context.Context, rec model.StudentRecord) (SubmitAck, error) {
	if err := s.running(); err != nil {
		return SubmitAck{}, err
	}
	rec, err := normalize(rec)
	if err != nil {
		return SubmitAck{}, err
	}

	st := s.versions.lock(rec.URN)
	defer st.mu.Unlock()
	if err := s.directory.Put(ctx, rec); err != nil {
		return SubmitAck{}, fmt.Errorf("persist %s: %w", rec.URN, err)
	}

	if s.deduper.SeenAndRecord(ctx, rec.URN, model.Fingerprint(rec)) {
		metrics.RecordSubmissionDuplicate()
		s.logger.Debug(ctx, "duplicate submission skipped", logger.String("urn", rec.URN))
		return SubmitAck{URN: rec.URN, Status: "duplicate", Duplicate: true}, nil
	}
	s.versions.bump(st, rec.URN)

	job := model.ScoreJob{JobID: uuid.NewString(), Record: rec}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.deduper.Forget(ctx, rec.URN)
		if errors.Is(err, eventqueue.ErrFull) || errors.Is(err, eventqueue.ErrClosed) {
			return SubmitAck{}, fmt.Errorf("%w: %v", ErrBackpressure, err)
		}
		return SubmitAck{}, err
	}
	metrics.RecordSubmission()
	return SubmitAck{URN: rec.URN, Status: "accepted", JobID: job.JobID}, nil
}

// SubmitBatch submits each record and reports per-record outcomes. Only a
// stopped service fails the batch as a whole.
func (s *Service) SubmitBatch(ctx context.Context, recs []model.StudentRecord) ([]SubmitAck, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	acks := make([]SubmitAck, 0, len(recs))
	for _, rec := range recs {
		ack, err := s.Submit(ctx, rec)
		if err != nil {
			status := "error"
			if errors.Is(err, ErrBackpressure) {
				status = "rejected"
			}
			ack = SubmitAck{URN: strings.TrimSpace(rec.URN), Status: status, Error: err.Error()}
		}
		acks = append(acks, ack)
	}
	return acks, nil
}

// Get returns the stored record for urn.
func (s *Service) Get(ctx context.Context, urn string) (model.StudentRecord, error) {
	if err := s.running(); err != nil {
		return model.StudentRecord{}, err
	}
	rec, err := s.directory.Get(ctx, urn)
	if errors.Is(err, directory.ErrNotFound) {
		return model.StudentRecord{}, fmt.Errorf("%w: %s", ErrNotFound, urn)
	}
	return rec, err
}

// Delete removes a student from the directory and the leaderboard. A job
// for the student still in flight removes its own row once it sees the
// student is gone.
func (s *Service) Delete(ctx context.Context, urn string) error {
	if err := s.running(); err != nil {
		return err
	}

	st := s.versions.lock(urn)
	defer st.mu.Unlock()
	if err := s.directory.Delete(ctx, urn); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, urn)
		}
		return err
	}
	delete(st.seen, urn)
	s.deduper.Forget(ctx, urn)
	if err := s.store.Remove(ctx, urn); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("remove %s from leaderboard: %w", urn, err)
	}
	return nil
}

// Breakdown rescores the stored record synchronously and returns the full
// result.
func (s *Service) Breakdown(ctx context.Context, urn string) (achievement.Result, error) {
	rec, err := s.Get(ctx, urn)
	if err != nil {
		return achievement.Result{}, err
	}
	return s.engine.Score(ctx, rec)
}

// ScoreRecords scores records without storing them.
func (s *Service) ScoreRecords(ctx context.Context, recs []model.StudentRecord) ([]achievement.Result, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	return s.engine.ScoreAll(ctx, recs)
}

// TopN returns the top N leaderboard entries.
func (s *Service) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	entries, err := s.store.TopN(ctx, n)
	if errors.Is(err, repository.ErrInvalidLimit) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, n)
	}
	return entries, err
}

// Rank returns the leaderboard entry for urn.
func (s *Service) Rank(ctx context.Context, urn string) (types.Entry, error) {
	if err := s.running(); err != nil {
		return types.Entry{}, err
	}
	entry, err := s.store.Rank(ctx, urn)
	if errors.Is(err, repository.ErrNotFound) {
		return types.Entry{}, fmt.Errorf("%w: %s", ErrNotFound, urn)
	}
	return entry, err
}

// Rebuild rescores every stored record in scope and writes the results
// straight to the ranking store. It returns how many students were
// rescored; students deleted while the rebuild runs are skipped.
func (s *Service) Rebuild(ctx context.Context, f directory.Filter) (int, error) {
	if err := s.running(); err != nil {
		return 0, err
	}
	return s.rebuild(ctx, f)
}

func (s *Service) rebuild(ctx context.Context, f directory.Filter) (int, error) {
	start := time.Now()
	recs, err := s.directory.List(ctx, f)
	if err != nil {
		return 0, err
	}
	results, err := s.engine.ScoreAll(ctx, recs)
	if err != nil {
		return 0, err
	}

	// Records can change between List and the write below; Reconcile
	// rereads each one and only rescores those that did.
	scorer := prescored{engine: s.engine, byFingerprint: make(map[string]achievement.Result, len(recs))}
	for i := range recs {
		scorer.byFingerprint[model.Fingerprint(recs[i])] = results[i]
	}
	src := s.source()
	rescored := 0
	for _, rec := range recs {
		snap, _, err := workerpool.Reconcile(ctx, src, scorer, s.store, rec.URN)
		if err != nil {
			return rescored, fmt.Errorf("rebuild %s: %w", rec.URN, err)
		}
		if !snap.Exists {
			continue
		}
		s.remember(ctx, snap)
		rescored++
	}
	s.logger.Info(ctx, "rebuild complete",
		logger.Int("students", rescored),
		logger.Int("year", f.Year),
		logger.String("branch", f.Branch),
		logger.Duration("took", time.Since(start)),
	)
	return rescored, nil
}

// remember records snap as the last accepted version for dedupe, unless a
// newer submission or a delete has landed since it was read.
func (s *Service) remember(ctx context.Context, snap workerpool.Snapshot) {
	urn := snap.Record.URN
	st := s.versions.lock(urn)
	defer st.mu.Unlock()
	if st.seen[urn] == snap.Version {
		s.deduper.SeenAndRecord(ctx, urn, model.Fingerprint(snap.Record))
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:       s.started,
		Workers:       s.workerCount,
		QueueCapacity: s.queueSize,
	}
	if !s.started {
		return stats
	}
	stats.QueueLength = s.queue.Len(ctx)
	stats.DedupeEntries = s.deduper.Size()
	stats.Processed = s.pool.Processed()
	stats.Failed = s.pool.Failed()
	if n, err := s.store.Count(ctx); err == nil {
		stats.Ranked = n
		metrics.UpdateLeaderboardSize(n)
	}
	if n, err := s.directory.Count(ctx); err == nil {
		stats.Students = n
	}
	return stats
}

// Ping reports whether the service is running.
func (s *Service) Ping(context.Context) error {
	return s.running()
}
