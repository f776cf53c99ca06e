package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/ragify/core"
	"github.com/poiesic/ragify/storage"
)

// DefaultQueueCapacity is the number of jobs a Queue accepts before Submit fails.
const DefaultQueueCapacity = 256

// activeStates are the states of jobs that have not finished.
var activeStates = []core.JobState{
	core.StateReceived, core.StateChunked, core.StateEmbedded, core.StateIndexed, core.StatePersisted,
}

// Queue runs ingestion requests in the background on a bounded worker pool.
// Every accepted request is stored as an IngestionJob before Submit returns,
// and the job's state follows the request through the orchestrator.
type Queue struct {
	orchestrator *Orchestrator
	jobs         storage.JobRepository
	pool         *ants.Pool
	capacity     int64
	pending      atomic.Int64
	closed       atomic.Bool
	wg           sync.WaitGroup
	logger       *slog.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue) error

// WithWorkers sets the number of requests processed concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithWorkers(n int) QueueOption {
	return func(q *Queue) error {
		if n < 1 {
			n = 1
		}
		if q.pool != nil {
			q.pool.Release()
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		q.pool = pool
		return nil
	}
}

// WithCapacity sets the number of unfinished jobs the queue accepts.
// Default is DefaultQueueCapacity.
func WithCapacity(n int) QueueOption {
	return func(q *Queue) error {
		if n < 1 {
			return fmt.Errorf("queue capacity must be positive, got %d", n)
		}
		q.capacity = int64(n)
		return nil
	}
}

// WithQueueLogger sets a custom logger.
// Default is slog.Default().
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) error {
		if logger == nil {
			logger = slog.Default()
		}
		q.logger = logger
		return nil
	}
}

// NewQueue creates a queue running requests through orchestrator.
func NewQueue(orchestrator *Orchestrator, jobs storage.JobRepository, opts ...QueueOption) (*Queue, error) {
	if orchestrator == nil {
		return nil, ErrOrchestratorRequired
	}
	if jobs == nil {
		return nil, ErrStoreRequired
	}

	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		orchestrator: orchestrator,
		jobs:         jobs,
		pool:         pool,
		capacity:     DefaultQueueCapacity,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if optErr := opt(q); optErr != nil {
			q.pool.Release()
			return nil, optErr
		}
	}
	q.logger = q.logger.With("component", "queue")
	return q, nil
}

// NewJob builds a received job for req, assigning a document id if needed.
func NewJob(req IngestRequest) *core.IngestionJob {
	var doc *core.SourceDocument
	if req.Document != nil {
		d := *req.Document
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if d.TenantID == "" {
			d.TenantID = req.Tenant.ID
		}
		doc = &d
	}
	return &core.IngestionJob{
		ID:       uuid.NewString(),
		TenantID: req.Tenant.ID,
		Document: doc,
		RawText:  req.RawText,
		State:    core.StateReceived,
	}
}

// RequestFromJob rebuilds the request stored in job. Content is not stored
// with jobs, so the rebuilt request never uploads the original file.
func RequestFromJob(job *core.IngestionJob) IngestRequest {
	return IngestRequest{
		Tenant:   core.Tenant{ID: job.TenantID},
		Document: job.Document,
		RawText:  job.RawText,
	}
}

// Submit stores req as a received job and schedules it. It returns once the
// job is stored; processing continues in the background.
func (q *Queue) Submit(ctx context.Context, req IngestRequest) (*core.IngestionJob, error) {
	if q.closed.Load() {
		return nil, ErrQueueClosed
	}
	if err := core.ValidateTenant(req.Tenant); err != nil {
		return nil, err
	}
	if q.pending.Add(1) > q.capacity {
		q.pending.Add(-1)
		return nil, ErrQueueFull
	}

	job := NewJob(req)
	if err := q.jobs.SaveJob(ctx, job); err != nil {
		q.pending.Add(-1)
		return nil, fmt.Errorf("failed to store job: %w", err)
	}
	q.dispatch(job, req)
	return job, nil
}

// dispatch hands job to the pool without blocking the caller. pending must
// already count the job.
func (q *Queue) dispatch(job *core.IngestionJob, req IngestRequest) {
	q.wg.Add(1)
	go func() {
		err := q.pool.Submit(func() {
			defer q.wg.Done()
			defer q.pending.Add(-1)
			if err := q.run(context.Background(), job, req); err != nil {
				q.logger.Error("failed to record job status", "job", job.ID, "err", err)
			}
		})
		if err != nil {
			q.logger.Error("failed to schedule job", "job", job.ID, "err", err)
			q.pending.Add(-1)
			q.wg.Done()
		}
	}()
}

// Process runs job synchronously. A job that already finished is not run
// again, so redelivered jobs are harmless. The returned error reports
// failures to record the job; ingestion failures are recorded in the job.
func (q *Queue) Process(ctx context.Context, job *core.IngestionJob) (*core.IngestionJob, error) {
	stored, err := q.jobs.GetJob(ctx, job.ID)
	switch {
	case err == nil:
		if stored.State.Terminal() {
			q.logger.Debug("skipping finished job", "job", job.ID, "state", stored.State)
			return stored, nil
		}
		job = stored
	case errors.Is(err, storage.ErrNotFound):
		job.State = core.StateReceived
		if err := q.jobs.SaveJob(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to store job: %w", err)
		}
	default:
		return nil, err
	}

	if err := q.run(ctx, job, RequestFromJob(job)); err != nil {
		return nil, err
	}
	return job, nil
}

// run ingests req, saving job on every transition.
func (q *Queue) run(ctx context.Context, job *core.IngestionJob, req IngestRequest) error {
	if job.Document != nil && job.Document.ID != "" {
		committed, err := q.committed(ctx, job)
		if err != nil {
			return err
		}
		if committed {
			job.State = core.StateDone
			return q.jobs.SaveJob(ctx, job)
		}
	}

	job.Attempts++
	job.FailedStage = ""
	job.Error = ""
	var saveErr error
	observer := ObserverFunc(func(ev Event) {
		job.State = ev.State
		job.Chunks = ev.Chunks
		if ev.State == core.StateFailed {
			job.FailedStage = ev.Stage
			job.Error = ev.Err.Error()
		}
		if err := q.jobs.SaveJob(context.WithoutCancel(ctx), job); err != nil && saveErr == nil {
			saveErr = err
		}
	})

	req.Document = job.Document
	if _, err := q.orchestrator.IngestWithObserver(ctx, req, observer); err != nil {
		q.logger.Warn("job failed", "job", job.ID, "stage", job.FailedStage, "err", err)
	}
	return saveErr
}

// committed reports whether job's document was committed by an earlier attempt.
func (q *Queue) committed(ctx context.Context, job *core.IngestionJob) (bool, error) {
	_, err := q.orchestrator.store.GetDocument(ctx, job.TenantID, job.Document.ID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Status returns a job's current state.
func (q *Queue) Status(ctx context.Context, jobID string) (*core.IngestionJob, error) {
	return q.jobs.GetJob(ctx, jobID)
}

// Jobs returns jobs in any of the given states, oldest first.
func (q *Queue) Jobs(ctx context.Context, states ...core.JobState) ([]*core.IngestionJob, error) {
	return q.jobs.ListJobs(ctx, states...)
}

// Pending returns the number of accepted jobs that have not finished.
func (q *Queue) Pending() int {
	return int(q.pending.Load())
}

// Recover reschedules jobs left unfinished by a previous process. Jobs
// whose documents were already committed are marked done instead. It
// returns the number of rescheduled jobs.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	jobs, err := q.jobs.ListJobs(ctx, activeStates...)
	if err != nil {
		return 0, err
	}

	resubmitted := 0
	for _, job := range jobs {
		if job.Document == nil {
			job.State = core.StateFailed
			job.FailedStage = core.StageValidate
			job.Error = "job has no document"
			if err := q.jobs.SaveJob(ctx, job); err != nil {
				return resubmitted, err
			}
			continue
		}
		q.pending.Add(1)
		q.dispatch(job, RequestFromJob(job))
		resubmitted++
	}
	if resubmitted > 0 {
		q.logger.Info("recovered unfinished jobs", "jobs", resubmitted, "since", oldest(jobs))
	}
	return resubmitted, nil
}

func oldest(jobs []*core.IngestionJob) time.Time {
	if len(jobs) == 0 {
		return time.Time{}
	}
	return jobs[0].CreatedAt
}

// Wait blocks until every scheduled job has finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Release stops accepting jobs, waits for scheduled ones and frees the pool.
// The queue should not be used after calling Release.
func (q *Queue) Release() {
	q.closed.Store(true)
	q.wg.Wait()
	if q.pool != nil {
		q.pool.Release()
	}
}
