package repository

import (
	"context"
	"sync"
	"time"

	"github.com/iago/consulta-async/internal/domain"
)

var ErrNotFound = domain.ErrNotFound

// JobsRepository is the job ledger. Only the terminal transition mutates a row.
type JobsRepository interface {
	// CreateJob inserts a pending job and assigns job.ID.
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID int64) (*domain.Job, error)
	// CompleteJob applies the terminal transition if the job is still pending.
	// It returns domain.ErrAlreadyTerminal when another delivery won.
	CompleteJob(ctx context.Context, jobID int64, outcome domain.Outcome, processedAt time.Time) (*domain.Job, error)
	Ping(ctx context.Context) error
}

// MemoryJobsRepository stores jobs in memory for local development.
type MemoryJobsRepository struct {
	mu     sync.RWMutex
	nextID int64
	jobs   map[int64]*domain.Job
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[int64]*domain.Job),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	job.ID = r.nextID
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID int64) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) CompleteJob(
	_ context.Context,
	jobID int64,
	outcome domain.Outcome,
	processedAt time.Time,
) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if job.State.Terminal() {
		return nil, domain.ErrAlreadyTerminal
	}

	job.State = outcome.State
	job.Result = cloneResult(outcome.Result)
	processed := processedAt
	job.ProcessedAt = &processed
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) Ping(context.Context) error {
	return nil
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	clone := *job
	if job.SearchKey != nil {
		key := *job.SearchKey
		clone.SearchKey = &key
	}
	if job.ProcessedAt != nil {
		processed := *job.ProcessedAt
		clone.ProcessedAt = &processed
	}
	clone.Result = cloneResult(job.Result)
	return &clone
}

func cloneResult(result *domain.Result) *domain.Result {
	if result == nil {
		return nil
	}
	clone := *result
	if result.Records != nil {
		clone.Records = append([]domain.CatalogRecord(nil), result.Records...)
	}
	return &clone
}
