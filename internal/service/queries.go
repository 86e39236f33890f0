package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iago/consulta-async/internal/domain"
	"github.com/iago/consulta-async/internal/queue"
	"github.com/iago/consulta-async/internal/repository"
)

// QueriesService accepts catalog queries and reports their ledger state. It
// never reads the catalog itself.
type QueriesService struct {
	repo     repository.JobsRepository
	producer queue.Producer
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewQueriesService(repo repository.JobsRepository, producer queue.Producer, logger logrus.FieldLogger) *QueriesService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &QueriesService{
		repo:     repo,
		producer: producer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Submit records a pending job and publishes it for processing. A publish
// failure leaves the recorded job pending and returns ErrOrphanedJob.
func (s *QueriesService) Submit(ctx context.Context, kind domain.QueryKind, searchKey string) (*domain.Job, error) {
	if err := validateSubmission(kind, searchKey); err != nil {
		return nil, err
	}

	job := domain.NewPendingJob(kind, searchKey, s.now())
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	if err := s.producer.Enqueue(ctx, domain.NewQueueMessage(job)); err != nil {
		s.logger.WithFields(logrus.Fields{
			"job_id":        job.ID,
			"tipo_consulta": job.Kind,
		}).WithError(err).Error("job recorded but publish failed")
		return job, fmt.Errorf("%w: job %d: %w", domain.ErrOrphanedJob, job.ID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"job_id":        job.ID,
		"tipo_consulta": job.Kind,
	}).Debug("job accepted")
	return job, nil
}

func (s *QueriesService) GetStatus(ctx context.Context, jobID int64) (*domain.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load job %d: %w", jobID, err)
	}
	return job, nil
}

func validateSubmission(kind domain.QueryKind, searchKey string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: tipo_consulta must be %q or %q", domain.ErrInvalidRequest,
			domain.QueryKindListAll, domain.QueryKindFindByKey)
	}
	if kind == domain.QueryKindFindByKey && searchKey == "" {
		return fmt.Errorf("%w: codigo is required for %s", domain.ErrInvalidRequest, kind)
	}
	return nil
}
