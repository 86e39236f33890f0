package worker

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

const restartBackoff = 2 * time.Second

// Processor consumes queued jobs, runs the catalog lookup and records the
// terminal outcome. It is the only component that reads the catalog.
type Processor struct {
	consumer queue.Consumer
	jobs     repository.JobsRepository
	catalog  repository.CatalogRepository
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewProcessor(
	consumer queue.Consumer,
	jobs repository.JobsRepository,
	catalog repository.CatalogRepository,
	workerID string,
	logger logrus.FieldLogger,
) *Processor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Processor{
		consumer: consumer,
		jobs:     jobs,
		catalog:  catalog,
		logger:   logger.WithField("worker_id", workerID),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start consumes until ctx is cancelled, restarting the consumer after
// broker errors.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("processor started")
	defer p.logger.Info("processor stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.Handle)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logger.WithError(err).Error("consume loop error")

		timer := time.NewTimer(restartBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Handle processes one delivery. A nil return acks it; errors are ledger
// failures that must be retried.
func (p *Processor) Handle(ctx context.Context, message domain.QueueMessage) error {
	logger := p.logger.WithFields(logrus.Fields{
		"job_id":        message.JobID,
		"tipo_consulta": message.Kind,
	})

	job, err := p.jobs.GetJob(ctx, message.JobID)
	if err != nil {
		return fmt.Errorf("load job %d: %w", message.JobID, err)
	}
	if job.State.Terminal() {
		logger.WithField("status", job.State).Info("job already terminal, skipping")
		return nil
	}

	outcome := p.lookup(ctx, job)
	if outcome.Result != nil && outcome.Result.Kind == domain.ResultKindError {
		logger.WithField("error", outcome.Result.Error).Warn("catalog lookup failed")
	}

	_, err = p.jobs.CompleteJob(ctx, job.ID, outcome, p.now())
	if errors.Is(err, domain.ErrAlreadyTerminal) {
		logger.Info("job completed by another delivery")
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete job %d: %w", job.ID, err)
	}

	logger.WithField("status", outcome.State).Info("job processed")
	return nil
}

func (p *Processor) lookup(ctx context.Context, job *domain.Job) domain.Outcome {
	switch job.Kind {
	case domain.QueryKindListAll:
		records, err := p.catalog.ListRecords(ctx)
		if err != nil {
			return domain.Failed(err)
		}
		return domain.Completed(domain.ListResult(records))
	case domain.QueryKindFindByKey:
		key := ""
		if job.SearchKey != nil {
			key = *job.SearchKey
		}
		record, err := p.catalog.FindRecord(ctx, key)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Absent()
		}
		if err != nil {
			return domain.Failed(err)
		}
		return domain.Completed(domain.RecordResult(*record))
	default:
		return domain.Failed(fmt.Errorf("unsupported tipo_consulta: %s", job.Kind))
	}
}
