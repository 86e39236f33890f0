package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/iago/consulta-async/internal/domain"
	"github.com/iago/consulta-async/internal/repository"
)

type recordingProducer struct {
	mu       sync.Mutex
	messages []domain.QueueMessage
	err      error
}

func (p *recordingProducer) Enqueue(_ context.Context, message domain.QueueMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, message)
	return nil
}

func newTestService(producer *recordingProducer) (*QueriesService, *repository.MemoryJobsRepository) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	repo := repository.NewMemoryJobsRepository()
	return NewQueriesService(repo, producer, logger), repo
}

func TestSubmitRecordsPendingJobAndPublishes(t *testing.T) {
	producer := &recordingProducer{}
	svc, repo := newTestService(producer)

	job, err := svc.Submit(context.Background(), domain.QueryKindFindByKey, "P001")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if job.ID == 0 {
		t.Fatalf("expected assigned id")
	}
	if job.State != domain.JobStatePending || job.ProcessedAt != nil || job.Result != nil {
		t.Fatalf("expected fresh pending job, got %+v", job)
	}

	stored, err := repo.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("expected stored job: %v", err)
	}
	if stored.SearchKey == nil || *stored.SearchKey != "P001" {
		t.Fatalf("expected search key P001, got %v", stored.SearchKey)
	}

	if len(producer.messages) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(producer.messages))
	}
	message := producer.messages[0]
	if message.JobID != job.ID || message.Kind != domain.QueryKindFindByKey || message.Key() != "P001" {
		t.Fatalf("unexpected message %+v", message)
	}
}

func TestSubmitListAllIgnoresSearchKey(t *testing.T) {
	producer := &recordingProducer{}
	svc, _ := newTestService(producer)

	job, err := svc.Submit(context.Background(), domain.QueryKindListAll, "ignored")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if job.SearchKey != nil {
		t.Fatalf("expected nil search key, got %q", *job.SearchKey)
	}
	if producer.messages[0].SearchKey != nil {
		t.Fatalf("expected null codigo in message")
	}
}

func TestSubmitRejectsInvalidRequestsWithoutSideEffects(t *testing.T) {
	cases := []struct {
		name string
		kind domain.QueryKind
		key  string
	}{
		{name: "unknown kind", kind: "borrar_todo", key: ""},
		{name: "empty kind", kind: "", key: "P001"},
		{name: "lookup without key", kind: domain.QueryKindFindByKey, key: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			producer := &recordingProducer{}
			svc, repo := newTestService(producer)

			_, err := svc.Submit(context.Background(), tc.kind, tc.key)
			if !errors.Is(err, domain.ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
			if len(producer.messages) != 0 {
				t.Fatalf("expected no publish, got %d", len(producer.messages))
			}
			if _, err := repo.GetJob(context.Background(), 1); !errors.Is(err, repository.ErrNotFound) {
				t.Fatalf("expected no ledger row, got %v", err)
			}
		})
	}
}

func TestSubmitKeepsSearchKeyAsSent(t *testing.T) {
	for _, key := range []string{" PROD001 ", "   "} {
		producer := &recordingProducer{}
		svc, repo := newTestService(producer)

		job, err := svc.Submit(context.Background(), domain.QueryKindFindByKey, key)
		if err != nil {
			t.Fatalf("submit %q failed: %v", key, err)
		}
		stored, err := repo.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("expected stored job: %v", err)
		}
		if stored.SearchKey == nil || *stored.SearchKey != key {
			t.Fatalf("expected search key %q, got %v", key, stored.SearchKey)
		}
		if len(producer.messages) != 1 || producer.messages[0].Key() != key {
			t.Fatalf("expected published key %q, got %+v", key, producer.messages)
		}
	}
}

func TestSubmitPublishFailureLeavesOrphanedPendingJob(t *testing.T) {
	producer := &recordingProducer{err: errors.New("broker down")}
	svc, repo := newTestService(producer)

	job, err := svc.Submit(context.Background(), domain.QueryKindListAll, "")
	if !errors.Is(err, domain.ErrOrphanedJob) {
		t.Fatalf("expected ErrOrphanedJob, got %v", err)
	}
	if job == nil {
		t.Fatalf("expected the recorded job to be returned")
	}

	stored, getErr := repo.GetJob(context.Background(), job.ID)
	if getErr != nil {
		t.Fatalf("expected orphaned row to exist: %v", getErr)
	}
	if stored.State != domain.JobStatePending {
		t.Fatalf("expected pending, got %s", stored.State)
	}
}

func TestGetStatusUnknownJob(t *testing.T) {
	svc, _ := newTestService(&recordingProducer{})

	_, err := svc.GetStatus(context.Background(), 999)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetStatusReturnsLedgerView(t *testing.T) {
	svc, repo := newTestService(&recordingProducer{})

	job, err := svc.Submit(context.Background(), domain.QueryKindFindByKey, "P404")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := repo.CompleteJob(context.Background(), job.ID, domain.Absent(), job.CreatedAt); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	status, err := svc.GetStatus(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get status failed: %v", err)
	}
	if status.State != domain.JobStateNotFound || status.Result != nil || status.ProcessedAt == nil {
		t.Fatalf("unexpected status %+v", status)
	}
}
