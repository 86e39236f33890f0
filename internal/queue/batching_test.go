package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iago/consulta-async/internal/domain"
)

type recordingBatchProducer struct {
	mu      sync.Mutex
	batches [][]domain.QueueMessage
	failing map[int64]bool
}

func (p *recordingBatchProducer) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	return p.EnqueueBatch(ctx, []domain.QueueMessage{message})
}

func (p *recordingBatchProducer) EnqueueBatch(_ context.Context, messages []domain.QueueMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.batches = append(p.batches, append([]domain.QueueMessage(nil), messages...))
	failed := PublishErrors{}
	for _, message := range messages {
		if p.failing[message.JobID] {
			failed[message.JobID] = errors.New("stream rejected entry")
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return failed
}

func (p *recordingBatchProducer) batchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batches)
}

func (p *recordingBatchProducer) totalMessages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, batch := range p.batches {
		total += len(batch)
	}
	return total
}

type blockingBatchProducer struct {
	block chan struct{}
}

func (p *blockingBatchProducer) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	return p.EnqueueBatch(ctx, []domain.QueueMessage{message})
}

func (p *blockingBatchProducer) EnqueueBatch(ctx context.Context, _ []domain.QueueMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.block:
		return nil
	}
}

// singleProducer has no batch write.
type singleProducer struct {
	mu       sync.Mutex
	received []int64
	failing  int64
}

func (p *singleProducer) Enqueue(_ context.Context, message domain.QueueMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if message.JobID == p.failing {
		return errors.New("publish refused")
	}
	p.received = append(p.received, message.JobID)
	return nil
}

func enqueueAll(t *testing.T, batcher *PublishBatcher, ids ...int64) map[int64]error {
	t.Helper()
	var mu sync.Mutex
	results := make(map[int64]error, len(ids))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			err := batcher.Enqueue(context.Background(), domain.QueueMessage{JobID: id, Kind: domain.QueryKindListAll})
			mu.Lock()
			results[id] = err
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return results
}

func TestPublishBatcherGroupsSubmissions(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := &recordingBatchProducer{}
	batcher := NewPublishBatcher(parent, base, BatchingConfig{
		MaxBatchSize:       8,
		FlushInterval:      20 * time.Millisecond,
		FlushTimeout:       time.Second,
		QueueCapacity:      64,
		MaxInFlightBatches: 2,
		Logger:             quietLogger(),
	})
	defer batcher.Close()

	results := enqueueAll(t, batcher, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	for id, err := range results {
		if err != nil {
			t.Fatalf("enqueue %d failed: %v", id, err)
		}
	}
	if base.totalMessages() != 10 {
		t.Fatalf("expected 10 published messages, got %d", base.totalMessages())
	}
	if base.batchCount() >= 10 {
		t.Fatalf("expected batching to reduce write count, got %d batches", base.batchCount())
	}
}

func TestPublishBatcherReportsFailuresPerJob(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := &recordingBatchProducer{failing: map[int64]bool{2: true}}
	batcher := NewPublishBatcher(parent, base, BatchingConfig{
		MaxBatchSize:  3,
		FlushInterval: time.Second,
		Logger:        quietLogger(),
	})
	defer batcher.Close()

	results := enqueueAll(t, batcher, 1, 2, 3)
	if base.batchCount() != 1 {
		t.Fatalf("expected a single batch write, got %d", base.batchCount())
	}
	if results[1] != nil || results[3] != nil {
		t.Fatalf("expected jobs 1 and 3 to publish, got %v", results)
	}
	if results[2] == nil {
		t.Fatalf("expected job 2 to report its publish failure")
	}
}

func TestPublishBatcherFallsBackToSingleEnqueues(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := &singleProducer{failing: 5}
	batcher := NewPublishBatcher(parent, base, BatchingConfig{
		MaxBatchSize:  3,
		FlushInterval: time.Second,
		Logger:        quietLogger(),
	})
	defer batcher.Close()

	results := enqueueAll(t, batcher, 6, 5, 4)
	if results[5] == nil || results[4] != nil || results[6] != nil {
		t.Fatalf("expected only job 5 to fail, got %v", results)
	}

	base.mu.Lock()
	defer base.mu.Unlock()
	if len(base.received) != 2 || base.received[0] != 4 || base.received[1] != 6 {
		t.Fatalf("expected jobs published oldest first [4 6], got %v", base.received)
	}
}

func TestPublishBatcherBackpressure(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := &blockingBatchProducer{block: make(chan struct{})}
	batcher := NewPublishBatcher(parent, base, BatchingConfig{
		MaxBatchSize:       1,
		FlushInterval:      200 * time.Millisecond,
		FlushTimeout:       2 * time.Second,
		QueueCapacity:      2,
		MaxInFlightBatches: 1,
		Logger:             quietLogger(),
	})
	defer batcher.Close()

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- batcher.Enqueue(context.Background(), domain.QueueMessage{JobID: 1, Kind: domain.QueryKindListAll})
	}()
	time.Sleep(30 * time.Millisecond)

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- batcher.Enqueue(context.Background(), domain.QueueMessage{JobID: 2, Kind: domain.QueryKindListAll})
	}()
	time.Sleep(30 * time.Millisecond)

	err := batcher.Enqueue(context.Background(), domain.QueueMessage{JobID: 3, Kind: domain.QueryKindListAll})
	if !errors.Is(err, ErrQueueBackpressure) {
		t.Fatalf("expected backpressure error, got %v", err)
	}

	close(base.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first enqueue failed unexpectedly: %v", err)
	}
	if err := <-secondDone; err != nil {
		t.Fatalf("second enqueue failed unexpectedly: %v", err)
	}
}

func TestPublishBatcherCloseFlushesPending(t *testing.T) {
	base := &recordingBatchProducer{}
	batcher := NewPublishBatcher(context.Background(), base, BatchingConfig{
		MaxBatchSize:  10,
		FlushInterval: time.Hour,
		Logger:        quietLogger(),
	})

	done := make(chan error, 1)
	go func() {
		done <- batcher.Enqueue(context.Background(), domain.QueueMessage{JobID: 1, Kind: domain.QueryKindListAll})
	}()
	waitFor(t, time.Second, func() bool {
		batcher.mu.Lock()
		defer batcher.mu.Unlock()
		return len(batcher.pending) == 1
	})

	batcher.Close()
	if err := <-done; err != nil {
		t.Fatalf("expected pending message to publish on close, got %v", err)
	}
	if base.totalMessages() != 1 {
		t.Fatalf("expected 1 published message, got %d", base.totalMessages())
	}

	err := batcher.Enqueue(context.Background(), domain.QueueMessage{JobID: 2, Kind: domain.QueryKindListAll})
	if !errors.Is(err, ErrBatchingClosed) {
		t.Fatalf("expected ErrBatchingClosed after close, got %v", err)
	}
}
