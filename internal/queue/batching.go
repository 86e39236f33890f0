package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/iago/consulta-async/internal/domain"
)

var (
	ErrQueueBackpressure = errors.New("queue backpressure: publish buffer is full")
	ErrBatchingClosed    = errors.New("publish batcher is closed")
)

// PublishErrors holds the failed messages of one batch write, keyed by job id.
// Messages missing from the map were published.
type PublishErrors map[int64]error

func (e PublishErrors) Error() string {
	ids := make([]int64, 0, len(e))
	for id := range e {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) == 0 {
		return "publish batch: no failures"
	}
	return fmt.Sprintf("publish batch: %d message(s) failed, first job %d: %v", len(ids), ids[0], e[ids[0]])
}

// jobError returns the error recorded for jobID, or nil.
func (e PublishErrors) jobError(jobID int64) error {
	return e[jobID]
}

type BatchingConfig struct {
	MaxBatchSize       int
	FlushInterval      time.Duration
	FlushTimeout       time.Duration
	QueueCapacity      int
	MaxInFlightBatches int
	Logger             logrus.FieldLogger
}

type batchWriter interface {
	EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error
}

type publishRequest struct {
	ctx     context.Context
	message domain.QueueMessage
	done    chan error
}

// PublishBatcher collects submissions that arrive within FlushInterval and
// publishes them with one backend write. Each Enqueue returns the outcome of
// its own message, so a partial batch failure orphans only the jobs whose
// messages were not published.
type PublishBatcher struct {
	writer batchWriter
	cfg    BatchingConfig
	logger logrus.FieldLogger
	slots  *semaphore.Weighted

	mu          sync.Mutex
	pending     []*publishRequest
	outstanding int
	timer       *time.Timer
	closed      bool

	flushes   sync.WaitGroup
	stopAfter func() bool
}

func NewPublishBatcher(parent context.Context, base Producer, cfg BatchingConfig) *PublishBatcher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 25 * time.Millisecond
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 3 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 2048
	}
	if cfg.MaxInFlightBatches <= 0 {
		cfg.MaxInFlightBatches = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	writer, ok := base.(batchWriter)
	if !ok {
		writer = sequentialWriter{base: base}
	}

	batcher := &PublishBatcher{
		writer: writer,
		cfg:    cfg,
		logger: logger,
		slots:  semaphore.NewWeighted(int64(cfg.MaxInFlightBatches)),
	}
	batcher.stopAfter = context.AfterFunc(parent, batcher.Close)
	return batcher
}

func (b *PublishBatcher) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	request := &publishRequest{ctx: ctx, message: message, done: make(chan error, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBatchingClosed
	}
	if b.outstanding >= b.cfg.QueueCapacity {
		b.mu.Unlock()
		return ErrQueueBackpressure
	}
	b.outstanding++
	b.pending = append(b.pending, request)
	if len(b.pending) >= b.cfg.MaxBatchSize {
		b.dispatchLocked(false)
	} else if len(b.pending) == 1 {
		b.timer = time.AfterFunc(b.cfg.FlushInterval, b.flushDue)
	}
	b.mu.Unlock()

	select {
	case err := <-request.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close publishes whatever is pending and waits for in-flight batches.
func (b *PublishBatcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.flushes.Wait()
		return
	}
	b.closed = true
	b.dispatchLocked(true)
	b.mu.Unlock()

	if b.stopAfter != nil {
		b.stopAfter()
	}
	b.flushes.Wait()
}

// Ping delegates to the wrapped producer when it can report health.
func (b *PublishBatcher) Ping(ctx context.Context) error {
	if pinger, ok := b.writer.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	if sequential, ok := b.writer.(sequentialWriter); ok {
		if pinger, ok := sequential.base.(Pinger); ok {
			return pinger.Ping(ctx)
		}
	}
	return nil
}

func (b *PublishBatcher) flushDue() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dispatchLocked(false)
}

func (b *PublishBatcher) dispatchLocked(final bool) {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return
	}
	batch := b.pending
	b.pending = nil

	b.flushes.Add(1)
	go func() {
		defer b.flushes.Done()
		b.publish(batch, final)
	}()
}

func (b *PublishBatcher) publish(batch []*publishRequest, final bool) {
	defer func() {
		b.mu.Lock()
		b.outstanding -= len(batch)
		b.mu.Unlock()
	}()

	ctx := context.Background()
	if !final {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.FlushTimeout)
		defer cancel()
	}

	if err := b.slots.Acquire(ctx, 1); err != nil {
		for _, request := range batch {
			request.done <- err
		}
		return
	}
	defer b.slots.Release(1)

	active := make([]*publishRequest, 0, len(batch))
	for _, request := range batch {
		if err := request.ctx.Err(); err != nil {
			request.done <- err
			continue
		}
		active = append(active, request)
	}
	if len(active) == 0 {
		return
	}

	// Older jobs go out first.
	sort.Slice(active, func(i, j int) bool {
		return active[i].message.JobID < active[j].message.JobID
	})
	messages := make([]domain.QueueMessage, 0, len(active))
	for _, request := range active {
		messages = append(messages, request.message)
	}

	err := b.writer.EnqueueBatch(ctx, messages)

	var partial PublishErrors
	isPartial := errors.As(err, &partial)
	failed := 0
	for _, request := range active {
		requestErr := err
		if isPartial {
			requestErr = partial.jobError(request.message.JobID)
		}
		if requestErr != nil {
			failed++
			b.logger.WithField("job_id", request.message.JobID).WithError(requestErr).Warn("batched publish failed")
		}
		request.done <- requestErr
	}

	b.logger.WithFields(logrus.Fields{
		"size":   len(active),
		"failed": failed,
	}).Debug("publish batch flushed")
}

// sequentialWriter adapts a plain Producer to per-message batch results.
type sequentialWriter struct {
	base Producer
}

func (w sequentialWriter) EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error {
	failed := PublishErrors{}
	for _, message := range messages {
		if err := w.base.Enqueue(ctx, message); err != nil {
			failed[message.JobID] = err
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return failed
}
