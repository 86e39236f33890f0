package queue

import (
	"context"
	"sync"
	"time"

	"github.com/iago/consulta-async/internal/domain"
	"github.com/sirupsen/logrus"
)

type LocalConfig struct {
	BufferSize     int
	MaxDeliveries  int
	Prefetch       int
	HandlerTimeout time.Duration
	RetryDelay     time.Duration
}

type localDelivery struct {
	message  domain.QueueMessage
	attempts int
}

// LocalQueue is an in-process fallback used when no broker is configured.
// It keeps the ack contract of the real backends but is not durable.
type LocalQueue struct {
	ch     chan localDelivery
	cfg    LocalConfig
	logger logrus.FieldLogger

	dlqMu sync.Mutex
	dlq   []domain.QueueMessage
}

func NewLocalQueue(cfg LocalConfig, logger logrus.FieldLogger) *LocalQueue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 512
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = defaultPrefetch
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	return &LocalQueue{
		ch:     make(chan localDelivery, cfg.BufferSize),
		cfg:    cfg,
		logger: logger,
		dlq:    make([]domain.QueueMessage, 0),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- localDelivery{message: message}:
		return nil
	}
}

func (q *LocalQueue) EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error {
	failed := PublishErrors{}
	for _, message := range messages {
		if err := q.Enqueue(ctx, message); err != nil {
			failed[message.JobID] = err
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return failed
}

func (q *LocalQueue) Consume(ctx context.Context, handler Handler) error {
	flight := newInflight(q.cfg.Prefetch)
	defer flight.wait()

	for {
		if err := flight.acquire(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			flight.release()
			return ctx.Err()
		case delivery := <-q.ch:
			flight.spawn(func() {
				q.settle(ctx, handler, delivery)
			})
		}
	}
}

func (q *LocalQueue) settle(ctx context.Context, handler Handler, delivery localDelivery) {
	handlerCtx, cancel := handlerContext(ctx, q.cfg.HandlerTimeout)
	err := handler(handlerCtx, delivery.message)
	cancel()
	if err == nil {
		return
	}

	delivery.attempts++
	if delivery.attempts >= q.cfg.MaxDeliveries {
		q.dlqMu.Lock()
		q.dlq = append(q.dlq, delivery.message)
		q.dlqMu.Unlock()
		q.logger.WithFields(logrus.Fields{
			"job_id":   delivery.message.JobID,
			"attempts": delivery.attempts,
		}).WithError(err).Error("local queue moved message to DLQ")
		return
	}

	q.logger.WithFields(logrus.Fields{
		"job_id":   delivery.message.JobID,
		"attempts": delivery.attempts,
	}).WithError(err).Warn("delivery failed, scheduling redelivery")

	delay := time.Duration(delivery.attempts) * q.cfg.RetryDelay
	go func(retry localDelivery) {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		select {
		case <-ctx.Done():
		case q.ch <- retry:
		}
	}(delivery)
}

func (q *LocalQueue) Ping(context.Context) error {
	return nil
}

func (q *LocalQueue) DLQSize() int {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	return len(q.dlq)
}
