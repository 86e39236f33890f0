package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"github.com/iago/consulta-async/internal/domain"
)

type JetStreamConfig struct {
	URL            string
	Stream         string
	Subject        string
	DLQSubject     string
	Durable        string
	Prefetch       int
	MaxDeliveries  int
	AckWait        time.Duration
	FetchWait      time.Duration
	RetryDelay     time.Duration
	HandlerTimeout time.Duration
	Logger         logrus.FieldLogger
}

// JetStreamQueue is a durable work queue on a NATS JetStream stream with
// explicit acks. Each message is delivered to one consumer of the durable.
type JetStreamQueue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	cfg    JetStreamConfig
	logger logrus.FieldLogger

	mu    sync.Mutex
	ready bool
}

func NewJetStreamQueue(ctx context.Context, cfg JetStreamConfig) (*JetStreamQueue, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Subject == "" {
		cfg.Subject = "consulta_queue"
	}
	if cfg.Stream == "" {
		cfg.Stream = "CONSULTAS"
	}
	if cfg.DLQSubject == "" {
		cfg.DLQSubject = cfg.Subject + "_dlq"
	}
	if cfg.Durable == "" {
		cfg.Durable = "consulta_workers"
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = defaultPrefetch
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = 5 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	queue := &JetStreamQueue{
		nc:     nc,
		js:     js,
		cfg:    cfg,
		logger: logger.WithField("subject", cfg.Subject),
	}
	if err := queue.ensureStream(ctx); err != nil {
		queue.logger.WithError(err).Warn("jetstream not ready, continuing")
	}
	return queue, nil
}

// ensureStream creates the stream once; later calls are no-ops after success.
func (q *JetStreamQueue) ensureStream(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready {
		return nil
	}

	_, err := q.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      q.cfg.Stream,
		Subjects:  []string{q.cfg.Subject, q.cfg.DLQSubject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", q.cfg.Stream, err)
	}
	q.ready = true
	return nil
}

func (q *JetStreamQueue) Close() error {
	return q.nc.Drain()
}

func (q *JetStreamQueue) Ping(context.Context) error {
	if !q.nc.IsConnected() {
		return fmt.Errorf("nats connection %s", q.nc.Status())
	}
	return nil
}

func (q *JetStreamQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	if err := q.ensureStream(ctx); err != nil {
		return err
	}
	body, err := EncodeMessage(message)
	if err != nil {
		return err
	}
	if _, err := q.js.Publish(ctx, q.cfg.Subject, body); err != nil {
		return fmt.Errorf("publish to %s: %w", q.cfg.Subject, err)
	}
	return nil
}

func (q *JetStreamQueue) EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error {
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

func (q *JetStreamQueue) Consume(ctx context.Context, handler Handler) error {
	if err := q.ensureStream(ctx); err != nil {
		return err
	}
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       q.cfg.Durable,
		FilterSubject: q.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.cfg.AckWait,
		MaxDeliver:    q.cfg.MaxDeliveries,
		MaxAckPending: q.cfg.Prefetch,
	})
	if err != nil {
		return fmt.Errorf("ensure consumer %s: %w", q.cfg.Durable, err)
	}

	flight := newInflight(q.cfg.Prefetch)
	defer flight.wait()

	for {
		if err := flight.acquire(ctx); err != nil {
			return err
		}

		batch, err := consumer.Fetch(1, jetstream.FetchMaxWait(q.cfg.FetchWait))
		if err != nil {
			flight.release()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("fetch: %w", err)
		}

		received := false
		for msg := range batch.Messages() {
			received = true
			flight.spawn(func() {
				q.settle(ctx, handler, msg)
			})
		}
		if !received {
			flight.release()
		}

		if err := batch.Error(); err != nil && !isFetchTimeout(err) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("fetch: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (q *JetStreamQueue) settle(ctx context.Context, handler Handler, msg jetstream.Msg) {
	deliveries := uint64(1)
	if meta, err := msg.Metadata(); err == nil {
		deliveries = meta.NumDelivered
	}
	logger := q.logger.WithField("deliveries", deliveries)

	message, err := DecodeMessage(msg.Data())
	if err != nil {
		logger.WithError(err).Error("dropping undecodable message to DLQ")
		q.deadLetter(ctx, msg, err.Error(), deliveries)
		return
	}
	logger = logger.WithField("job_id", message.JobID)

	handlerCtx, cancel := handlerContext(ctx, q.cfg.HandlerTimeout)
	handleErr := handler(handlerCtx, message)
	cancel()
	if handleErr == nil {
		if err := msg.Ack(); err != nil {
			logger.WithError(err).Error("ack failed")
		}
		return
	}

	if deliveries >= uint64(q.cfg.MaxDeliveries) {
		logger.WithError(handleErr).Error("moving exhausted delivery to DLQ")
		q.deadLetter(ctx, msg, handleErr.Error(), deliveries)
		return
	}

	logger.WithError(handleErr).Warn("delivery failed, scheduling redelivery")
	delay := time.Duration(deliveries) * q.cfg.RetryDelay
	if err := msg.NakWithDelay(delay); err != nil {
		logger.WithError(err).Error("nak failed")
	}
}

// deadLetter republishes the payload on the DLQ subject and terminates the
// original so it is not redelivered.
func (q *JetStreamQueue) deadLetter(ctx context.Context, msg jetstream.Msg, reason string, deliveries uint64) {
	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	out := nats.NewMsg(q.cfg.DLQSubject)
	out.Data = msg.Data()
	out.Header.Set("X-Dead-Letter-Reason", reason)
	out.Header.Set("X-Deliveries", strconv.FormatUint(deliveries, 10))
	out.Header.Set("X-Original-Subject", msg.Subject())

	if _, err := q.js.PublishMsg(settleCtx, out); err != nil {
		q.logger.WithError(err).Error("send to dlq failed")
		if nakErr := msg.Nak(); nakErr != nil {
			q.logger.WithError(nakErr).Error("nak failed")
		}
		return
	}
	if err := msg.Term(); err != nil {
		q.logger.WithError(err).Error("term failed")
	}
}

func isFetchTimeout(err error) bool {
	return errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, jetstream.ErrNoMessages) ||
		errors.Is(err, context.DeadlineExceeded)
}
