package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iago/consulta-async/internal/domain"
)

const streamBodyField = "body"

type StreamsConfig struct {
	URL            string
	Addr           string
	Password       string
	DB             int
	Stream         string
	DLQStream      string
	Group          string
	Consumer       string
	Prefetch       int
	MaxDeliveries  int
	ClaimIdle      time.Duration
	Block          time.Duration
	HandlerTimeout time.Duration
	Logger         logrus.FieldLogger
}

// StreamsQueue implements Producer+Consumer backed by Redis Streams with a
// consumer group. Entries stay in the group's pending list until the handler
// succeeds; stale pending entries are reclaimed and redelivered.
type StreamsQueue struct {
	client *redis.Client
	cfg    StreamsConfig
	logger logrus.FieldLogger

	lastReclaim time.Time
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig) (*StreamsQueue, error) {
	options, err := streamsOptions(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Stream == "" {
		cfg.Stream = "consulta_queue"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + "_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "consulta_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = defaultPrefetch
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = 30 * time.Second
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	queue := &StreamsQueue{
		client:      redis.NewClient(options),
		cfg:         cfg,
		logger:      logger.WithField("stream", cfg.Stream),
		lastReclaim: time.Now(),
	}
	// An unreachable broker is reported by health checks; Consume retries the
	// group setup and XADD recreates the stream once Redis is back.
	if err := queue.ensureGroup(ctx); err != nil {
		queue.logger.WithError(err).Warn("redis not ready, continuing")
	}
	return queue, nil
}

func streamsOptions(cfg StreamsConfig) (*redis.Options, error) {
	if cfg.URL != "" {
		options, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return options, nil
	}
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	return &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, nil
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

func (q *StreamsQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	body, err := EncodeMessage(message)
	if err != nil {
		return err
	}
	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{streamBodyField: string(body)},
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

// EnqueueBatch pipelines one XADD per message. A partial failure is
// reported as PublishErrors.
func (q *StreamsQueue) EnqueueBatch(ctx context.Context, messages []domain.QueueMessage) error {
	if len(messages) == 0 {
		return nil
	}

	failed := PublishErrors{}
	pipeline := q.client.Pipeline()
	sent := make([]domain.QueueMessage, 0, len(messages))
	for _, message := range messages {
		body, err := EncodeMessage(message)
		if err != nil {
			failed[message.JobID] = err
			continue
		}
		pipeline.XAdd(ctx, &redis.XAddArgs{
			Stream: q.cfg.Stream,
			Values: map[string]any{streamBodyField: string(body)},
		})
		sent = append(sent, message)
	}

	if len(sent) > 0 {
		cmds, err := pipeline.Exec(ctx)
		if len(cmds) != len(sent) {
			for _, message := range sent {
				failed[message.JobID] = fmt.Errorf("enqueue batch to stream: %w", err)
			}
		} else {
			for i, cmd := range cmds {
				if cmdErr := cmd.Err(); cmdErr != nil {
					failed[sent[i].JobID] = fmt.Errorf("enqueue to stream: %w", cmdErr)
				}
			}
		}
	}

	if len(failed) == 0 {
		return nil
	}
	return failed
}

func (q *StreamsQueue) Consume(ctx context.Context, handler Handler) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	flight := newInflight(q.cfg.Prefetch)
	defer flight.wait()

	for {
		if err := flight.acquire(ctx); err != nil {
			return err
		}

		item, ok, err := q.next(ctx)
		if err != nil {
			flight.release()
			return err
		}
		if !ok {
			flight.release()
			continue
		}

		flight.spawn(func() {
			q.settle(ctx, handler, item)
		})
	}
}

// next returns one delivery: a reclaimed stale entry when one is due,
// otherwise a new entry from the group.
func (q *StreamsQueue) next(ctx context.Context) (redis.XMessage, bool, error) {
	if time.Since(q.lastReclaim) >= q.cfg.ClaimIdle {
		item, ok, err := q.reclaim(ctx)
		if err != nil {
			return redis.XMessage{}, false, err
		}
		if ok {
			return item, true, nil
		}
		q.lastReclaim = time.Now()
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    1,
		Block:    q.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return redis.XMessage{}, false, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return redis.XMessage{}, false, err
		}
		return redis.XMessage{}, false, fmt.Errorf("xreadgroup: %w", err)
	}

	for _, stream := range streams {
		for _, item := range stream.Messages {
			return item, true, nil
		}
	}
	return redis.XMessage{}, false, nil
}

// reclaim claims one pending entry that has been idle for ClaimIdle. Entries
// that already used up their deliveries are dead-lettered instead.
func (q *StreamsQueue) reclaim(ctx context.Context) (redis.XMessage, bool, error) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.cfg.Stream,
		Group:  q.cfg.Group,
		Idle:   q.cfg.ClaimIdle,
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return redis.XMessage{}, false, nil
		}
		return redis.XMessage{}, false, fmt.Errorf("xpending: %w", err)
	}

	for _, entry := range pending {
		if entry.RetryCount >= int64(q.cfg.MaxDeliveries) {
			q.deadLetterPending(ctx, entry)
			continue
		}

		claimed, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.cfg.Stream,
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			MinIdle:  q.cfg.ClaimIdle,
			Messages: []string{entry.ID},
		}).Result()
		if err != nil {
			return redis.XMessage{}, false, fmt.Errorf("xclaim: %w", err)
		}
		if len(claimed) == 0 {
			continue
		}

		q.logger.WithFields(logrus.Fields{
			"stream_id":  entry.ID,
			"deliveries": entry.RetryCount + 1,
		}).Info("reclaimed stale delivery")
		return claimed[0], true, nil
	}
	return redis.XMessage{}, false, nil
}

func (q *StreamsQueue) settle(ctx context.Context, handler Handler, item redis.XMessage) {
	logger := q.logger.WithField("stream_id", item.ID)

	message, err := DecodeMessage([]byte(streamBody(item)))
	if err != nil {
		logger.WithError(err).Error("dropping undecodable message to DLQ")
		q.deadLetter(ctx, item, err.Error())
		return
	}

	handlerCtx, cancel := handlerContext(ctx, q.cfg.HandlerTimeout)
	handleErr := handler(handlerCtx, message)
	cancel()
	if handleErr != nil {
		logger.WithField("job_id", message.JobID).WithError(handleErr).
			Warn("delivery failed, leaving it pending for redelivery")
		return
	}

	if err := q.ackAndDelete(ctx, item.ID); err != nil {
		logger.WithField("job_id", message.JobID).WithError(err).Error("ack failed")
	}
}

func (q *StreamsQueue) deadLetterPending(ctx context.Context, entry redis.XPendingExt) {
	items, err := q.client.XRangeN(ctx, q.cfg.Stream, entry.ID, entry.ID, 1).Result()
	if err != nil {
		q.logger.WithField("stream_id", entry.ID).WithError(err).Error("load exhausted delivery")
		return
	}
	reason := fmt.Sprintf("max deliveries exceeded (%d)", entry.RetryCount)
	if len(items) == 0 {
		_ = q.ackAndDelete(ctx, entry.ID)
		return
	}
	q.logger.WithField("stream_id", entry.ID).Error("moving exhausted delivery to DLQ")
	q.deadLetter(ctx, items[0], reason)
}

// deadLetter copies the entry to the DLQ stream and acks it.
func (q *StreamsQueue) deadLetter(ctx context.Context, item redis.XMessage, reason string) {
	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	values := map[string]any{
		"stream_id":     item.ID,
		streamBodyField: streamBody(item),
		"error":         reason,
		"moved_at":      time.Now().UTC().Format(time.RFC3339Nano),
	}
	if _, err := q.client.XAdd(settleCtx, &redis.XAddArgs{Stream: q.cfg.DLQStream, Values: values}).Result(); err != nil {
		q.logger.WithField("stream_id", item.ID).WithError(err).Error("send to dlq failed")
		return
	}
	if err := q.ackAndDelete(settleCtx, item.ID); err != nil {
		q.logger.WithField("stream_id", item.ID).WithError(err).Error("ack dead-lettered entry failed")
	}
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	settleCtx, cancel := settleContext(ctx)
	defer cancel()

	if err := q.client.XAck(settleCtx, q.cfg.Stream, q.cfg.Group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(settleCtx, q.cfg.Stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func streamBody(item redis.XMessage) string {
	switch value := item.Values[streamBodyField].(type) {
	case string:
		return value
	case []byte:
		return string(value)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", value)
	}
}
