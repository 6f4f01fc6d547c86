package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on Redis Streams with a consumer group.
//
// Visibility is enforced by the group's pending-entries list: a message read
// by one consumer stays pending (invisible) until it is acked or until its
// idle time exceeds the visibility timeout, at which point Receive reclaims
// it via XAUTOCLAIM.
type RedisQueue struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	visibility time.Duration
}

// RedisQueueConfig holds configuration for RedisQueue
type RedisQueueConfig struct {
	Stream     string
	Group      string
	Consumer   string
	Visibility time.Duration
}

// DefaultConfig returns default queue configuration
func DefaultConfig() RedisQueueConfig {
	return RedisQueueConfig{
		Stream:     "timegrid:jobs",
		Group:      "workers",
		Consumer:   "worker",
		Visibility: 300 * time.Second,
	}
}

// NewRedisQueue connects to Redis and ensures the consumer group exists.
func NewRedisQueue(redisURL string, cfg RedisQueueConfig) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	q := &RedisQueue{
		client:     client,
		stream:     cfg.Stream,
		group:      cfg.Group,
		consumer:   cfg.Consumer,
		visibility: cfg.Visibility,
	}

	err = q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	slog.Info("Redis queue initialized",
		"stream", q.stream,
		"group", q.group,
		"visibility", q.visibility)

	return q, nil
}

// Send adds a message to the stream and returns its ID.
func (q *RedisQueue) Send(ctx context.Context, body []byte) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"data": string(body)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to add message to stream: %w", err)
	}

	slog.Debug("message enqueued", "stream", q.stream, "message_id", id)
	return id, nil
}

// Receive returns up to max messages. Expired pending entries are reclaimed
// first; otherwise it blocks up to wait for new deliveries.
func (q *RedisQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	claimed, err := q.reclaimExpired(ctx, max)
	if err != nil {
		slog.Error("failed to reclaim expired messages", "error", err)
	}
	if len(claimed) > 0 {
		return claimed, nil
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(max),
		Block:    wait,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var msgs []Message
	for _, stream := range streams {
		for _, m := range stream.Messages {
			body, ok := m.Values["data"].(string)
			if !ok {
				slog.Error("invalid message format, acking", "message_id", m.ID)
				_ = q.Delete(ctx, m.ID)
				continue
			}
			msgs = append(msgs, Message{Receipt: m.ID, Body: []byte(body)})
		}
	}
	return msgs, nil
}

// reclaimExpired takes over pending entries whose idle time exceeds the
// visibility timeout. These are deliveries abandoned by a crashed or stalled
// consumer.
func (q *RedisQueue) reclaimExpired(ctx context.Context, max int) ([]Message, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.visibility,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var out []Message
	for _, m := range msgs {
		body, ok := m.Values["data"].(string)
		if !ok {
			slog.Error("invalid reclaimed message format, acking", "message_id", m.ID)
			_ = q.Delete(ctx, m.ID)
			continue
		}
		slog.Warn("reclaimed expired message", "message_id", m.ID)
		out = append(out, Message{Receipt: m.ID, Body: []byte(body)})
	}
	return out, nil
}

// Delete acknowledges a message and removes it from the stream.
func (q *RedisQueue) Delete(ctx context.Context, receipt string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, receipt).Err(); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, receipt).Err(); err != nil {
		slog.Warn("failed to delete acked message", "message_id", receipt, "error", err)
	}
	return nil
}

// SendDLQ copies a message body to the dead-letter stream annotated with the
// final error.
func (q *RedisQueue) SendDLQ(ctx context.Context, body []byte, errorMessage string) error {
	dlStream := q.stream + ":deadletter"

	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlStream,
		Values: map[string]any{
			"data":     string(body),
			"error":    errorMessage,
			"moved_at": time.Now().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to move message to dead letter: %w", err)
	}

	slog.Warn("message moved to dead letter queue", "stream", dlStream, "reason", errorMessage)
	return nil
}

// DeadLetterCount returns the number of entries in the dead-letter stream.
func (q *RedisQueue) DeadLetterCount(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.stream+":deadletter").Result()
}

// Close releases the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// isGroupExistsError checks if error is "BUSYGROUP Consumer Group name already exists"
func isGroupExistsError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}
