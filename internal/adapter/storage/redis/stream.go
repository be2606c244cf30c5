package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"metered-messaging/config"
	"metered-messaging/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
)

// Stream implements ports.EventStream on a Redis stream with
// consumer-group semantics. Delivery is at-least-once: an entry read but
// not acked is redelivered after the consumer crashes or times out.
type Stream struct {
	client   *goredis.Client
	key      string
	group    string
	consumer string
}

// NewStream creates a stream handle for one consumer identity.
func NewStream(client *goredis.Client, cfg config.StreamConfig) *Stream {
	return &Stream{
		client:   client,
		key:      cfg.Key,
		group:    cfg.Group,
		consumer: cfg.Consumer,
	}
}

// CreateGroup ensures the consumer group exists, creating the stream if
// needed. An already-existing group is not an error.
func (s *Stream) CreateGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.key, s.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Read fetches up to count new entries for this consumer, blocking up to
// block. Returns an empty slice on timeout.
func (s *Stream) Read(ctx context.Context, count int64, block time.Duration) ([]ports.StreamMessage, error) {
	res, err := s.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.key, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read stream group: %w", err)
	}

	var msgs []ports.StreamMessage
	for _, stream := range res {
		for _, m := range stream.Messages {
			msgs = append(msgs, ports.StreamMessage{
				ID:      m.ID,
				EventID: stringField(m.Values, "event_id"),
				Payload: []byte(stringField(m.Values, "payload")),
			})
		}
	}
	return msgs, nil
}

// Ack acknowledges one processed entry.
func (s *Stream) Ack(ctx context.Context, messageID string) error {
	if err := s.client.XAck(ctx, s.key, s.group, messageID).Err(); err != nil {
		return fmt.Errorf("ack stream entry: %w", err)
	}
	return nil
}

// Add appends an event to the stream (producer side; used by webhook
// ingestion and tests).
func (s *Stream) Add(ctx context.Context, eventID string, payload []byte) (string, error) {
	id, err := s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.key,
		Values: map[string]any{
			"event_id": eventID,
			"payload":  string(payload),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("add stream entry: %w", err)
	}
	return id, nil
}

// Len reports the current stream depth.
func (s *Stream) Len(ctx context.Context) (int64, error) {
	n, err := s.client.XLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("stream len: %w", err)
	}
	return n, nil
}

func stringField(values map[string]any, key string) string {
	if v, ok := values[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return ""
}
