package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ConversationStore tracks open conversations in Redis with an explicit
// TTL, so every consumer instance observes the same state and idle
// conversations expire on their own.
type ConversationStore struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewConversationStore creates a TTL-bounded conversation store.
func NewConversationStore(client *goredis.Client, ttl time.Duration) *ConversationStore {
	return &ConversationStore{
		client: client,
		prefix: "conv:",
		ttl:    ttl,
	}
}

// Touch returns the open conversation id for (tenant, phone), creating
// one if absent, and refreshes its expiry. SET NX keeps concurrent
// first-touch race-safe: the loser reuses the winner's id.
func (s *ConversationStore) Touch(ctx context.Context, tenantID, phone string) (string, error) {
	key := s.prefix + tenantID + ":" + phone
	id := uuid.NewString()

	ok, err := s.client.SetNX(ctx, key, id, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis conversation setnx: %w", err)
	}
	if ok {
		return id, nil
	}

	existing, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// Expired between SETNX and GET; claim it now.
			if err := s.client.Set(ctx, key, id, s.ttl).Err(); err != nil {
				return "", fmt.Errorf("redis conversation set: %w", err)
			}
			return id, nil
		}
		return "", fmt.Errorf("redis conversation get: %w", err)
	}

	if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("redis conversation expire: %w", err)
	}
	return existing, nil
}
