package queuestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sungwon/flowgate/internal/queue"
)

const defaultKeyPrefix = "flowgate:queue:"

// RedisBackend stores each queue as a Redis list of JSON items, head first.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a RedisBackend. The client is owned by the caller.
func NewRedisBackend(client *redis.Client, keyPrefix string) *RedisBackend {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &RedisBackend{client: client, prefix: keyPrefix}
}

// Open returns the storage for name.
func (b *RedisBackend) Open(_ context.Context, name string) (queue.Storage, error) {
	return &redisStorage{client: b.client, key: b.prefix + name}, nil
}

// Ping checks Redis connectivity.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close is a no-op; the client belongs to the caller.
func (b *RedisBackend) Close() error { return nil }

type redisStorage struct {
	client *redis.Client
	key    string
}

func encodeItems(items []queue.Item) ([]interface{}, error) {
	values := make([]interface{}, len(items))
	for i, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("marshal item: %w", err)
		}
		values[i] = string(data)
	}
	return values, nil
}

func decodeItem(raw string) (queue.Item, error) {
	var item queue.Item
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return queue.Item{}, fmt.Errorf("unmarshal item: %w", err)
	}
	return item, nil
}

func (s *redisStorage) PushTail(ctx context.Context, items ...queue.Item) error {
	if len(items) == 0 {
		return nil
	}
	values, err := encodeItems(items)
	if err != nil {
		return err
	}
	if err := s.client.RPush(ctx, s.key, values...).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", s.key, err)
	}
	return nil
}

// PushHead relies on LPUSH inserting its arguments one by one, so they are
// passed in reverse to leave items[0] at the head.
func (s *redisStorage) PushHead(ctx context.Context, items ...queue.Item) error {
	if len(items) == 0 {
		return nil
	}
	values, err := encodeItems(items)
	if err != nil {
		return err
	}
	for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
		values[i], values[j] = values[j], values[i]
	}
	if err := s.client.LPush(ctx, s.key, values...).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", s.key, err)
	}
	return nil
}

func (s *redisStorage) PopHead(ctx context.Context) (queue.Item, bool, error) {
	raw, err := s.client.LPop(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return queue.Item{}, false, nil
	}
	if err != nil {
		return queue.Item{}, false, fmt.Errorf("lpop %s: %w", s.key, err)
	}
	item, err := decodeItem(raw)
	if err != nil {
		return queue.Item{}, false, err
	}
	return item, true, nil
}

func (s *redisStorage) PeekHead(ctx context.Context) (queue.Item, bool, error) {
	raw, err := s.client.LIndex(ctx, s.key, 0).Result()
	if errors.Is(err, redis.Nil) {
		return queue.Item{}, false, nil
	}
	if err != nil {
		return queue.Item{}, false, fmt.Errorf("lindex %s: %w", s.key, err)
	}
	item, err := decodeItem(raw)
	if err != nil {
		return queue.Item{}, false, err
	}
	return item, true, nil
}

func (s *redisStorage) Len(ctx context.Context) (int, error) {
	n, err := s.client.LLen(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("llen %s: %w", s.key, err)
	}
	return int(n), nil
}

func (s *redisStorage) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", s.key, err)
	}
	return nil
}

func (s *redisStorage) Drop(ctx context.Context) error {
	return s.Clear(ctx)
}
