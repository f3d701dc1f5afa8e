package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// Redis stores each chat as a JSON string under prefix+id with a TTL that is
// refreshed on every write.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis creates a Redis-backed store. A zero ttl keeps keys forever.
func NewRedis(addr, password string, db int, ttl time.Duration, prefix string) *Redis {
	return NewRedisWithClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), ttl, prefix)
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, ttl time.Duration, prefix string) *Redis {
	return &Redis{client: client, ttl: ttl, prefix: prefix}
}

func (r *Redis) key(id string) string {
	return r.prefix + id
}

func (r *Redis) Get(ctx context.Context, id string) (Chat, error) {
	val, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, fmt.Errorf("redis store: get: %w", err)
	}

	var c Chat
	if err := json.Unmarshal(val, &c); err != nil {
		return Chat{}, fmt.Errorf("redis store: unmarshal %s: %w", id, err)
	}
	return c, nil
}

func (r *Redis) Put(ctx context.Context, chat Chat) error {
	data, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("redis store: marshal: %w", err)
	}
	if err := r.client.Set(ctx, r.key(chat.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis store: set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("redis store: delete: %w", err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context) ([]Chat, error) {
	keys, err := r.keys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Chat, 0, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis store: mget: %w", err)
	}
	for i, v := range vals {
		// Keys can expire between SCAN and MGET.
		s, ok := v.(string)
		if !ok {
			continue
		}
		var c Chat
		if err := json.Unmarshal([]byte(s), &c); err != nil {
			return nil, fmt.Errorf("redis store: unmarshal %s: %w", keys[i], err)
		}
		out = append(out, c)
	}

	sortByLastUpdated(out)
	return out, nil
}

func (r *Redis) Clear(ctx context.Context) error {
	keys, err := r.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis store: clear: %w", err)
	}
	return nil
}

func (r *Redis) keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis store: scan: %w", err)
	}
	return keys, nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis store: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
