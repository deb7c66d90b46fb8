package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// Redis stores one namespace per Redis hash. The root store writes to the
// hash named by prefix; Scope derives a per-visitor hash from it.
type Redis struct {
	client *redis.Client
	hash   string
	quota  int
}

func NewRedis(client *redis.Client, prefix string, quotaBytes int) *Redis {
	return &Redis{client: client, hash: prefix, quota: quotaBytes}
}

func (r *Redis) Scope(prefix string) Store {
	return &Redis{client: r.client, hash: r.hash + ":" + prefix, quota: r.quota}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.HGet(ctx, r.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key: %w", err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if r.quota > 0 {
		size, err := r.Size(ctx)
		if err != nil {
			return err
		}
		old, ok, err := r.Get(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			size -= len(key) + len(old)
		}
		if size+len(key)+len(value) > r.quota {
			return ErrQuotaExceeded
		}
	}
	if err := r.client.HSet(ctx, r.hash, key, value).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.HDel(ctx, r.hash, key).Err(); err != nil {
		return fmt.Errorf("failed to remove key: %w", err)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	keys, err := r.client.HKeys(ctx, r.hash).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *Redis) Size(ctx context.Context) (int, error) {
	all, err := r.client.HGetAll(ctx, r.hash).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to compute size: %w", err)
	}
	total := 0
	for k, v := range all {
		total += len(k) + len(v)
	}
	return total, nil
}
