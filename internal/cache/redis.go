package cache

import (
	"context"
	"encoding/json"
	"errors"
	"stakeledger/internal/config"
	"time"

	"github.com/redis/go-redis/v9"
)

var log = config.InitLogger()

const keyPrefix = "stakeledger:"

type Redis struct {
	cli *redis.Client
}

func NewRedis(cli *redis.Client) *Redis {
	return &Redis{cli: cli}
}

func (r *Redis) Get(ctx context.Context, key string, dst any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.cli.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		log.Error("Error loading cache entry ", key, ": ", err)
		return false, err
	}

	if err := json.Unmarshal(result, dst); err != nil {
		log.Error("Error decoding cache entry ", key, ": ", err)
		return false, err
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := json.Marshal(value)
	if err != nil {
		log.Error("Error marshaling cache entry ", key, ": ", err)
		return err
	}
	return r.cli.Set(ctx, keyPrefix+key, data, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	prefixed := make([]string, 0, len(keys))
	for _, k := range keys {
		prefixed = append(prefixed, keyPrefix+k)
	}
	return r.cli.Del(ctx, prefixed...).Err()
}
