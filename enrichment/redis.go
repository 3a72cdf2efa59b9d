package enrichment

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// every key is stored under this prefix so several caches can share one server
	KeyPrefix string `yaml:"keyPrefix"`
}

type RedisBackend struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ Backend = (*RedisBackend)(nil)

func NewRedisBackend(ctx context.Context, config RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisBackendWithClient(client, config.KeyPrefix), nil
}

func NewRedisBackendWithClient(client redis.UniversalClient, keyPrefix string) *RedisBackend {
	return &RedisBackend{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (rb *RedisBackend) MultiGet(ctx context.Context, keys [][]byte) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := rb.client.MGet(ctx, rb.redisKeys(keys)...).Result()
	if err != nil {
		return nil, err
	}

	return redisValuesToBytes(values)
}

func (rb *RedisBackend) Write(ctx context.Context, puts []KeyValue, deletes [][]byte) error {
	if len(puts) == 0 && len(deletes) == 0 {
		return nil
	}

	_, err := rb.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, kv := range puts {
			pipe.Set(ctx, rb.redisKey(kv.Key), kv.Value, 0)
		}

		if len(deletes) > 0 {
			pipe.Del(ctx, rb.redisKeys(deletes)...)
		}

		return nil
	})

	return err
}

func (rb *RedisBackend) Close() error {
	return rb.client.Close()
}

func (rb *RedisBackend) redisKey(key []byte) string {
	return rb.keyPrefix + string(key)
}

func (rb *RedisBackend) redisKeys(keys [][]byte) []string {
	result := make([]string, len(keys))

	for i, key := range keys {
		result[i] = rb.redisKey(key)
	}

	return result
}

func redisValuesToBytes(values []interface{}) ([][]byte, error) {
	result := make([][]byte, len(values))

	for i, value := range values {
		switch v := value.(type) {
		case nil:
		case string:
			result[i] = []byte(v)
		case []byte:
			result[i] = v
		default:
			return nil, fmt.Errorf("unexpected redis value type at %d: %T", i, value)
		}
	}

	return result, nil
}
