package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/Ethernal-Tech/cardano-projector/crdt"
	"github.com/Ethernal-Tech/cardano-projector/indexer"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
)

const (
	cursorKey          = "_cursor"
	tombstoneKeySuffix = ".ts"
)

// lastWriteWinsScript writes value and timestamp into the hash at KEYS[1]
// unless the stored timestamp is newer.
var lastWriteWinsScript = redis.NewScript(`
local ts = redis.call('HGET', KEYS[1], 'ts')
if ts == false or tonumber(ARGV[2]) >= tonumber(ts) then
	redis.call('HSET', KEYS[1], 'value', ARGV[1], 'ts', ARGV[2])
	return 1
end
return 0
`)

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// RedisStore keeps the projection in redis. Every batch runs as one MULTI/EXEC
// guarded by WATCH on the cursor key.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    hclog.Logger
}

var _ ProjectionStore = (*RedisStore)(nil)

func NewRedisStore(ctx context.Context, config RedisConfig, logger hclog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, config.KeyPrefix, logger), nil
}

func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string, logger hclog.Logger) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

func (rs *RedisStore) ReadCursor() (*indexer.Point, error) {
	return readRedisCursor(context.Background(), rs.client, rs.key(cursorKey))
}

func (rs *RedisStore) ApplyBatch(ctx context.Context, units []Unit) error {
	watchKey := rs.key(cursorKey)

	return rs.client.Watch(ctx, func(tx *redis.Tx) error {
		cursor, err := readRedisCursor(ctx, tx, watchKey)
		if err != nil {
			return err
		}

		applied := 0

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, unit := range units {
				if !unit.ShouldApply(cursor) {
					continue
				}

				for _, cmd := range unit.Commands {
					if err := rs.queueCommand(ctx, pipe, cmd); err != nil {
						return err
					}
				}

				point := unit.Cursor
				cursor = &point
				applied++
			}

			if cursor != nil {
				pipe.Set(ctx, watchKey, cursor.String(), 0)
			}

			return nil
		})
		if err != nil {
			return err
		}

		rs.logger.Debug("Batch applied", "units", len(units), "applied", applied, "cursor", cursor)

		return nil
	}, watchKey)
}

func (rs *RedisStore) queueCommand(ctx context.Context, pipe redis.Pipeliner, cmd crdt.Command) error {
	key := rs.key(cmd.Key)

	switch cmd.Kind {
	case crdt.GrowOnlySetAdd, crdt.TwoPhaseSetAdd:
		pipe.SAdd(ctx, key, cmd.Member)
	case crdt.TwoPhaseSetRemove:
		pipe.SAdd(ctx, key+tombstoneKeySuffix, cmd.Member)
		pipe.SRem(ctx, key, cmd.Member)
	case crdt.LastWriteWins:
		lastWriteWinsScript.Eval(ctx, pipe, []string{key}, cmd.Value, cmd.Timestamp)
	case crdt.PNCounter:
		pipe.IncrBy(ctx, key, cmd.Delta)
	case crdt.SortedSetAdd, crdt.SortedSetRemove:
		pipe.ZIncrBy(ctx, key, float64(cmd.ScoreDelta()), cmd.Member)
	case crdt.AnyWriteWins:
		pipe.Set(ctx, key, cmd.Value, 0)
	default:
		return fmt.Errorf("unknown command kind: %d", cmd.Kind)
	}

	return nil
}

func (rs *RedisStore) GrowOnlySet(ctx context.Context, key string) ([]string, error) {
	return sortedMembers(rs.client.SMembers(ctx, rs.key(key)).Result())
}

// TwoPhaseSet returns the live members of the two phase set at key.
func (rs *RedisStore) TwoPhaseSet(ctx context.Context, key string) ([]string, error) {
	return sortedMembers(rs.client.SDiff(ctx, rs.key(key), rs.key(key)+tombstoneKeySuffix).Result())
}

func (rs *RedisStore) LastWriteWins(ctx context.Context, key string) ([]byte, uint64, error) {
	values, err := rs.client.HMGet(ctx, rs.key(key), "value", "ts").Result()
	if err != nil {
		return nil, 0, err
	}

	value, hasValue := values[0].(string)
	ts, hasTS := values[1].(string)

	if !hasValue || !hasTS {
		return nil, 0, nil
	}

	timestamp, err := strconv.ParseUint(ts, 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid timestamp at %s: %w", key, err)
	}

	return []byte(value), timestamp, nil
}

func (rs *RedisStore) Counter(ctx context.Context, key string) (int64, error) {
	value, err := rs.client.Get(ctx, rs.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}

	return value, err
}

func (rs *RedisStore) SortedSet(ctx context.Context, key string) (map[string]int64, error) {
	members, err := rs.client.ZRangeWithScores(ctx, rs.key(key), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[string]int64, len(members))

	for _, member := range members {
		name, ok := member.Member.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected sorted set member type at %s: %T", key, member.Member)
		}

		result[name] = int64(member.Score)
	}

	return result, nil
}

func (rs *RedisStore) AnyWriteWins(ctx context.Context, key string) ([]byte, error) {
	value, err := rs.client.Get(ctx, rs.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	return value, err
}

func (rs *RedisStore) key(key string) string {
	return rs.keyPrefix + key
}

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readRedisCursor(ctx context.Context, client redisGetter, key string) (*indexer.Point, error) {
	value, err := client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, err
	}

	point, err := indexer.ParsePoint(value)
	if err != nil {
		return nil, err
	}

	return &point, nil
}

func sortedMembers(members []string, err error) ([]string, error) {
	if err != nil || len(members) == 0 {
		return nil, err
	}

	slices.Sort(members)

	return members, nil
}
