package state

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisStateKey = "warble:state"

// RedisBackend stores the snapshot as one JSON value under a single
// key. SET is atomic, so readers and crashed writers always observe a
// complete snapshot.
type RedisBackend struct {
	client *redis.Client
	key    string
}

var _ Backend = (*RedisBackend)(nil)

func NewRedisBackend(addr, password string, db int) (*RedisBackend, error) {
	if addr == "" {
		return nil, errors.New("empty redis address")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisBackend{client: client, key: redisStateKey}, nil
}

func (b *RedisBackend) Load(ctx context.Context) (*PersistedState, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.WithMessage(err, "redis get")
	}
	var st PersistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, errors.WithMessagef(ErrCorruptState, "parse %s: %v", b.key, err)
	}
	return &st, nil
}

func (b *RedisBackend) Save(ctx context.Context, st *PersistedState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return errors.WithMessage(err, "marshal state")
	}
	return errors.WithMessage(b.client.Set(ctx, b.key, data, 0).Err(), "redis set")
}

func (b *RedisBackend) Close() error { return b.client.Close() }
