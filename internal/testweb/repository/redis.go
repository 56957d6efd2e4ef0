package repository

import (
	"context"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	commonconfig "github.com/testweb/testweb/internal/common/config"
)

type RedisStore struct {
	db *redis.Client
}

func NewRedisStore(config commonconfig.RedisConfig) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(config.AsOptions()))
}

func NewRedisStoreFromClient(db *redis.Client) *RedisStore {
	return &RedisStore{db: db}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.db.WithContext(ctx).Get(key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return value, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	return errors.WithStack(s.db.WithContext(ctx).Set(key, value, 0).Err())
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if _, err := s.db.WithContext(ctx).Ping().Result(); err != nil {
		return errors.Wrap(err, "redis health check failed")
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.db.Close()
}
