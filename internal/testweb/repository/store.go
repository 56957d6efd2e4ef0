package repository

import (
	"context"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/testweb/testweb/internal/testweb/configuration"
)

var ErrNotFound = errors.New("key not found")

// Store is a durable byte-valued key/value store.
type Store interface {
	// Get returns ErrNotFound if nothing has been stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// NewStore opens the store selected by config.Backend.
func NewStore(ctx context.Context, config configuration.PersistenceConfig) (Store, error) {
	switch config.Backend {
	case configuration.MemoryBackend:
		return NewMemoryStore(), nil
	case configuration.FileBackend:
		dir, err := homedir.Expand(config.FilePath)
		if err != nil {
			return nil, errors.Wrapf(err, "error expanding file store path %s", config.FilePath)
		}
		return NewFileStore(dir)
	case configuration.SqliteBackend:
		path, err := homedir.Expand(config.SqlitePath)
		if err != nil {
			return nil, errors.Wrapf(err, "error expanding sqlite path %s", config.SqlitePath)
		}
		return NewSqliteStore(ctx, path)
	case configuration.RedisBackend:
		return NewRedisStore(config.Redis), nil
	default:
		return nil, errors.Errorf("unknown storage backend %q", config.Backend)
	}
}
