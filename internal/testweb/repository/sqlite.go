package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// SqliteStore keeps values in a single kv table of a sqlite database.
type SqliteStore struct {
	db   *sql.DB
	lock sync.RWMutex
}

func NewSqliteStore(ctx context.Context, path string) (*SqliteStore, error) {
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "could not make directory at %s for sqlite db", dbDir)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening sqlite db from %s", path)
	}
	store := &SqliteStore{db: db}
	if err := store.setup(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SqliteStore) setup(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return errors.WithStack(err)
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated INT NOT NULL)`)
	return errors.WithStack(err)
}

func (s *SqliteStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return value, nil
}

func (s *SqliteStore) Put(ctx context.Context, key string, value []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	_, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO kv (key, value, updated) VALUES (?, ?, ?)",
		key, value, time.Now().Unix())
	return errors.WithStack(err)
}

func (s *SqliteStore) HealthCheck(ctx context.Context) error {
	return errors.WithStack(s.db.PingContext(ctx))
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}
