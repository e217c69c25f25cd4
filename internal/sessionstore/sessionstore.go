// Package sessionstore persists the history session state between runs.
package sessionstore

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
)

const DefaultPath = "account.json"

// Store loads and saves opaque session state. Load returns nil state when
// nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, state []byte) error
}

// Locker is implemented by stores that can guard state for a whole run.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) ([]byte, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session state")
	}
	return b, nil
}

// Save replaces the file atomically so a crash never leaves half a session.
func (s *FileStore) Save(ctx context.Context, state []byte) error {
	if err := atomic.WriteFile(s.path, bytes.NewReader(state)); err != nil {
		return errors.Wrap(err, "write session state")
	}
	return nil
}

// Lock takes an exclusive flock on "<path>.lock".
func (s *FileStore) Lock(ctx context.Context) (func(), error) {
	fl := flock.New(s.path + ".lock")
	ok, err := fl.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, errors.Wrap(err, "lock session state")
	}
	if !ok {
		return nil, errors.New("lock session state: not acquired")
	}
	return func() { _ = fl.Unlock() }, nil
}

// BytesCache is the subset of rediscache.RedisCache the redis store needs.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CacheStore keeps state under a single key without expiry.
type CacheStore struct {
	c   BytesCache
	key string
}

func NewCacheStore(c BytesCache, key string) *CacheStore {
	if key == "" {
		key = "trackbridge:session"
	}
	return &CacheStore{c: c, key: key}
}

func (s *CacheStore) Load(ctx context.Context) ([]byte, error) {
	b, ok, err := s.c.Get(ctx, s.key)
	if err != nil {
		return nil, errors.Wrap(err, "load session state")
	}
	if !ok {
		return nil, nil
	}
	return b, nil
}

func (s *CacheStore) Save(ctx context.Context, state []byte) error {
	if err := s.c.Set(ctx, s.key, state, 0); err != nil {
		return errors.Wrap(err, "save session state")
	}
	return nil
}
