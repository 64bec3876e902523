// Package cachestore provides key-value stores for cached version check
// results. Every store keeps the time an entry was written so the caller can
// decide whether an entry is fresh or only usable as an offline fallback.
package cachestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown cache backend")

// Entry is a single cached payload.
type Entry struct {
	Key      string
	Payload  []byte
	StoredAt time.Time
}

// Store is the set of operations every backend supports. Get returns
// (nil, nil) when the key is absent.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, payload []byte, storedAt time.Time) error
	Delete(ctx context.Context, key string) error
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
	io.Closer
}

// Options configures Open.
type Options struct {
	// Path is the cache file for the file backend and the database file for
	// the sqlite backend.
	Path string
	// RedisAddr is the host:port of the redis server.
	RedisAddr string
	// RedisPassword and RedisDB select the redis database.
	RedisPassword string
	RedisDB       int
}

// Open returns the store for backend.
//
//nolint:ireturn // factory selecting a backend
func Open(backend string, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendMemory:
		return NewMemory(), nil
	case "", BackendFile:
		if opts.Path == "" {
			return nil, errors.New("file cache: path is required")
		}
		return NewFile(opts.Path), nil
	case BackendSQLite:
		if opts.Path == "" {
			return nil, errors.New("sqlite cache: path is required")
		}
		return OpenSQLite(opts.Path)
	case BackendRedis:
		return NewRedis(RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// Memory is an in-process store. The zero value is not usable; use NewMemory.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	e.Payload = append([]byte(nil), e.Payload...)
	return &e, nil
}

func (m *Memory) Set(_ context.Context, key string, payload []byte, storedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = Entry{
		Key:      key,
		Payload:  append([]byte(nil), payload...),
		StoredAt: storedAt,
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

func (m *Memory) KeysWithPrefix(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return keysWithPrefix(m.entries, prefix), nil
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Close() error { return nil }

func keysWithPrefix(entries map[string]Entry, prefix string) []string {
	var keys []string
	for k := range entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
