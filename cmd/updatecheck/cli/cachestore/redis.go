package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisAddr = "localhost:6379"

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 100

// RedisOptions selects the redis server and database.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// Redis stores each entry as a JSON envelope under its own key. Entries
// never expire on the server side; age is judged by the caller.
type Redis struct {
	client *redis.Client
}

type redisEnvelope struct {
	Payload  []byte    `json:"payload"`
	StoredAt time.Time `json:"stored_at"`
}

// NewRedis connects lazily to the server described by opts.
func NewRedis(opts RedisOptions) *Redis {
	addr := opts.Addr
	if addr == "" {
		addr = defaultRedisAddr
	}
	return NewRedisFromClient(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	}))
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}

	var env redisEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing cache entry: %w", err)
	}
	return &Entry{Key: key, Payload: env.Payload, StoredAt: env.StoredAt}, nil
}

func (r *Redis) Set(ctx context.Context, key string, payload []byte, storedAt time.Time) error {
	data, err := json.Marshal(redisEnvelope{Payload: payload, StoredAt: storedAt})
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

// KeysWithPrefix walks the keyspace with SCAN rather than KEYS so large
// databases are not blocked.
func (r *Redis) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	pattern := escapeGlob(prefix) + "*"
	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("listing cache keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(keys)
	return dedupe(keys), nil
}

// Close closes the client connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

func escapeGlob(s string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`).Replace(s)
}

// dedupe drops adjacent duplicates; SCAN may return a key more than once.
func dedupe(sorted []string) []string {
	out := make([]string, 0, len(sorted))
	for i, k := range sorted {
		if i > 0 && k == sorted[i-1] {
			continue
		}
		out = append(out, k)
	}
	return out
}
