// Package versioncheck asks a version service whether a newer app version
// exists. Results are cached; a fresh entry short-circuits the network and
// any cached success is served when the service cannot be reached.
package versioncheck

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/entireio/updatecheck/cmd/updatecheck/cli/cachestore"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/logging"
	"github.com/entireio/updatecheck/cmd/updatecheck/cli/versioncmp"
	"github.com/google/uuid"
)

// Cache is the key-value store a Checker keeps results in. Get returns
// (nil, nil) for a missing key. cachestore.Store satisfies it.
type Cache interface {
	Get(ctx context.Context, key string) (*cachestore.Entry, error)
	Set(ctx context.Context, key string, payload []byte, storedAt time.Time) error
	Delete(ctx context.Context, key string) error
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// Observer is notified about completed checks and swallowed cache errors.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	ObserveCheck(ctx context.Context, req Request, res Result, elapsed time.Duration)
	ObserveCacheError(ctx context.Context, op string, err error)
}

// Cache operations reported to ObserveCacheError.
const (
	CacheOpGet    = "get"
	CacheOpSet    = "set"
	CacheOpDelete = "delete"
	CacheOpList   = "list"
	CacheOpDecode = "decode"
)

// Checker runs version checks with a fresh cache in front of the fetcher and
// a stale cache behind it.
type Checker struct {
	cfg        Config
	fetcher    Fetcher
	cache      Cache
	httpClient *http.Client
	now        func() time.Time
	observers  []Observer
}

// Option configures a Checker.
type Option func(*Checker)

// WithFetcher replaces the HTTP fetcher, e.g. with an offline source.
func WithFetcher(f Fetcher) Option {
	return func(c *Checker) { c.fetcher = f }
}

// WithCache sets the result cache. Without it an in-memory cache is used
// when caching is enabled.
func WithCache(cache Cache) Option {
	return func(c *Checker) { c.cache = cache }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// WithHTTPClient sets the client of the default HTTP fetcher.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Checker) { c.httpClient = client }
}

// WithObserver registers an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(c *Checker) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// New returns a Checker for cfg.
func New(cfg Config, opts ...Option) *Checker {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	c := &Checker{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetcher == nil {
		c.fetcher = NewHTTPFetcher(cfg, c.httpClient)
	}
	if c.cache == nil && cfg.EnableCaching {
		c.cache = cachestore.NewMemory()
	}
	return c
}

// Config returns the checker's configuration.
func (c *Checker) Config() Config {
	return c.cfg
}

// Check returns the version check result for req. It never fails: every
// error ends in either a stale cached result or a result with Success false.
func (c *Checker) Check(ctx context.Context, req Request) Result {
	start := time.Now()
	ctx = logging.WithCheckID(ctx, uuid.NewString())
	ctx = logging.WithComponent(ctx, "versioncheck")
	ctx = logging.WithPlatform(ctx, string(req.Platform))

	res := c.check(ctx, req)

	elapsed := time.Since(start)
	logging.LogDuration(ctx, slog.LevelDebug, "version check finished", start,
		slog.String("source", string(res.Source)),
		slog.Bool("success", res.Success),
		slog.Bool("update_available", res.UpdateAvailable),
	)
	for _, o := range c.observers {
		o.ObserveCheck(ctx, req, res, elapsed)
	}
	return res
}

func (c *Checker) check(ctx context.Context, req Request) Result {
	key := req.CacheKey(c.cfg.Namespace)

	// An expired entry is kept until we know the stale fallback is not needed.
	var expired bool
	if c.cachingEnabled() {
		if res, storedAt, ok := c.lookup(ctx, key); ok {
			if c.isFresh(storedAt) {
				logging.Debug(ctx, "version check: cache hit", slog.String("key", key))
				res.Source = SourceCache
				return res
			}
			expired = true
			logging.Debug(ctx, "version check: cache entry expired",
				slog.String("key", key),
				slog.Time("stored_at", storedAt),
			)
		}
	}

	fetched, err := c.fetcher.Fetch(ctx, req)
	if err == nil {
		fetched = fetched.normalize(req, c.now())
		fetched.Source = SourceNetwork
		if c.cachingEnabled() {
			switch {
			case fetched.Success:
				c.store(ctx, key, fetched)
			case expired:
				// The service answered, so the old entry will not be needed
				// as a fallback.
				c.evict(ctx, key)
			}
		}
		return fetched
	}

	logging.Warn(ctx, "version check: fetch failed",
		slog.String("error", describeFetchError(err)),
	)

	if c.cachingEnabled() {
		// The caller's context may be what failed the fetch; the stale
		// lookup still runs.
		if res, storedAt, ok := c.lookup(context.WithoutCancel(ctx), key); ok {
			logging.Info(ctx, "version check: serving stale cache entry",
				slog.String("key", key),
				slog.Time("stored_at", storedAt),
			)
			res.Source = SourceStaleCache
			return res
		}
	}

	res := Failure(req, describeFetchError(err))
	now := c.now().UTC()
	res.CheckedAt = &now
	res.Source = SourceSynthesized
	return res
}

// IsUpdateAvailable reports whether latest is newer than current.
func (c *Checker) IsUpdateAvailable(current, latest string) bool {
	return versioncmp.IsUpdateAvailable(current, latest)
}

// ClearCache removes every entry in the checker's namespace. Store failures
// are logged and ignored.
func (c *Checker) ClearCache(ctx context.Context) {
	if c.cache == nil {
		return
	}
	ctx = logging.WithComponent(ctx, "versioncheck")

	keys, err := c.cache.KeysWithPrefix(ctx, c.cfg.Namespace+":")
	if err != nil {
		c.cacheError(ctx, CacheOpList, err)
		return
	}
	for _, k := range keys {
		c.evict(ctx, k)
	}
	logging.Debug(ctx, "version check: cache cleared", slog.Int("entries", len(keys)))
}

func (c *Checker) cachingEnabled() bool {
	return c.cfg.EnableCaching && c.cache != nil
}

func (c *Checker) isFresh(storedAt time.Time) bool {
	if c.cfg.CacheDuration <= 0 {
		return false
	}
	return c.now().Sub(storedAt) < c.cfg.CacheDuration
}

// lookup reads and decodes the entry for key. Read errors, undecodable
// payloads and non-success payloads all count as a miss.
func (c *Checker) lookup(ctx context.Context, key string) (Result, time.Time, bool) {
	entry, err := c.cache.Get(ctx, key)
	if err != nil {
		c.cacheError(ctx, CacheOpGet, err)
		return Result{}, time.Time{}, false
	}
	if entry == nil {
		return Result{}, time.Time{}, false
	}

	var res Result
	if err := json.Unmarshal(entry.Payload, &res); err != nil {
		c.cacheError(ctx, CacheOpDecode, err)
		return Result{}, time.Time{}, false
	}
	if !res.Success {
		c.cacheError(ctx, CacheOpDecode, errors.New("cached result is not a success"))
		return Result{}, time.Time{}, false
	}
	return res, entry.StoredAt, true
}

func (c *Checker) store(ctx context.Context, key string, res Result) {
	payload, err := json.Marshal(res)
	if err != nil {
		c.cacheError(ctx, CacheOpSet, err)
		return
	}
	if err := c.cache.Set(ctx, key, payload, c.now()); err != nil {
		c.cacheError(ctx, CacheOpSet, err)
	}
}

func (c *Checker) evict(ctx context.Context, key string) {
	if err := c.cache.Delete(ctx, key); err != nil {
		c.cacheError(ctx, CacheOpDelete, err)
	}
}

func (c *Checker) cacheError(ctx context.Context, op string, err error) {
	logging.Debug(ctx, "version check: cache error",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	for _, o := range c.observers {
		o.ObserveCacheError(ctx, op, err)
	}
}
