// Package cache memoizes search results and routing decisions in Redis and
// tracks query popularity. Every operation degrades to a miss or a no-op when
// Redis is absent or failing.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/bull/edu-rag-server/internal/domain"
)

const (
	prefix         = "rag:"
	searchPrefix   = prefix + "search:"
	routingPrefix  = prefix + "routing:"
	subjectPrefix  = prefix + "stats:subject:"
	popularKey     = prefix + "popular"
	hitsKey        = prefix + "metrics:hits"
	missesKey      = prefix + "metrics:misses"
	scanBatchCount = 200
)

// Config controls expiry and popularity.
type Config struct {
	SearchTTL        time.Duration // base TTL for search results
	RoutingTTL       time.Duration
	StatsTTL         time.Duration // per-subject query statistics
	PopularThreshold int           // writes before a query counts as popular
	OpTimeout        time.Duration // bound on every Redis call
}

// DefaultConfig returns the stock cache settings.
func DefaultConfig() Config {
	return Config{
		SearchTTL:        time.Hour,
		RoutingTTL:       30 * time.Minute,
		StatsTTL:         30 * time.Minute,
		PopularThreshold: 5,
		OpTimeout:        500 * time.Millisecond,
	}
}

// ResultCache is a Redis-backed search and routing cache.
type ResultCache struct {
	rdb     redis.UniversalClient
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// New creates a cache over rdb. A nil rdb yields a cache that never hits.
func New(rdb redis.UniversalClient, cfg Config, logger *slog.Logger) *ResultCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &ResultCache{rdb: rdb, cfg: cfg, logger: logger}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-cache",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Available reports whether a backing store is configured.
func (c *ResultCache) Available() bool { return c.rdb != nil }

// Ping checks the backing store.
func (c *ResultCache) Ping(ctx context.Context) error {
	if c.rdb == nil {
		return errors.New("redis not configured")
	}
	return c.do(ctx, func(ctx context.Context) error { return c.rdb.Ping(ctx).Err() })
}

// do runs fn behind the breaker with the per-operation timeout.
func (c *ResultCache) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.cfg.OpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SearchKey derives the cache key of a search from the normalized query and
// every filter that affects the result.
func SearchKey(query string, f domain.SearchFilters) string {
	parts := []string{strings.ToLower(strings.TrimSpace(query))}
	if f.Subject != "" {
		parts = append(parts, f.Subject)
	}
	if f.Standard > 0 {
		parts = append(parts, strconv.Itoa(f.Standard))
	}
	if len(f.ContentTypes) > 0 {
		types := make([]string, len(f.ContentTypes))
		for i, ct := range f.ContentTypes {
			types[i] = string(ct)
		}
		slices.Sort(types)
		parts = append(parts, "ct="+strings.Join(types, ","))
	}
	if len(f.Difficulties) > 0 {
		levels := make([]string, len(f.Difficulties))
		for i, d := range f.Difficulties {
			levels[i] = string(d)
		}
		slices.Sort(levels)
		parts = append(parts, "diff="+strings.Join(levels, ","))
	}
	return searchPrefix + hash(strings.Join(parts, ":"))
}

func routingKey(query string) string {
	return routingPrefix + hash(query)
}

type searchEntry struct {
	Results  []domain.SearchResult `json:"results"`
	CachedAt time.Time             `json:"cached_at"`
}

// GetSearch returns the cached results for key.
func (c *ResultCache) GetSearch(ctx context.Context, key string) ([]domain.SearchResult, bool) {
	if c.rdb == nil {
		return nil, false
	}

	var raw []byte
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = c.rdb.Get(ctx, key).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		c.count(ctx, missesKey)
		return nil, false
	}
	if err != nil {
		c.logger.Warn("Cache read failed", "key", key, "error", err)
		return nil, false
	}

	var entry searchEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("Discarding corrupt cache entry", "key", key, "error", err)
		return nil, false
	}
	c.count(ctx, hitsKey)
	return entry.Results, true
}

// PutSearch stores results under key for ttl. Empty result lists are not cached.
func (c *ResultCache) PutSearch(ctx context.Context, key string, results []domain.SearchResult, ttl time.Duration) {
	if c.rdb == nil || len(results) == 0 {
		return
	}

	raw, err := json.Marshal(searchEntry{Results: results, CachedAt: time.Now().UTC()})
	if err != nil {
		c.logger.Warn("Cache encode failed", "key", key, "error", err)
		return
	}
	err = c.do(ctx, func(ctx context.Context) error {
		return c.rdb.Set(ctx, key, raw, ttl).Err()
	})
	if err != nil {
		c.logger.Warn("Cache write failed", "key", key, "error", err)
	}
}

// StoreSearch records the query's popularity, picks a TTL and caches results.
// It returns the TTL used, or 0 when nothing was cached.
func (c *ResultCache) StoreSearch(ctx context.Context, query string, filters domain.SearchFilters, results []domain.SearchResult) time.Duration {
	if c.rdb == nil || len(results) == 0 {
		return 0
	}

	popularity := c.recordQuery(ctx, query, filters.Subject)
	ttl := c.TTLFor(query, len(results), popularity)
	c.PutSearch(ctx, SearchKey(query, filters), results, ttl)
	c.logger.Debug("Cached search results", "query", query, "results", len(results), "ttl", ttl)
	return ttl
}

// TTLFor picks an expiry: popular queries get three times the base TTL,
// otherwise educational-looking queries with at least three results get twice.
// The popular rule wins when both apply, so a popular educational query gets
// three times the base TTL, not twice.
func (c *ResultCache) TTLFor(query string, resultCount int, popularity float64) time.Duration {
	switch {
	case c.cfg.PopularThreshold > 0 && popularity >= float64(c.cfg.PopularThreshold):
		return 3 * c.cfg.SearchTTL
	case resultCount >= 3 && educationalIntent(query):
		return 2 * c.cfg.SearchTTL
	default:
		return c.cfg.SearchTTL
	}
}

func educationalIntent(query string) bool {
	q := strings.ToLower(query)
	for _, marker := range []string{"what", "how", "explain", "math", "calculate", "solve"} {
		if strings.Contains(q, marker) {
			return true
		}
	}
	return false
}

// GetRouting returns a cached routing decision for query.
func (c *ResultCache) GetRouting(ctx context.Context, query string) (domain.RoutingDecision, bool) {
	if c.rdb == nil {
		return domain.RoutingDecision{}, false
	}

	var raw []byte
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = c.rdb.Get(ctx, routingKey(query)).Bytes()
		return err
	})
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Routing cache read failed", "error", err)
		}
		return domain.RoutingDecision{}, false
	}

	var decision domain.RoutingDecision
	if err := json.Unmarshal(raw, &decision); err != nil {
		c.logger.Warn("Discarding corrupt routing entry", "error", err)
		return domain.RoutingDecision{}, false
	}
	return decision, true
}

// PutRouting caches a routing decision for RoutingTTL.
func (c *ResultCache) PutRouting(ctx context.Context, query string, decision domain.RoutingDecision) {
	if c.rdb == nil {
		return
	}

	raw, err := json.Marshal(decision)
	if err != nil {
		c.logger.Warn("Routing cache encode failed", "error", err)
		return
	}
	err = c.do(ctx, func(ctx context.Context) error {
		return c.rdb.Set(ctx, routingKey(query), raw, c.cfg.RoutingTTL).Err()
	})
	if err != nil {
		c.logger.Warn("Routing cache write failed", "error", err)
	}
}
