package cache

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// PopularQuery is a query and how many times its results were cached.
type PopularQuery struct {
	Query string  `json:"query"`
	Count float64 `json:"count"`
}

// Metrics summarizes cache effectiveness.
type Metrics struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Total     int64   `json:"total_requests"`
	HitRate   float64 `json:"hit_rate"` // hits / total, 0 when total is 0
	Available bool    `json:"redis_available"`
}

// recordQuery bumps the popularity counters and returns the query's new count.
// The popular set never expires so queries stay discoverable after their results do.
func (c *ResultCache) recordQuery(ctx context.Context, query, subject string) float64 {
	var count float64
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		count, err = c.rdb.ZIncrBy(ctx, popularKey, 1, query).Result()
		return err
	})
	if err != nil {
		c.logger.Warn("Popularity update failed", "error", err)
		return 0
	}

	if subject != "" {
		key := subjectPrefix + subject
		err := c.do(ctx, func(ctx context.Context) error {
			pipe := c.rdb.TxPipeline()
			pipe.ZIncrBy(ctx, key, 1, query)
			pipe.Expire(ctx, key, c.cfg.StatsTTL)
			_, err := pipe.Exec(ctx)
			return err
		})
		if err != nil {
			c.logger.Warn("Subject stats update failed", "subject", subject, "error", err)
		}
	}
	return count
}

// PopularQueries returns up to limit queries, most frequent first.
func (c *ResultCache) PopularQueries(ctx context.Context, limit int) []PopularQuery {
	return c.ranked(ctx, popularKey, limit)
}

// SubjectQueries returns up to limit recent popular queries for one subject.
func (c *ResultCache) SubjectQueries(ctx context.Context, subject string, limit int) []PopularQuery {
	return c.ranked(ctx, subjectPrefix+subject, limit)
}

func (c *ResultCache) ranked(ctx context.Context, key string, limit int) []PopularQuery {
	out := []PopularQuery{}
	if c.rdb == nil || limit <= 0 {
		return out
	}

	var members []redis.Z
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		members, err = c.rdb.ZRevRangeWithScores(ctx, key, 0, int64(limit-1)).Result()
		return err
	})
	if err != nil {
		c.logger.Warn("Reading ranked queries failed", "key", key, "error", err)
		return out
	}
	for _, m := range members {
		if q, ok := m.Member.(string); ok {
			out = append(out, PopularQuery{Query: q, Count: m.Score})
		}
	}
	return out
}

// Metrics reports hit and miss counters.
func (c *ResultCache) Metrics(ctx context.Context) Metrics {
	if c.rdb == nil {
		return Metrics{}
	}

	var hits, misses int64
	err := c.do(ctx, func(ctx context.Context) error {
		values, err := c.rdb.MGet(ctx, hitsKey, missesKey).Result()
		if err != nil {
			return err
		}
		hits, misses = toInt(values[0]), toInt(values[1])
		return nil
	})
	if err != nil {
		c.logger.Warn("Reading cache metrics failed", "error", err)
		return Metrics{}
	}

	m := Metrics{Hits: hits, Misses: misses, Total: hits + misses, Available: true}
	if m.Total > 0 {
		m.HitRate = float64(hits) / float64(m.Total)
	}
	return m
}

func (c *ResultCache) count(ctx context.Context, key string) {
	err := c.do(ctx, func(ctx context.Context) error { return c.rdb.Incr(ctx, key).Err() })
	if err != nil {
		c.logger.Debug("Metrics counter update failed", "key", key, "error", err)
	}
}

// Invalidate deletes cached search results whose key starts with pattern
// after the search prefix. An empty pattern drops every cached search.
func (c *ResultCache) Invalidate(ctx context.Context, pattern string) int {
	return c.deleteMatching(ctx, searchPrefix+pattern+"*")
}

// Clear deletes every key the cache owns, including statistics.
func (c *ResultCache) Clear(ctx context.Context) int {
	return c.deleteMatching(ctx, prefix+"*")
}

// deleteMatching walks the keyspace with SCAN and returns how many keys it removed.
func (c *ResultCache) deleteMatching(ctx context.Context, match string) int {
	if c.rdb == nil {
		return 0
	}

	deleted := 0
	var cursor uint64
	for {
		var keys []string
		err := c.do(ctx, func(ctx context.Context) error {
			var err error
			keys, cursor, err = c.rdb.Scan(ctx, cursor, match, scanBatchCount).Result()
			return err
		})
		if err != nil {
			c.logger.Warn("Cache scan failed", "match", match, "error", err)
			return deleted
		}
		if len(keys) > 0 {
			var n int64
			err := c.do(ctx, func(ctx context.Context) error {
				var err error
				n, err = c.rdb.Del(ctx, keys...).Result()
				return err
			})
			if err != nil {
				c.logger.Warn("Cache delete failed", "match", match, "error", err)
				return deleted
			}
			deleted += int(n)
		}
		if cursor == 0 {
			break
		}
	}
	c.logger.Info("Invalidated cache entries", "match", match, "count", deleted)
	return deleted
}

func toInt(v any) int64 {
	s, _ := v.(string)
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
