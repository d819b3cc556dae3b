package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/bull/edu-rag-server/internal/cache"
	"github.com/bull/edu-rag-server/internal/domain"
	"github.com/bull/edu-rag-server/internal/retrieval"
)

const warmTag = "warm-popular-queries"

// StartWarmer schedules WarmPopular every WarmInterval until ctx is done or
// StopWarmer is called. It is a no-op when the interval is zero or no cache
// is configured.
func (e *Engine) StartWarmer(ctx context.Context) error {
	if e.cfg.WarmInterval <= 0 || !e.cache.Available() {
		return nil
	}
	if e.scheduler != nil {
		return errors.New("warmer already running")
	}

	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	_, err := s.Every(e.cfg.WarmInterval).Tag(warmTag).Do(func() {
		n := e.WarmPopular(ctx)
		e.logger.Debug("Warmed popular queries", "refreshed", n)
	})
	if err != nil {
		return fmt.Errorf("scheduling cache warmer: %w", err)
	}
	s.StartAsync()
	e.scheduler = s
	e.logger.Info("Cache warmer started", "interval", e.cfg.WarmInterval, "queries", e.cfg.WarmQueries)

	go func() {
		<-ctx.Done()
		e.StopWarmer()
	}()
	return nil
}

// StopWarmer stops the scheduled warmer.
func (e *Engine) StopWarmer() {
	if e.scheduler != nil {
		e.scheduler.Stop()
	}
}

// WarmPopular re-runs the most popular unfiltered queries and refreshes their
// cached results without counting them as new requests. It returns how many
// entries were refreshed.
func (e *Engine) WarmPopular(ctx context.Context) int {
	refreshed := 0
	for _, pq := range e.cache.PopularQueries(ctx, e.cfg.WarmQueries) {
		if ctx.Err() != nil {
			break
		}
		decision, err := e.Route(ctx, pq.Query)
		if err != nil || !decision.IsEducational {
			continue
		}
		results, err := e.retriever.Search(ctx, retrieval.Request{Query: pq.Query, Limit: e.cfg.MaxLimit})
		if err != nil {
			e.logger.Warn("Cache warm search failed", "query", pq.Query, "error", err)
			continue
		}
		if len(results) == 0 {
			continue
		}
		key := cache.SearchKey(pq.Query, domain.SearchFilters{})
		e.cache.PutSearch(ctx, key, results, e.cache.TTLFor(pq.Query, len(results), pq.Count))
		refreshed++
	}
	return refreshed
}
