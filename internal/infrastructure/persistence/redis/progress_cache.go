package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neuroswitch/progression-engine/internal/domain/performance"
	"github.com/neuroswitch/progression-engine/internal/domain/progression"
	"github.com/neuroswitch/progression-engine/internal/infrastructure/metrics"
	"github.com/neuroswitch/progression-engine/pkg/circuitbreaker"
	"github.com/neuroswitch/progression-engine/pkg/logger"
	"github.com/neuroswitch/progression-engine/pkg/retry"
)

// Cache entries.
const (
	EntryPosition = "position"
	EntryHistory  = "history"
)

// ProgressCache caches learner positions and score histories. Redis
// failures are counted by a circuit breaker; callers treat any error as a
// miss and fall through to the store.
type ProgressCache struct {
	cache   *Cache
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
	retries retry.Policy
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewProgressCache wires the cache with the score-cache breaker.
func NewProgressCache(cache *Cache, ttl time.Duration, m *metrics.Metrics, log *logger.Logger) *ProgressCache {
	if ttl <= 0 {
		ttl = TTLProgress
	}
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("progress_cache"))

	breaker := circuitbreaker.ForScoreCache(func(tr circuitbreaker.Transition) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", tr.Breaker),
			logger.String("from", tr.From.String()),
			logger.String("to", tr.To.String()),
		)
		m.BreakerState(tr.Breaker, int(tr.To))
	})

	return &ProgressCache{
		cache:   cache,
		ttl:     ttl,
		breaker: breaker,
		retries: retry.ForCache(),
		metrics: m,
		log:     log,
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (p *ProgressCache) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}

// call runs op through the breaker, retrying once inside it.
func (p *ProgressCache) call(ctx context.Context, op func(ctx context.Context) error) error {
	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.retries.Do(ctx, op)
	})
}

// lookup reads key into dest. A miss is (false, nil).
func (p *ProgressCache) lookup(ctx context.Context, entry, key string, dest any) (bool, error) {
	found := false
	err := p.call(ctx, func(ctx context.Context) error {
		err := p.cache.Get(ctx, key, dest)
		switch {
		case err == nil:
			found = true
			return nil
		case errors.Is(err, ErrCacheMiss):
			return nil
		case errors.Is(err, ErrCacheSerialization):
			// a stale or foreign payload is a miss, and it goes away
			_ = p.cache.Delete(ctx, key)
			return nil
		default:
			return err
		}
	})
	if err != nil {
		p.metrics.CacheRequest(entry, metrics.CacheError)
		return false, fmt.Errorf("cache get %s: %w", entry, err)
	}
	if found {
		p.metrics.CacheRequest(entry, metrics.CacheHit)
	} else {
		p.metrics.CacheRequest(entry, metrics.CacheMiss)
	}
	return found, nil
}

func (p *ProgressCache) store(ctx context.Context, entry, key string, value any) error {
	err := p.call(ctx, func(ctx context.Context) error {
		return p.cache.Set(ctx, key, value, p.ttl)
	})
	if err != nil {
		return fmt.Errorf("cache set %s: %w", entry, err)
	}
	return nil
}

// Position returns a cached position.
func (p *ProgressCache) Position(ctx context.Context, userID string) (*progression.Position, bool, error) {
	var pos progression.Position
	found, err := p.lookup(ctx, EntryPosition, p.cache.Key(PrefixPosition, userID), &pos)
	if err != nil || !found {
		return nil, false, err
	}
	return &pos, true, nil
}

// StorePosition caches a position.
func (p *ProgressCache) StorePosition(ctx context.Context, pos *progression.Position) error {
	if pos == nil {
		return ErrCacheNilValue
	}
	return p.store(ctx, EntryPosition, p.cache.Key(PrefixPosition, pos.UserID), pos)
}

// History returns a cached score history.
func (p *ProgressCache) History(ctx context.Context, userID string) ([]performance.ScoreRecord, bool, error) {
	var records []performance.ScoreRecord
	found, err := p.lookup(ctx, EntryHistory, p.cache.Key(PrefixHistory, userID), &records)
	if err != nil || !found {
		return nil, false, err
	}
	return records, true, nil
}

// StoreHistory caches a score history. An empty history is cached as [].
func (p *ProgressCache) StoreHistory(ctx context.Context, userID string, records []performance.ScoreRecord) error {
	if records == nil {
		records = []performance.ScoreRecord{}
	}
	return p.store(ctx, EntryHistory, p.cache.Key(PrefixHistory, userID), records)
}

// Invalidate drops both entries for a learner.
func (p *ProgressCache) Invalidate(ctx context.Context, userID string) error {
	err := p.call(ctx, func(ctx context.Context) error {
		return p.cache.Delete(ctx,
			p.cache.Key(PrefixPosition, userID),
			p.cache.Key(PrefixHistory, userID),
		)
	})
	if err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
