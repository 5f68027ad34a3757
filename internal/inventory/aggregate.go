package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// StockSource answers derived stock-on-hand queries. Satisfied by Repository.
type StockSource interface {
	SumAvailable(ctx context.Context, productID, locationID int64) (int64, error)
}

// AggregateView caches derived stock-on-hand per (product, location). The
// cached number is never written directly; every mutation path invalidates
// the key and the next read re-derives from the batch rows. A nil view is
// valid and always falls through to the source.
type AggregateView struct {
	source StockSource
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewAggregateView constructs the view. cache may be nil for cache-less
// deployments; ttl <= 0 defaults to five minutes.
func NewAggregateView(source StockSource, cache *redis.Client, ttl time.Duration, logger *slog.Logger) *AggregateView {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AggregateView{source: source, cache: cache, ttl: ttl, logger: logger}
}

func stockKey(productID, locationID int64) string {
	return fmt.Sprintf("stock:%d:%d", productID, locationID)
}

// StockOnHand returns total available quantity for the product at the
// location. Concurrent cache misses for the same key share one derivation.
func (v *AggregateView) StockOnHand(ctx context.Context, productID, locationID int64) (int64, error) {
	if v == nil || v.cache == nil {
		return v.derive(ctx, productID, locationID)
	}

	key := stockKey(productID, locationID)
	if raw, err := v.cache.Get(ctx, key).Result(); err == nil {
		if total, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
			return total, nil
		}
	} else if err != redis.Nil {
		v.logger.Warn("aggregate cache read failed", "key", key, "error", err)
	}

	resultChan := v.group.DoChan(key, func() (interface{}, error) {
		total, err := v.derive(ctx, productID, locationID)
		if err != nil {
			return nil, err
		}
		if setErr := v.cache.Set(ctx, key, strconv.FormatInt(total, 10), v.ttl).Err(); setErr != nil {
			v.logger.Warn("aggregate cache write failed", "key", key, "error", setErr)
		}
		return total, nil
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	}
}

// Invalidate drops the cached total after a mutation.
func (v *AggregateView) Invalidate(ctx context.Context, productID, locationID int64) {
	if v == nil || v.cache == nil {
		return
	}
	key := stockKey(productID, locationID)
	if err := v.cache.Del(ctx, key).Err(); err != nil {
		v.logger.Warn("aggregate cache invalidation failed", "key", key, "error", err)
	}
}

// Verify compares the cached total against the derived one and repairs any
// drift. It reports whether the cached value had drifted. Run periodically by
// the worker.
func (v *AggregateView) Verify(ctx context.Context, productID, locationID int64) (bool, error) {
	derived, err := v.derive(ctx, productID, locationID)
	if err != nil {
		return false, err
	}
	if v == nil || v.cache == nil {
		return false, nil
	}
	key := stockKey(productID, locationID)
	raw, err := v.cache.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	cached, err := strconv.ParseInt(raw, 10, 64)
	if err == nil && cached == derived {
		return false, nil
	}
	v.logger.Warn("aggregate drift detected", "key", key, "cached", raw, "derived", derived)
	if err := v.cache.Set(ctx, key, strconv.FormatInt(derived, 10), v.ttl).Err(); err != nil {
		return true, err
	}
	return true, nil
}

func (v *AggregateView) derive(ctx context.Context, productID, locationID int64) (int64, error) {
	if v == nil || v.source == nil {
		return 0, fmt.Errorf("inventory: aggregate source not configured")
	}
	return v.source.SumAvailable(ctx, productID, locationID)
}
