package ranker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/phenorank/internal/storage"
)

// prober issues trial queries against one collection and counts them
type prober struct {
	ctx          context.Context
	index        VectorIndex
	collectionID int64
	vector       []float32
	queries      int
}

// try reports whether the store accepts a query with n results
func (p *prober) try(n int) (bool, error) {
	p.queries++
	_, err := p.index.QueryNearest(p.ctx, p.collectionID, p.vector, n)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrResultLimitExceeded):
		return false, nil
	default:
		return false, fmt.Errorf("probe query with limit %d failed: %w", n, err)
	}
}

// search binary-searches (lower, upper) taking lower as safe, then checks the
// values around the answer. confirmed is false when no trial query succeeded.
func (p *prober) search(lower, upper int) (maxSafe int, confirmed bool, err error) {
	maxSafe = lower

	for lower < upper-1 {
		if err := p.ctx.Err(); err != nil {
			return 0, false, err
		}
		mid := (lower + upper) / 2
		ok, err := p.try(mid)
		if err != nil {
			return 0, false, err
		}
		if ok {
			maxSafe = mid
			lower = mid
			confirmed = true
		} else {
			upper = mid
		}
	}

	center := maxSafe
	for v := center - 1; v <= center+1; v++ {
		if v <= 0 {
			continue
		}
		ok, err := p.try(v)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			break
		}
		maxSafe = v
		confirmed = true
	}

	return maxSafe, confirmed, nil
}

// probeLimit finds the largest result count the store accepts for the
// collection, starting from the configured lower bound clamped to the vector
// count. When the lower bound itself is rejected the search repeats below it.
func (r *Ranker) probeLimit(ctx context.Context, coll *storage.Collection, vector []float32, count int) (int, int, error) {
	collectionID := coll.ID
	key := probeKey{collectionID: collectionID, count: count, ceiling: coll.MaxQueryResults}
	if limit, ok := r.probes.Get(key); ok {
		return limit, 0, nil
	}

	p := &prober{ctx: ctx, index: r.index, collectionID: collectionID, vector: vector}

	lower := min(r.probeLower, count)
	limit, confirmed, err := p.search(lower, count)
	if err != nil {
		return 0, p.queries, err
	}
	if !confirmed {
		r.logger.Warn("probe lower bound rejected by store, searching below it",
			zap.Int64("collection_id", collectionID),
			zap.Int("lower_bound", lower))
		limit, confirmed, err = p.search(0, lower)
		if err != nil {
			return 0, p.queries, err
		}
	}
	if !confirmed {
		return 0, p.queries, fmt.Errorf("%w: store rejected every probe", storage.ErrResultLimitExceeded)
	}

	r.probes.Add(key, limit)
	r.logger.Debug("probed result limit",
		zap.Int64("collection_id", collectionID),
		zap.Int("vectors", count),
		zap.Int("limit", limit),
		zap.Int("queries", p.queries))

	return limit, p.queries, nil
}
