package pipeline

import (
	"context"

	"github.com/dshills/phenorank/internal/ranker"
	"github.com/dshills/phenorank/internal/signature"
	"github.com/dshills/phenorank/pkg/types"
)

// Rank orders the diseases of the kind's collection by distance to the
// signature of terms. limit 0 ranks as many diseases as the store allows.
func (p *Pipeline) Rank(ctx context.Context, terms []types.TermID, kind signature.Kind, limit int) (*ranker.Response, error) {
	if err := types.ValidateTerms(terms); err != nil {
		return nil, err
	}
	agg, err := p.aggregator(ctx, kind)
	if err != nil {
		return nil, err
	}
	return p.ranker.Rank(ctx, agg, ranker.Request{
		Collection: p.cfg.CollectionFor(kind),
		Terms:      terms,
		Limit:      limit,
		UseCache:   true,
		CacheTTL:   p.cfg.GetCacheTTL(),
	})
}
