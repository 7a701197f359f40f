package ranker

import (
	"context"
	"testing"

	"github.com/dshills/phenorank/internal/storage"
	"github.com/dshills/phenorank/pkg/types"
)

func BenchmarkProbeLimit(b *testing.B) {
	idx := &mockIndex{name: "average", count: 12000, ceiling: 11842}
	ctx := context.Background()
	vec := []float32{1, 0, 0}
	coll := &storage.Collection{ID: 1, Name: idx.name, MaxQueryResults: idx.ceiling}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r := NewRanker(idx, Options{ProbeLowerBound: 100})
		if _, _, err := r.probeLimit(ctx, coll, vec, idx.count); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRank_Memoised(b *testing.B) {
	idx := &mockIndex{name: "average", count: 2000, ceiling: 1500}
	r := NewRanker(idx, Options{ProbeLowerBound: 100})
	agg := testAggregator()
	req := Request{Collection: "average", Terms: []types.TermID{"HP:0000001", "HP:0000002"}}
	ctx := context.Background()

	if _, err := r.Rank(ctx, agg, req); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := r.Rank(ctx, agg, req); err != nil {
			b.Fatal(err)
		}
	}
}
