// Package ranker ranks diseases against a query's phenotype terms.
//
// The query's terms are aggregated with the same signature.Aggregator that
// built the target collection, and the collection is searched for the nearest
// disease signatures:
//
//	r := ranker.NewRanker(store, ranker.Options{Logger: logger})
//
//	resp, err := r.Rank(ctx, signature.NewMean(cache), ranker.Request{
//	    Collection: "average",
//	    Terms:      []types.TermID{"HP:0001250", "HP:0001263"},
//	})
//
//	for _, d := range resp.Results {
//	    fmt.Printf("[%d] %s %.4f\n", d.Rank, d.DiseaseID, d.Distance)
//	}
//
// # Result Limit Probing
//
// The vector store refuses queries that ask for more results than the
// collection's ceiling. A request without a limit ranks as many diseases as
// the store allows: the ranker binary-searches between the probe lower bound
// and the collection's vector count, treating storage.ErrResultLimitExceeded
// as "too many", then re-checks the values next to the answer. Any other
// error aborts the query. Probed limits are memoised per collection and
// vector count, so only the first unbounded query against a collection pays
// for the probe.
//
// A request with Limit > 0 queries with that limit directly and surfaces
// storage.ErrResultLimitExceeded if the ceiling is lower.
//
// # Ordering
//
// Results are sorted by ascending distance with ties broken by disease ID.
// Ranks are 1-based.
package ranker
