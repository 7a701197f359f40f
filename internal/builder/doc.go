// Package builder writes disease signatures into the vector store.
//
// # Basic Usage
//
//	b := builder.New(store, logger)
//	stats, err := b.Build(ctx, signature.NewMean(cache), index, &builder.Config{
//	    Collection: "average",
//	})
//	fmt.Printf("wrote %d diseases in %v\n", stats.Diseases, stats.Duration)
//
// # Pipeline
//
//  1. Get or create the target collection (cosine by default)
//  2. Return early when it already holds vectors, unless Force is set
//  3. Compute signatures on a bounded worker pool
//  4. A single writer upserts them in batches of 25, one transaction each
//  5. Record the run (UUID, counts, timestamps) in build_runs
//
// Diseases whose signature cannot be computed, typically because none of
// their terms has an embedding, are counted in Statistics.Skipped and do
// not fail the build.
//
// # Concurrency
//
// Only one build runs per Builder at a time; a concurrent call returns
// ErrBuildInProgress immediately rather than waiting.
package builder
