// Package storage provides SQLite-based persistence for embedding vectors.
//
// The storage layer manages:
//   - Named collections with a distance metric and a fixed dimension
//   - Vector records keyed by external ID, with string metadata
//   - Build run history for every collection
//
// # Database Schema
//
// Tables:
//   - collections: name, metric, dimension, result-count ceiling
//   - vectors: little-endian float32 blobs plus JSON metadata
//   - build_runs: one row per signature build
//   - schema_version: applied migrations (semantic versions)
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("phenorank.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	coll := &storage.Collection{Name: "average", Metric: storage.MetricCosine}
//	if err := store.CreateCollection(ctx, coll); err != nil {
//	    return err
//	}
//
//	err = store.UpsertVectors(ctx, coll.ID, []*storage.VectorRecord{
//	    {ExternalID: "OMIM:100100", Vector: vec, Metadata: map[string]string{"type": "disease"}},
//	})
//
// # Nearest-Neighbour Queries
//
//	neighbors, err := store.QueryNearest(ctx, coll.ID, query, 10)
//	if errors.Is(err, storage.ErrResultLimitExceeded) {
//	    // the collection ceiling is lower than 10
//	}
//
// Results are sorted by ascending distance, ties by external ID. A collection
// with MaxQueryResults > 0 rejects larger limits outright.
//
// # Transactions
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if err := tx.UpsertVectors(ctx, coll.ID, batch); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Build Tags
//
// CGO Build (sqlite_vec tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Registers the sqlite-vec extension; cosine and l2 distances run in SQL
//
//     CGO_ENABLED=1 go build -tags "sqlite_vec"
//
// Pure Go Build (default, or purego tag):
//
//   - Uses modernc.org/sqlite driver
//
//   - Distances computed in Go
//
//     CGO_ENABLED=0 go build -tags "purego"
package storage
