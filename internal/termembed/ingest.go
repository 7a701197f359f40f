package termembed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/phenorank/internal/embedder"
	"github.com/dshills/phenorank/internal/ontology"
	"github.com/dshills/phenorank/internal/storage"
	"github.com/dshills/phenorank/pkg/types"
)

// IngestOptions configures term ingestion
type IngestOptions struct {
	Collection string
	Metric     storage.Metric
	BatchSize  int  // Texts per embedding request; defaults to embedder.DefaultBatchSize
	Force      bool // Clear and re-embed a populated collection
	Logger     *zap.Logger
}

// IngestStats reports what Ingest did
type IngestStats struct {
	Collection string
	Terms      int  // Terms embedded and stored
	Obsolete   int  // Obsolete terms skipped
	Untitled   int  // Terms without name or definition
	Existing   bool // Collection was already populated and left alone
	Duration   time.Duration
}

// Ingest embeds the text of every non-obsolete ontology term and stores the
// vectors in the term collection with term_id and label metadata
func Ingest(ctx context.Context, store storage.Storage, emb embedder.Embedder, ont *ontology.Ontology, opts IngestOptions) (*IngestStats, error) {
	if opts.Collection == "" {
		return nil, errors.New("collection name is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()
	stats := &IngestStats{Collection: opts.Collection}

	coll, err := getOrCreateCollection(ctx, store, opts.Collection, opts.Metric)
	if err != nil {
		return nil, err
	}

	count, err := store.CountVectors(ctx, coll.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count term vectors: %w", err)
	}
	if count > 0 && !opts.Force {
		logger.Info("term collection already populated, skipping ingestion",
			zap.String("collection", opts.Collection),
			zap.Int("vectors", count))
		stats.Existing = true
		stats.Terms = count
		stats.Duration = time.Since(start)
		return stats, nil
	}
	if count > 0 {
		if _, err := store.ClearVectors(ctx, coll.ID); err != nil {
			return nil, err
		}
	}

	var ids []types.TermID
	var texts []string
	var labels []string
	for _, id := range ont.Terms() {
		term, _ := ont.Term(id)
		if term.Obsolete {
			stats.Obsolete++
			continue
		}
		text := term.Text()
		if text == "" {
			stats.Untitled++
			continue
		}
		ids = append(ids, id)
		texts = append(texts, text)
		labels = append(labels, term.Name)
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 || batchSize > embedder.MaxBatchSize {
		batchSize = embedder.DefaultBatchSize
	}

	for begin := 0; begin < len(texts); begin += batchSize {
		end := begin + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := emb.EmbedBatch(ctx, texts[begin:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed terms %d-%d: %w", begin, end, err)
		}

		records := make([]*storage.VectorRecord, len(vectors))
		for i, vec := range vectors {
			records[i] = &storage.VectorRecord{
				ExternalID: string(ids[begin+i]),
				Vector:     vec,
				Metadata: map[string]string{
					MetaTermID: string(ids[begin+i]),
					MetaLabel:  labels[begin+i],
				},
			}
		}
		if err := upsertInTx(ctx, store, coll.ID, records); err != nil {
			return nil, err
		}
		stats.Terms += len(records)

		logger.Debug("ingested term batch",
			zap.Int("from", begin),
			zap.Int("to", end),
			zap.Int("total", len(texts)))
	}

	stats.Duration = time.Since(start)
	logger.Info("term ingestion complete",
		zap.String("collection", opts.Collection),
		zap.String("provider", emb.Provider()),
		zap.String("model", emb.Model()),
		zap.Int("terms", stats.Terms),
		zap.Int("obsolete", stats.Obsolete),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func getOrCreateCollection(ctx context.Context, store storage.Storage, name string, metric storage.Metric) (*storage.Collection, error) {
	coll, err := store.GetCollection(ctx, name)
	if err == nil {
		return coll, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to get collection %q: %w", name, err)
	}
	coll = &storage.Collection{Name: name, Metric: metric}
	if err := store.CreateCollection(ctx, coll); err != nil {
		return nil, fmt.Errorf("failed to create collection %q: %w", name, err)
	}
	return coll, nil
}

func upsertInTx(ctx context.Context, store storage.Storage, collectionID int64, records []*storage.VectorRecord) error {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := tx.UpsertVectors(ctx, collectionID, records); err != nil {
		return fmt.Errorf("failed to store term vectors: %w", err)
	}
	return tx.Commit()
}
