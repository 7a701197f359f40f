package builder

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/phenorank/internal/signature"
	"github.com/dshills/phenorank/internal/storage"
	"github.com/dshills/phenorank/pkg/types"
)

// DefaultBatchSize is the number of disease vectors upserted per transaction
const DefaultBatchSize = 25

var (
	// ErrBuildInProgress is returned when another build holds the lock
	ErrBuildInProgress = errors.New("a signature build is already in progress")
	// ErrNoDiseases is returned when the disease source is empty
	ErrNoDiseases = errors.New("no diseases to build")
)

// DiseaseSource lists diseases and their phenotype terms
type DiseaseSource interface {
	Diseases() []types.DiseaseID
	Terms(disease types.DiseaseID) []types.TermID
}

// Builder writes disease signatures into a vector collection
type Builder struct {
	storage storage.Storage
	logger  *zap.Logger
	lock    BuildLock
}

// Config contains configuration for a build
type Config struct {
	Collection      string
	Metric          storage.Metric // Defaults to cosine
	MaxQueryResults int            // Result-count ceiling stored on the collection, 0 = unlimited
	BatchSize       int            // Vectors per transaction (default: 25)
	Workers         int            // Concurrent signature workers (default: runtime.NumCPU())
	Force           bool           // Clear and rebuild a populated collection
}

// Statistics contains statistics about a build
type Statistics struct {
	RunID        string
	Collection   string
	Kind         signature.Kind
	Diseases     int               // Signatures written
	Skipped      int               // Diseases without a computable signature
	SkippedIDs   []types.DiseaseID // Sorted
	Batches      int
	ComputeTime  time.Duration // Summed over workers
	UpsertTime   time.Duration
	Duration     time.Duration
	Existing     bool // Collection was already populated and left alone
	Reconfigured bool // Settings of an existing collection were updated
}

// New creates a new Builder instance
func New(store storage.Storage, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		storage: store,
		logger:  logger,
	}
}

// Building reports whether a build is running
func (b *Builder) Building() bool {
	return b.lock.Held()
}

// Build computes a signature for every disease of src with agg and upserts
// them into cfg.Collection. A populated collection is left untouched unless
// cfg.Force is set.
func (b *Builder) Build(ctx context.Context, agg signature.Aggregator, src DiseaseSource, cfg *Config) (*Statistics, error) {
	if !b.lock.TryAcquire() {
		return nil, ErrBuildInProgress
	}
	defer b.lock.Release()

	if cfg == nil || cfg.Collection == "" {
		return nil, errors.New("collection name is required")
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	startTime := time.Now()
	stats := &Statistics{
		Collection: cfg.Collection,
		Kind:       agg.Kind(),
	}
	logger := b.logger.With(
		zap.String("collection", cfg.Collection),
		zap.String("kind", string(agg.Kind())))

	coll, reconfigured, err := b.getOrCreateCollection(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create collection: %w", err)
	}
	stats.Reconfigured = reconfigured

	count, err := b.storage.CountVectors(ctx, coll.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count vectors: %w", err)
	}
	if count > 0 && !cfg.Force {
		logger.Info("collection already populated, skipping build", zap.Int("vectors", count))
		stats.Existing = true
		stats.Diseases = count
		stats.Duration = time.Since(startTime)
		return stats, nil
	}

	diseases := src.Diseases()
	if len(diseases) == 0 {
		return nil, ErrNoDiseases
	}

	if count > 0 {
		cleared, err := b.storage.ClearVectors(ctx, coll.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to clear collection: %w", err)
		}
		logger.Info("cleared collection for rebuild", zap.Int("vectors", cleared))
	}

	stats.RunID = uuid.NewString()
	logger = logger.With(zap.String("run_id", stats.RunID))
	logger.Info("building signatures",
		zap.Int("diseases", len(diseases)),
		zap.Int("workers", workers),
		zap.Int("batch_size", batchSize))

	if err := b.buildSignatures(ctx, coll, agg, src, diseases, workers, batchSize, stats); err != nil {
		return nil, err
	}

	stats.Duration = time.Since(startTime)
	run := &storage.BuildRun{
		ID:           stats.RunID,
		CollectionID: coll.ID,
		Kind:         string(stats.Kind),
		Diseases:     stats.Diseases,
		Skipped:      stats.Skipped,
		StartedAt:    startTime,
		FinishedAt:   startTime.Add(stats.Duration),
	}
	if err := b.storage.RecordBuildRun(ctx, run); err != nil {
		return nil, err
	}

	if stats.Skipped > 0 {
		logger.Warn("diseases skipped without a computable signature",
			zap.Int("skipped", stats.Skipped),
			zap.Strings("first", firstN(stats.SkippedIDs, 10)))
	}
	logger.Info("build complete",
		zap.Int("diseases", stats.Diseases),
		zap.Int("batches", stats.Batches),
		zap.Duration("compute_time", stats.ComputeTime),
		zap.Duration("upsert_time", stats.UpsertTime),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// getOrCreateCollection retrieves an existing collection or creates a new one.
// reconfigured reports that an existing collection's ceiling was updated.
func (b *Builder) getOrCreateCollection(ctx context.Context, cfg *Config) (coll *storage.Collection, reconfigured bool, err error) {
	coll, err = b.storage.GetCollection(ctx, cfg.Collection)
	if err == nil {
		if coll.MaxQueryResults != cfg.MaxQueryResults {
			b.logger.Info("updating collection result ceiling",
				zap.String("collection", cfg.Collection),
				zap.Int("old", coll.MaxQueryResults),
				zap.Int("new", cfg.MaxQueryResults))
			coll.MaxQueryResults = cfg.MaxQueryResults
			if err := b.storage.UpdateCollection(ctx, coll); err != nil {
				return nil, false, err
			}
			reconfigured = true
		}
		return coll, reconfigured, nil
	}

	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	coll = &storage.Collection{
		Name:            cfg.Collection,
		Metric:          cfg.Metric,
		MaxQueryResults: cfg.MaxQueryResults,
	}
	if err := b.storage.CreateCollection(ctx, coll); err != nil {
		return nil, false, err
	}
	return coll, false, nil
}

// computed is one worker result
type computed struct {
	disease types.DiseaseID
	vector  []float32
	err     error
}

// buildSignatures fans diseases out to workers and funnels the signatures
// into a single writer that commits one transaction per batch
func (b *Builder) buildSignatures(ctx context.Context, coll *storage.Collection, agg signature.Aggregator,
	src DiseaseSource, diseases []types.DiseaseID, workers, batchSize int, stats *Statistics) error {

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan types.DiseaseID)
	results := make(chan computed, batchSize)

	// Track compute time with an atomic counter
	var computeNanos atomic.Int64

	g.Go(func() error {
		defer close(jobs)
		for _, d := range diseases {
			select {
			case jobs <- d:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for d := range jobs {
				start := time.Now()
				sig, err := agg.Aggregate(src.Terms(d))
				computeNanos.Add(int64(time.Since(start)))

				r := computed{disease: d, err: err}
				if err == nil {
					r.vector = sig.Vector
				}
				select {
				case results <- r:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	g.Go(func() error {
		batch := make([]*storage.VectorRecord, 0, batchSize)
		flush := func() error {
			start := time.Now()
			if err := b.upsertBatch(gctx, coll.ID, batch); err != nil {
				return err
			}
			stats.UpsertTime += time.Since(start)
			stats.Diseases += len(batch)
			stats.Batches++
			batch = make([]*storage.VectorRecord, 0, batchSize)
			return nil
		}

		for r := range results {
			if r.err != nil {
				stats.Skipped++
				stats.SkippedIDs = append(stats.SkippedIDs, r.disease)
				b.logger.Debug("skipping disease",
					zap.String("disease", string(r.disease)),
					zap.Error(r.err))
				continue
			}
			batch = append(batch, &storage.VectorRecord{
				ExternalID: string(r.disease),
				Vector:     r.vector,
				Metadata:   map[string]string{"type": "disease"},
			})
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		if len(batch) > 0 {
			return flush()
		}
		return nil
	})

	err := g.Wait()
	stats.ComputeTime = time.Duration(computeNanos.Load())
	sort.Slice(stats.SkippedIDs, func(i, j int) bool { return stats.SkippedIDs[i] < stats.SkippedIDs[j] })
	if err != nil {
		return fmt.Errorf("failed to build signatures: %w", err)
	}
	return nil
}

// upsertBatch writes one batch within a transaction
func (b *Builder) upsertBatch(ctx context.Context, collectionID int64, batch []*storage.VectorRecord) error {
	tx, err := b.storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.UpsertVectors(ctx, collectionID, batch); err != nil {
		return fmt.Errorf("failed to upsert batch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func firstN(ids []types.DiseaseID, n int) []string {
	if len(ids) < n {
		n = len(ids)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = string(ids[i])
	}
	return out
}
