package termembed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dshills/phenorank/internal/storage"
	"github.com/dshills/phenorank/pkg/types"
)

// Metadata keys written by Ingest and read by the cache
const (
	MetaTermID = "term_id"
	MetaLabel  = "label"
	MetaJSON   = "_json"
)

var (
	// ErrNotLoaded is returned by lookups before Load succeeded
	ErrNotLoaded = errors.New("term embeddings not loaded")
	// ErrEmptyCollection is returned when the term collection has no vectors
	ErrEmptyCollection = errors.New("term collection is empty")
)

// Cache maps term IDs to embeddings. Load runs at most once.
type Cache struct {
	store      storage.Storage
	collection string
	logger     *zap.Logger

	once    sync.Once
	loadErr error
	done    atomic.Bool
	loaded  atomic.Bool
	vectors map[types.TermID][]float32
	dim     int
}

// NewCache creates a cache backed by the named collection
func NewCache(store storage.Storage, collection string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		store:      store,
		collection: collection,
		logger:     logger,
	}
}

// NewStaticCache creates an already loaded cache from a map
func NewStaticCache(vectors map[types.TermID][]float32) *Cache {
	c := &Cache{logger: zap.NewNop(), vectors: make(map[types.TermID][]float32, len(vectors))}
	c.once.Do(func() {})
	for id, vec := range vectors {
		c.vectors[id] = vec
		if c.dim == 0 {
			c.dim = len(vec)
		}
	}
	c.loaded.Store(true)
	c.done.Store(true)
	return c
}

// Load reads the term collection. Later calls return the first result.
func (c *Cache) Load(ctx context.Context) error {
	c.once.Do(func() {
		c.loadErr = c.load(ctx)
		c.loaded.Store(c.loadErr == nil)
		c.done.Store(true)
	})
	return c.loadErr
}

func (c *Cache) load(ctx context.Context) error {
	coll, err := c.store.GetCollection(ctx, c.collection)
	if err != nil {
		return fmt.Errorf("term collection %q: %w", c.collection, err)
	}
	records, err := c.store.ListVectors(ctx, coll.ID)
	if err != nil {
		return fmt.Errorf("failed to list term vectors: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("%q: %w", c.collection, ErrEmptyCollection)
	}

	vectors := make(map[types.TermID][]float32, len(records))
	unresolved := 0
	for _, rec := range records {
		id, ok := TermIDFromRecord(rec)
		if !ok {
			unresolved++
			continue
		}
		vectors[id] = rec.Vector
	}

	c.vectors = vectors
	c.dim = coll.Dimension
	c.logger.Info("loaded term embeddings",
		zap.String("collection", c.collection),
		zap.Int("terms", len(vectors)),
		zap.Int("unresolved", unresolved),
		zap.Int("dimension", c.dim))
	return nil
}

// TermIDFromRecord extracts the term ID of a stored vector: metadata
// term_id, else original_id inside the _json document, else the external
// ID when it is a CURIE
func TermIDFromRecord(rec *storage.VectorRecord) (types.TermID, bool) {
	if id := types.TermID(rec.Metadata[MetaTermID]); id != "" {
		return id, true
	}
	if raw, ok := rec.Metadata[MetaJSON]; ok {
		var doc struct {
			OriginalID string `json:"original_id"`
		}
		if err := json.Unmarshal([]byte(raw), &doc); err == nil && doc.OriginalID != "" {
			return types.TermID(doc.OriginalID), true
		}
	}
	if id := types.TermID(rec.ExternalID); id.Validate() == nil {
		return id, true
	}
	return "", false
}

// Err returns ErrNotLoaded before Load finished, then the load error
func (c *Cache) Err() error {
	if !c.done.Load() {
		return ErrNotLoaded
	}
	return c.loadErr
}

// Loaded reports whether Load succeeded
func (c *Cache) Loaded() bool {
	return c.loaded.Load()
}

// Get returns the embedding of term. The slice is shared and must not be modified.
func (c *Cache) Get(term types.TermID) ([]float32, bool) {
	if !c.loaded.Load() {
		return nil, false
	}
	vec, ok := c.vectors[term]
	return vec, ok
}

// Len returns the number of cached terms
func (c *Cache) Len() int {
	if !c.loaded.Load() {
		return 0
	}
	return len(c.vectors)
}

// Dimension returns the embedding dimension, 0 before loading
func (c *Cache) Dimension() int {
	if !c.loaded.Load() {
		return 0
	}
	return c.dim
}

// Terms returns the cached term IDs in sorted order
func (c *Cache) Terms() []types.TermID {
	if !c.loaded.Load() {
		return nil
	}
	terms := make([]types.TermID, 0, len(c.vectors))
	for id := range c.vectors {
		terms = append(terms, id)
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i] < terms[j] })
	return terms
}
