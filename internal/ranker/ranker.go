package ranker

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/phenorank/internal/signature"
	"github.com/dshills/phenorank/internal/storage"
	"github.com/dshills/phenorank/pkg/types"
)

const (
	// DefaultProbeLowerBound is the result count assumed to be below the
	// store's ceiling when probing starts
	DefaultProbeLowerBound = 11700
	// DefaultCacheSize bounds both the probe memo and the result cache
	DefaultCacheSize = 1000
	// DefaultCacheTTL is how long a cached ranking stays valid
	DefaultCacheTTL = time.Hour
)

// ErrCollectionNotBuilt is returned when the target collection does not exist
var ErrCollectionNotBuilt = errors.New("collection not built")

// VectorIndex is the subset of storage the ranker reads from
type VectorIndex interface {
	GetCollection(ctx context.Context, name string) (*storage.Collection, error)
	CountVectors(ctx context.Context, collectionID int64) (int, error)
	QueryNearest(ctx context.Context, collectionID int64, vector []float32, limit int) ([]storage.Neighbor, error)
}

// Options configures a Ranker
type Options struct {
	ProbeLowerBound int
	CacheSize       int
	Logger          *zap.Logger
}

// Request contains parameters for a ranking
type Request struct {
	Collection string
	Terms      []types.TermID
	Limit      int  // 0 probes the largest result count the store accepts
	UseCache   bool // Whether to use the result cache
	CacheTTL   time.Duration
}

// Response contains a ranking and metadata about how it was produced
type Response struct {
	Results      []types.RankedDisease
	Collection   string
	Kind         signature.Kind
	Limit        int  // Result count the query ran with
	Probed       bool // Limit was discovered by probing
	ProbeQueries int  // Queries issued while probing (0 on a memo hit)
	UsedTerms    int
	Missing      []types.TermID
	Unclustered  []types.TermID
	Duration     time.Duration
	CacheHit     bool
}

type probeKey struct {
	collectionID int64
	count        int
	ceiling      int
}

type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Ranker turns term lists into disease rankings against a signature collection
type Ranker struct {
	index      VectorIndex
	probeLower int
	logger     *zap.Logger

	probes  *lru.Cache[probeKey, int]
	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// NewRanker creates a Ranker over the given index
func NewRanker(index VectorIndex, opts Options) *Ranker {
	if opts.ProbeLowerBound <= 0 {
		opts.ProbeLowerBound = DefaultProbeLowerBound
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	probes, err := lru.New[probeKey, int](opts.CacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create probe cache: %v", err))
	}
	cache, err := lru.New[[32]byte, *cacheEntry](opts.CacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create result cache: %v", err))
	}

	return &Ranker{
		index:      index,
		probeLower: opts.ProbeLowerBound,
		logger:     opts.Logger,
		probes:     probes,
		cache:      cache,
	}
}

// Rank aggregates the request terms with agg and ranks the collection's
// diseases by ascending distance to the resulting signature
func (r *Ranker) Rank(ctx context.Context, agg signature.Aggregator, req Request) (*Response, error) {
	start := time.Now()

	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid rank request: %w", err)
	}

	coll, err := r.index.GetCollection(ctx, req.Collection)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotBuilt, req.Collection)
		}
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	if req.UseCache {
		if cached, ok := r.checkCache(agg.Kind(), coll, req); ok {
			cached.CacheHit = true
			cached.Duration = time.Since(start)
			return cached, nil
		}
	}

	sig, err := agg.Aggregate(req.Terms)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate query terms: %w", err)
	}

	resp := &Response{
		Collection:  coll.Name,
		Kind:        agg.Kind(),
		UsedTerms:   sig.Used,
		Missing:     sig.Missing,
		Unclustered: sig.Unclustered,
	}

	count, err := r.index.CountVectors(ctx, coll.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count vectors: %w", err)
	}
	if count == 0 {
		resp.Results = []types.RankedDisease{}
		resp.Duration = time.Since(start)
		return resp, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit, resp.ProbeQueries, err = r.probeLimit(ctx, coll, sig.Vector, count)
		if err != nil {
			return nil, err
		}
		// An unlimited store accepts count+1; no query returns more than count
		limit = min(limit, count)
		resp.Probed = true
	}
	resp.Limit = limit

	neighbors, err := r.index.QueryNearest(ctx, coll.ID, sig.Vector, limit)
	if err != nil {
		return nil, fmt.Errorf("nearest-neighbour query failed: %w", err)
	}
	resp.Results = rankNeighbors(neighbors)
	resp.Duration = time.Since(start)

	r.logger.Debug("ranked diseases",
		zap.String("collection", coll.Name),
		zap.String("kind", string(resp.Kind)),
		zap.Int("terms", len(req.Terms)),
		zap.Int("missing", len(resp.Missing)),
		zap.Int("limit", limit),
		zap.Bool("probed", resp.Probed),
		zap.Int("probe_queries", resp.ProbeQueries),
		zap.Int("results", len(resp.Results)),
		zap.Duration("duration", resp.Duration))

	if req.UseCache {
		r.storeInCache(agg.Kind(), coll, req, resp)
	}

	return resp, nil
}

// ProbeLimit returns the largest result count the collection accepts, capped
// at its vector count and memoised per vector count and ceiling
func (r *Ranker) ProbeLimit(ctx context.Context, agg signature.Aggregator, collection string, terms []types.TermID) (int, error) {
	sig, err := agg.Aggregate(terms)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate query terms: %w", err)
	}
	coll, err := r.index.GetCollection(ctx, collection)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrCollectionNotBuilt, collection)
		}
		return 0, fmt.Errorf("failed to get collection: %w", err)
	}
	count, err := r.index.CountVectors(ctx, coll.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	limit, _, err := r.probeLimit(ctx, coll, sig.Vector, count)
	if err != nil {
		return 0, err
	}
	return min(limit, count), nil
}

// InvalidateCache clears probed limits and cached rankings, typically after
// a collection is rebuilt or its ceiling changes
func (r *Ranker) InvalidateCache() {
	r.probes.Purge()
	r.cacheMu.Lock()
	r.cache.Purge()
	r.cacheMu.Unlock()
}

func validateRequest(req *Request) error {
	if req.Collection == "" {
		return fmt.Errorf("collection cannot be empty")
	}
	if err := types.ValidateTerms(req.Terms); err != nil {
		return err
	}
	if req.Limit < 0 {
		return fmt.Errorf("limit must be >= 0, got %d", req.Limit)
	}
	if req.CacheTTL == 0 {
		req.CacheTTL = DefaultCacheTTL
	}
	return nil
}

// rankNeighbors orders hits by distance, then disease ID, and numbers them from 1
func rankNeighbors(neighbors []storage.Neighbor) []types.RankedDisease {
	results := make([]types.RankedDisease, len(neighbors))
	for i, n := range neighbors {
		results[i] = types.RankedDisease{
			DiseaseID: types.DiseaseID(n.ExternalID),
			Distance:  n.Distance,
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].DiseaseID < results[j].DiseaseID
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results
}

func (r *Ranker) checkCache(kind signature.Kind, coll *storage.Collection, req Request) (*Response, bool) {
	hash := computeRequestHash(kind, coll, req)
	now := time.Now()

	r.cacheMu.RLock()
	entry, found := r.cache.Get(hash)
	if !found {
		r.cacheMu.RUnlock()
		return nil, false
	}
	if now.After(entry.expiresAt) {
		r.cacheMu.RUnlock()

		r.cacheMu.Lock()
		r.cache.Remove(hash)
		r.cacheMu.Unlock()
		return nil, false
	}
	resp := copyResponse(entry.response)
	r.cacheMu.RUnlock()

	return resp, true
}

func (r *Ranker) storeInCache(kind signature.Kind, coll *storage.Collection, req Request, resp *Response) {
	entry := &cacheEntry{
		response:  copyResponse(resp),
		expiresAt: time.Now().Add(req.CacheTTL),
	}

	r.cacheMu.Lock()
	r.cache.Add(computeRequestHash(kind, coll, req), entry)
	r.cacheMu.Unlock()
}

func copyResponse(src *Response) *Response {
	dst := *src
	dst.Results = append([]types.RankedDisease(nil), src.Results...)
	dst.Missing = append([]types.TermID(nil), src.Missing...)
	dst.Unclustered = append([]types.TermID(nil), src.Unclustered...)
	return &dst
}

// computeRequestHash keys a request independently of term order. The
// collection's ceiling is part of the key so a changed ceiling misses.
func computeRequestHash(kind signature.Kind, coll *storage.Collection, req Request) [32]byte {
	terms := make([]string, len(req.Terms))
	for i, t := range req.Terms {
		terms[i] = string(t)
	}
	sort.Strings(terms)

	var data strings.Builder
	data.WriteString(req.Collection)
	data.WriteString("|")
	data.WriteString(strconv.FormatInt(coll.ID, 10))
	data.WriteString("|")
	data.WriteString(strconv.Itoa(coll.MaxQueryResults))
	data.WriteString("|")
	data.WriteString(string(kind))
	data.WriteString("|")
	data.WriteString(strconv.Itoa(req.Limit))
	data.WriteString("|")
	data.WriteString(strings.Join(terms, ","))

	return sha256.Sum256([]byte(data.String()))
}
