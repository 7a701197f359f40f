package ontology

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/phenorank/pkg/types"
)

// PhenotypicAbnormality is the HPO root whose children are the organ systems
const PhenotypicAbnormality types.TermID = "HP:0000118"

// DefaultClassifierCacheSize bounds memoised classifications
const DefaultClassifierCacheSize = 20000

// ErrNoClusters is returned when the cluster set would be empty
var ErrNoClusters = errors.New("no clusters configured")

// ClassifierOptions configures cluster selection
type ClassifierOptions struct {
	// Root whose direct children become the clusters. Defaults to HP:0000118.
	Root types.TermID
	// Clusters overrides Root with an explicit cluster list
	Clusters []types.TermID
	// CacheSize bounds memoised lookups. Defaults to DefaultClassifierCacheSize.
	CacheSize int
}

type classification struct {
	cluster types.TermID
	ok      bool
}

// Classifier assigns terms to at most one cluster. Safe for concurrent use.
type Classifier struct {
	ont       *Ontology
	clusters  []types.TermID
	isCluster map[types.TermID]struct{}
	cache     *lru.Cache[types.TermID, classification]
}

// NewClassifier creates a classifier over ont
func NewClassifier(ont *Ontology, opts ClassifierOptions) (*Classifier, error) {
	if ont == nil {
		return nil, errors.New("ontology cannot be nil")
	}

	var clusters []types.TermID
	if len(opts.Clusters) > 0 {
		for _, c := range types.ParseTerms(termStrings(opts.Clusters)) {
			clusters = append(clusters, ont.Resolve(c))
		}
	} else {
		root := opts.Root
		if root == "" {
			root = PhenotypicAbnormality
		}
		clusters = ont.Children(ont.Resolve(root))
		if len(clusters) == 0 {
			return nil, fmt.Errorf("%w: %s has no children", ErrNoClusters, root)
		}
	}
	if len(clusters) == 0 {
		return nil, ErrNoClusters
	}

	set := make(map[types.TermID]struct{}, len(clusters))
	unique := make([]types.TermID, 0, len(clusters))
	for _, c := range clusters {
		if _, dup := set[c]; dup {
			continue
		}
		set[c] = struct{}{}
		unique = append(unique, c)
	}
	types.SortTerms(unique)

	size := opts.CacheSize
	if size <= 0 {
		size = DefaultClassifierCacheSize
	}
	cache, err := lru.New[types.TermID, classification](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier cache: %w", err)
	}

	return &Classifier{
		ont:       ont,
		clusters:  unique,
		isCluster: set,
		cache:     cache,
	}, nil
}

// Clusters returns the sorted cluster IDs. The order defines the layout of
// clustered signatures.
func (c *Classifier) Clusters() []types.TermID {
	out := make([]types.TermID, len(c.clusters))
	copy(out, c.clusters)
	return out
}

// OrganSystem returns the cluster of term, or false when the term is unknown
// or lies outside every cluster
func (c *Classifier) OrganSystem(term types.TermID) (types.TermID, bool) {
	if hit, ok := c.cache.Get(term); ok {
		return hit.cluster, hit.ok
	}
	cluster, ok := c.classify(term)
	c.cache.Add(term, classification{cluster: cluster, ok: ok})
	return cluster, ok
}

// classify walks is_a breadth-first, one level at a time
func (c *Classifier) classify(term types.TermID) (types.TermID, bool) {
	start := c.ont.Resolve(term)
	if _, known := c.ont.terms[start]; !known {
		if _, cluster := c.isCluster[start]; !cluster {
			return "", false
		}
	}

	visited := map[types.TermID]struct{}{start: {}}
	level := []types.TermID{start}
	for len(level) > 0 {
		var best types.TermID
		for _, id := range level {
			if _, ok := c.isCluster[id]; ok && (best == "" || id < best) {
				best = id
			}
		}
		if best != "" {
			return best, true
		}

		var next []types.TermID
		for _, id := range level {
			for _, parent := range c.ont.Parents(id) {
				parent = c.ont.Resolve(parent)
				if _, seen := visited[parent]; seen {
					continue
				}
				visited[parent] = struct{}{}
				next = append(next, parent)
			}
		}
		level = next
	}
	return "", false
}

func termStrings(ids []types.TermID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
