package signature

import (
	"github.com/dshills/phenorank/pkg/types"
)

// Clustered concatenates per-cluster mean embeddings in sorted cluster order
type Clustered struct {
	source   EmbeddingSource
	assigner ClusterAssigner
	clusters []types.TermID
	position map[types.TermID]int
}

// NewClustered creates an organ-system aggregator
func NewClustered(source EmbeddingSource, assigner ClusterAssigner) *Clustered {
	clusters := assigner.Clusters()
	types.SortTerms(clusters)
	position := make(map[types.TermID]int, len(clusters))
	for i, c := range clusters {
		position[c] = i
	}
	return &Clustered{
		source:   source,
		assigner: assigner,
		clusters: clusters,
		position: position,
	}
}

// Kind implements Aggregator
func (c *Clustered) Kind() Kind {
	return KindOrgan
}

// Clusters returns the block order of the signature
func (c *Clustered) Clusters() []types.TermID {
	out := make([]types.TermID, len(c.clusters))
	copy(out, c.clusters)
	return out
}

// Dimension returns the signature length: clusters times embedding size
func (c *Clustered) Dimension() int {
	return len(c.clusters) * c.source.Dimension()
}

// Aggregate implements Aggregator.
//
// A clustered term without an embedding counts as a zero vector in its
// cluster mean. Clusters without terms are filled with EmptyClusterValue.
// At least one clustered term must have an embedding.
func (c *Clustered) Aggregate(terms []types.TermID) (*Signature, error) {
	dim := c.source.Dimension()
	if dim == 0 || len(c.clusters) == 0 {
		return nil, ErrNoEmbeddings
	}

	sig := &Signature{}
	blocks := make([]*accumulator, len(c.clusters))

	for _, term := range terms {
		cluster, ok := c.assigner.OrganSystem(term)
		pos, known := c.position[cluster]
		if !ok || !known {
			sig.Unclustered = append(sig.Unclustered, term)
			continue
		}
		if blocks[pos] == nil {
			blocks[pos] = newAccumulator(dim)
		}

		vec, ok := c.source.Get(term)
		if !ok {
			sig.Missing = append(sig.Missing, term)
			blocks[pos].addZero()
			continue
		}
		if err := blocks[pos].add(vec); err != nil {
			return nil, err
		}
		sig.Used++
	}

	if sig.Used == 0 {
		return nil, ErrNoEmbeddings
	}

	sig.Vector = make([]float32, len(c.clusters)*dim)
	for i, acc := range blocks {
		block := sig.Vector[i*dim : (i+1)*dim]
		if acc == nil {
			for j := range block {
				block[j] = EmptyClusterValue
			}
			continue
		}
		acc.meanInto(block)
	}
	return sig, nil
}
