package signature

import (
	"errors"
	"fmt"

	"github.com/dshills/phenorank/pkg/types"
)

var (
	// ErrNoEmbeddings is returned when none of the terms has an embedding
	ErrNoEmbeddings = errors.New("no embeddings found for the given terms")
	// ErrDimensionMismatch is returned when term embeddings disagree in length
	ErrDimensionMismatch = errors.New("term embedding dimension mismatch")
)

// EmptyClusterValue fills the block of a cluster that has no terms
const EmptyClusterValue float32 = -1

// Kind names an aggregation strategy; it doubles as the build-run kind
type Kind string

const (
	KindAverage Kind = "average"
	KindOrgan   Kind = "organ"
)

// ParseKind converts a mode name to a Kind
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindAverage, "":
		return KindAverage, nil
	case KindOrgan:
		return KindOrgan, nil
	default:
		return "", fmt.Errorf("unknown signature kind %q (want %q or %q)", s, KindAverage, KindOrgan)
	}
}

// EmbeddingSource resolves term embeddings
type EmbeddingSource interface {
	Get(term types.TermID) ([]float32, bool)
	Dimension() int
}

// ClusterAssigner maps terms to organ-system clusters
type ClusterAssigner interface {
	Clusters() []types.TermID
	OrganSystem(term types.TermID) (types.TermID, bool)
}

// Signature is an aggregated vector plus bookkeeping about its inputs
type Signature struct {
	Vector      []float32
	Used        int            // Terms whose embedding contributed
	Missing     []types.TermID // Terms without an embedding
	Unclustered []types.TermID // Terms outside every cluster (clustered only)
}

// Aggregator computes a signature from a term list
type Aggregator interface {
	Aggregate(terms []types.TermID) (*Signature, error)
	Kind() Kind
}

// accumulator sums vectors in float64
type accumulator struct {
	sum   []float64
	count int
}

func newAccumulator(dim int) *accumulator {
	return &accumulator{sum: make([]float64, dim)}
}

func (a *accumulator) add(vec []float32) error {
	if len(vec) != len(a.sum) {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), len(a.sum))
	}
	for i, v := range vec {
		a.sum[i] += float64(v)
	}
	a.count++
	return nil
}

// addZero counts a zero vector towards the mean
func (a *accumulator) addZero() {
	a.count++
}

// meanInto writes the mean into dst, which must have the accumulator's length
func (a *accumulator) meanInto(dst []float32) {
	n := float64(a.count)
	for i, s := range a.sum {
		dst[i] = float32(s / n)
	}
}
