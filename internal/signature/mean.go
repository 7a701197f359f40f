package signature

import (
	"github.com/dshills/phenorank/pkg/types"
)

// Mean averages the embeddings of all terms present in the source
type Mean struct {
	source EmbeddingSource
}

// NewMean creates a flat mean aggregator
func NewMean(source EmbeddingSource) *Mean {
	return &Mean{source: source}
}

// Kind implements Aggregator
func (m *Mean) Kind() Kind {
	return KindAverage
}

// Aggregate implements Aggregator. Terms without an embedding are skipped.
func (m *Mean) Aggregate(terms []types.TermID) (*Signature, error) {
	sig := &Signature{}
	var acc *accumulator

	for _, term := range terms {
		vec, ok := m.source.Get(term)
		if !ok {
			sig.Missing = append(sig.Missing, term)
			continue
		}
		if acc == nil {
			acc = newAccumulator(len(vec))
		}
		if err := acc.add(vec); err != nil {
			return nil, err
		}
	}

	if acc == nil || acc.count == 0 {
		return nil, ErrNoEmbeddings
	}

	sig.Used = acc.count
	sig.Vector = make([]float32, len(acc.sum))
	acc.meanInto(sig.Vector)
	return sig, nil
}
