package annotation

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/dshills/phenorank/internal/storage"
	"github.com/dshills/phenorank/pkg/types"
)

// ErrEmptyIndex is returned when an annotation source yields no diseases
var ErrEmptyIndex = errors.New("annotation index is empty")

// Index maps each disease to the set of phenotype terms annotated to it
type Index struct {
	diseases map[types.DiseaseID]map[types.TermID]struct{}
}

// NewIndex creates an empty index
func NewIndex() *Index {
	return &Index{diseases: make(map[types.DiseaseID]map[types.TermID]struct{})}
}

// Add records that disease is annotated with term. Empty IDs are ignored.
func (idx *Index) Add(disease types.DiseaseID, term types.TermID) {
	if disease == "" || term == "" {
		return
	}
	terms, ok := idx.diseases[disease]
	if !ok {
		terms = make(map[types.TermID]struct{})
		idx.diseases[disease] = terms
	}
	terms[term] = struct{}{}
}

// Len returns the number of diseases
func (idx *Index) Len() int {
	return len(idx.diseases)
}

// Annotations returns the number of distinct (disease, term) pairs
func (idx *Index) Annotations() int {
	n := 0
	for _, terms := range idx.diseases {
		n += len(terms)
	}
	return n
}

// Has reports whether disease is present
func (idx *Index) Has(disease types.DiseaseID) bool {
	_, ok := idx.diseases[disease]
	return ok
}

// Diseases returns all disease IDs in sorted order
func (idx *Index) Diseases() []types.DiseaseID {
	ids := make([]types.DiseaseID, 0, len(idx.diseases))
	for id := range idx.diseases {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Terms returns the sorted terms of disease, or nil if it is unknown
func (idx *Index) Terms(disease types.DiseaseID) []types.TermID {
	set, ok := idx.diseases[disease]
	if !ok {
		return nil
	}
	terms := make([]types.TermID, 0, len(set))
	for t := range set {
		terms = append(terms, t)
	}
	types.SortTerms(terms)
	return terms
}

// FromRecords builds an index from vector-store records carrying
// disease/phenotype metadata, either as plain keys or inside "_json".
func FromRecords(records []*storage.VectorRecord) *Index {
	idx := NewIndex()
	for _, rec := range records {
		disease, phenotype := recordAnnotation(rec.Metadata)
		idx.Add(types.DiseaseID(disease), types.TermID(phenotype))
	}
	return idx
}

func recordAnnotation(metadata map[string]string) (string, string) {
	disease := strings.TrimSpace(metadata["disease"])
	phenotype := strings.TrimSpace(metadata["phenotype"])
	if disease != "" && phenotype != "" {
		return disease, phenotype
	}

	raw, ok := metadata["_json"]
	if !ok {
		return "", ""
	}
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", ""
	}
	d, _ := doc["disease"].(string)
	p, _ := doc["phenotype"].(string)
	return strings.TrimSpace(d), strings.TrimSpace(p)
}
