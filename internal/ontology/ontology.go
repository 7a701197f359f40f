package ontology

import (
	"github.com/dshills/phenorank/pkg/types"
)

// Ontology is an in-memory, read-only term graph
type Ontology struct {
	terms    map[types.TermID]*Term
	alts     map[types.TermID]types.TermID
	children map[types.TermID][]types.TermID
	order    []types.TermID
}

func newOntology(terms []*Term) *Ontology {
	o := &Ontology{
		terms:    make(map[types.TermID]*Term, len(terms)),
		alts:     make(map[types.TermID]types.TermID),
		children: make(map[types.TermID][]types.TermID),
		order:    make([]types.TermID, 0, len(terms)),
	}
	for _, t := range terms {
		if _, dup := o.terms[t.ID]; !dup {
			o.order = append(o.order, t.ID)
		}
		o.terms[t.ID] = t
	}
	for _, t := range terms {
		for _, alt := range t.AltIDs {
			if _, primary := o.terms[alt]; !primary {
				o.alts[alt] = t.ID
			}
		}
		for _, parent := range t.IsA {
			o.children[parent] = append(o.children[parent], t.ID)
		}
	}
	types.SortTerms(o.order)
	for parent := range o.children {
		types.SortTerms(o.children[parent])
	}
	return o
}

// Len returns the number of terms
func (o *Ontology) Len() int {
	return len(o.terms)
}

// Term returns the stanza for id, resolving alternate IDs
func (o *Ontology) Term(id types.TermID) (*Term, bool) {
	t, ok := o.terms[o.Resolve(id)]
	return t, ok
}

// Terms returns all primary term IDs in sorted order
func (o *Ontology) Terms() []types.TermID {
	out := make([]types.TermID, len(o.order))
	copy(out, o.order)
	return out
}

// Resolve maps an alternate ID to its primary ID and follows replaced_by
// links of obsolete terms. Unknown IDs are returned unchanged.
func (o *Ontology) Resolve(id types.TermID) types.TermID {
	if primary, ok := o.alts[id]; ok {
		id = primary
	}
	seen := map[types.TermID]struct{}{}
	for {
		t, ok := o.terms[id]
		if !ok || !t.Obsolete || t.ReplacedBy == "" {
			return id
		}
		if _, loop := seen[id]; loop {
			return id
		}
		seen[id] = struct{}{}
		id = t.ReplacedBy
	}
}

// Parents returns the is_a parents of id
func (o *Ontology) Parents(id types.TermID) []types.TermID {
	t, ok := o.terms[id]
	if !ok {
		return nil
	}
	return t.IsA
}

// Children returns the sorted direct is_a children of id
func (o *Ontology) Children(id types.TermID) []types.TermID {
	kids := o.children[id]
	out := make([]types.TermID, len(kids))
	copy(out, kids)
	return out
}
