package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/phenorank/internal/storage"
)

// Collection roles reported by Status
const (
	RoleTerm    = "term"
	RoleAverage = "average"
	RoleOrgan   = "organ"
)

// CollectionStatus describes one configured collection
type CollectionStatus struct {
	Role   string
	Name   string
	Exists bool
	Status *storage.CollectionStatus // Nil when the collection does not exist
}

// Status summarises the store and what the pipeline has loaded
type Status struct {
	Collections []CollectionStatus // Term, average, organ
	TermsLoaded int
	Diseases    int
	Building    bool
}

// Status reports the state of every configured collection
func (p *Pipeline) Status(ctx context.Context) (*Status, error) {
	roles := []struct{ role, name string }{
		{RoleTerm, p.cfg.Collections.Term},
		{RoleAverage, p.cfg.Collections.Average},
		{RoleOrgan, p.cfg.Collections.Organ},
	}

	status := &Status{Building: p.builder.Building()}
	for _, r := range roles {
		cs := CollectionStatus{Role: r.role, Name: r.name}
		coll, err := p.store.GetCollection(ctx, r.name)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("failed to get collection %q: %w", r.name, err)
		default:
			st, err := p.store.GetStatus(ctx, coll.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to get status of %q: %w", r.name, err)
			}
			cs.Exists = true
			cs.Status = st
		}
		status.Collections = append(status.Collections, cs)
	}

	p.mu.Lock()
	if p.terms != nil && p.terms.Err() == nil {
		status.TermsLoaded = p.terms.Len()
	}
	if p.index != nil {
		status.Diseases = p.index.Len()
	}
	p.mu.Unlock()

	return status, nil
}

// Ready reports whether the collection is built
func (s CollectionStatus) Ready() bool {
	return s.Exists && s.Status != nil && s.Status.VectorCount > 0
}
