package types

import (
	"fmt"
	"sort"
	"strings"
)

// TermID identifies a phenotype ontology term, e.g. "HP:0001250"
type TermID string

// DiseaseID identifies a disease, e.g. "OMIM:619340"
type DiseaseID string

// Prefix returns the CURIE prefix ("HP" for "HP:0001250")
func (t TermID) Prefix() string {
	prefix, _, _ := strings.Cut(string(t), ":")
	return prefix
}

// Validate checks that the term ID is a non-empty CURIE
func (t TermID) Validate() error {
	if t == "" {
		return ErrEmptyTermID
	}
	prefix, local, ok := strings.Cut(string(t), ":")
	if !ok || prefix == "" || local == "" {
		return fmt.Errorf("%w: %q", ErrMalformedTermID, string(t))
	}
	return nil
}

// ValidateTerms validates a query term list
func ValidateTerms(terms []TermID) error {
	if len(terms) == 0 {
		return ErrNoTerms
	}
	for _, t := range terms {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ParseTerms converts raw strings to term IDs, trimming whitespace and
// dropping empty entries and duplicates while keeping first-seen order
func ParseTerms(raw []string) []TermID {
	seen := make(map[TermID]struct{}, len(raw))
	terms := make([]TermID, 0, len(raw))
	for _, r := range raw {
		t := TermID(strings.TrimSpace(r))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return terms
}

// SortTerms sorts term IDs in place
func SortTerms(terms []TermID) {
	sort.Slice(terms, func(i, j int) bool { return terms[i] < terms[j] })
}
