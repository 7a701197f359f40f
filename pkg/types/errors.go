package types

import "errors"

// Domain errors for type validation
var (
	ErrEmptyTermID      = errors.New("term ID cannot be empty")
	ErrMalformedTermID  = errors.New("term ID must be a CURIE (PREFIX:LOCAL)")
	ErrEmptyDiseaseID   = errors.New("disease ID cannot be empty")
	ErrInvalidRank      = errors.New("rank must be >= 1")
	ErrNegativeDistance = errors.New("distance must be >= 0")
	ErrNoTerms          = errors.New("at least one term is required")
)
