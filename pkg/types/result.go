package types

// RankedDisease is a single entry of a disease ranking
type RankedDisease struct {
	DiseaseID DiseaseID
	Distance  float64 // Distance to the query signature (lower is closer)
	Rank      int     // Position in result set (1-based)
}

// Validate checks if the ranked disease is valid
func (r *RankedDisease) Validate() error {
	if r.DiseaseID == "" {
		return ErrEmptyDiseaseID
	}

	if r.Rank < 1 {
		return ErrInvalidRank
	}

	if r.Distance < 0 {
		return ErrNegativeDistance
	}

	return nil
}
