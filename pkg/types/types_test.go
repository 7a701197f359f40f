package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTermIDValidate(t *testing.T) {
	tests := []struct {
		name    string
		term    TermID
		wantErr error
	}{
		{name: "valid HPO term", term: "HP:0001250"},
		{name: "empty", term: "", wantErr: ErrEmptyTermID},
		{name: "no colon", term: "HP0001250", wantErr: ErrMalformedTermID},
		{name: "missing local part", term: "HP:", wantErr: ErrMalformedTermID},
		{name: "missing prefix", term: ":0001250", wantErr: ErrMalformedTermID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.term.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTermIDPrefix(t *testing.T) {
	assert.Equal(t, "HP", TermID("HP:0001250").Prefix())
	assert.Equal(t, "OMIM", TermID("OMIM:619340").Prefix())
	assert.Equal(t, "nocolon", TermID("nocolon").Prefix())
}

func TestValidateTerms(t *testing.T) {
	assert.ErrorIs(t, ValidateTerms(nil), ErrNoTerms)
	assert.NoError(t, ValidateTerms([]TermID{"HP:0001250", "HP:0001263"}))
	assert.ErrorIs(t, ValidateTerms([]TermID{"HP:0001250", ""}), ErrEmptyTermID)
}

func TestParseTerms(t *testing.T) {
	got := ParseTerms([]string{" HP:0000002 ", "", "HP:0000001", "HP:0000002"})
	require.Len(t, got, 2)
	assert.Equal(t, []TermID{"HP:0000002", "HP:0000001"}, got)

	SortTerms(got)
	assert.Equal(t, []TermID{"HP:0000001", "HP:0000002"}, got)
}

func TestRankedDiseaseValidate(t *testing.T) {
	valid := RankedDisease{DiseaseID: "OMIM:619340", Distance: 0.1, Rank: 1}
	assert.NoError(t, valid.Validate())

	noID := valid
	noID.DiseaseID = ""
	assert.ErrorIs(t, noID.Validate(), ErrEmptyDiseaseID)

	badRank := valid
	badRank.Rank = 0
	assert.ErrorIs(t, badRank.Validate(), ErrInvalidRank)

	negative := valid
	negative.Distance = -0.5
	assert.ErrorIs(t, negative.Validate(), ErrNegativeDistance)
}
