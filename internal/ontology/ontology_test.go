package ontology

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/phenorank/pkg/types"
)

// sampleOBO is a small slice of the HPO graph:
//
//	HP:0000001 All
//	└── HP:0000118 Phenotypic abnormality
//	    ├── HP:0000707 Abnormality of the nervous system
//	    │   └── HP:0001250 Seizure
//	    │       └── HP:0002069 Bilateral tonic-clonic seizure
//	    ├── HP:0000478 Abnormality of the eye
//	    │   └── HP:0000504 Abnormality of vision
//	    └── HP:0001626 Abnormality of the cardiovascular system
//	HP:0012823 Clinical modifier (outside HP:0000118)
//	HP:0030000 Neuro-ocular (child of both HP:0000504 and HP:0100022)
//	HP:0100022 Abnormality of movement (child of HP:0000707)
const sampleOBO = `format-version: 1.2
ontology: hp

[Term]
id: HP:0000001
name: All

[Term]
id: HP:0000118
name: Phenotypic abnormality
is_a: HP:0000001 ! All

[Term]
id: HP:0000707
name: Abnormality of the nervous system
def: "An abnormality of the \"nervous\" system." [HPO:probinson]
is_a: HP:0000118 ! Phenotypic abnormality

[Term]
id: HP:0000478
name: Abnormality of the eye
is_a: HP:0000118 ! Phenotypic abnormality

[Term]
id: HP:0001626
name: Abnormality of the cardiovascular system
is_a: HP:0000118 ! Phenotypic abnormality

[Term]
id: HP:0001250
name: Seizure
alt_id: HP:0002279
def: "A seizure is an intermittent abnormality of nervous system physiology." [PMID:123]
xref: UMLS:C0036572
is_a: HP:0000707 ! Abnormality of the nervous system

[Term]
id: HP:0002069
name: Bilateral tonic-clonic seizure
is_a: HP:0001250 {source="x"} ! Seizure

[Term]
id: HP:0000504
name: Abnormality of vision
is_a: HP:0000478 ! Abnormality of the eye

[Term]
id: HP:0100022
name: Abnormality of movement
is_a: HP:0000707

[Term]
id: HP:0030000
name: Neuro-ocular
is_a: HP:0000504
is_a: HP:0100022

[Term]
id: HP:0012823
name: Clinical modifier
is_a: HP:0000001

[Term]
id: HP:0000003
name: obsolete Seizures
is_obsolete: true
replaced_by: HP:0001250

[Typedef]
id: part_of
name: part of
`

func loadSample(t *testing.T) *Ontology {
	t.Helper()
	ont, err := Parse(strings.NewReader(sampleOBO))
	require.NoError(t, err)
	return ont
}

func TestParse(t *testing.T) {
	ont := loadSample(t)
	assert.Equal(t, 12, ont.Len())

	seizure, ok := ont.Term("HP:0001250")
	require.True(t, ok)
	assert.Equal(t, "Seizure", seizure.Name)
	assert.Equal(t, "A seizure is an intermittent abnormality of nervous system physiology.", seizure.Definition)
	assert.Equal(t, []types.TermID{"HP:0000707"}, seizure.IsA)
	assert.Equal(t, []types.TermID{"HP:0002279"}, seizure.AltIDs)

	nervous, ok := ont.Term("HP:0000707")
	require.True(t, ok)
	assert.Equal(t, `An abnormality of the "nervous" system.`, nervous.Definition)

	gtcs, ok := ont.Term("HP:0002069")
	require.True(t, ok)
	assert.Equal(t, []types.TermID{"HP:0001250"}, gtcs.IsA)

	obsolete, ok := ont.Term("HP:0000003")
	require.True(t, ok)
	assert.Equal(t, "HP:0001250", string(obsolete.ID))

	// Typedef stanzas are not terms
	_, ok = ont.Term("part_of")
	assert.False(t, ok)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(strings.NewReader("format-version: 1.2\n"))
	assert.ErrorIs(t, err, ErrNoTerms)

	_, err = Parse(strings.NewReader("[Term]\nid: HP:1\nnot a tag\n"))
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	ont := loadSample(t)
	assert.Equal(t, types.TermID("HP:0001250"), ont.Resolve("HP:0002279"))
	assert.Equal(t, types.TermID("HP:0001250"), ont.Resolve("HP:0000003"))
	assert.Equal(t, types.TermID("HP:9999999"), ont.Resolve("HP:9999999"))
}

func TestChildren(t *testing.T) {
	ont := loadSample(t)
	assert.Equal(t,
		[]types.TermID{"HP:0000478", "HP:0000707", "HP:0001626"},
		ont.Children(PhenotypicAbnormality))
	assert.Empty(t, ont.Children("HP:0002069"))
}

func TestTermText(t *testing.T) {
	assert.Equal(t, "Seizure. Fits.", (&Term{Name: "Seizure", Definition: "Fits."}).Text())
	assert.Equal(t, "Seizure", (&Term{Name: "Seizure"}).Text())
	assert.Equal(t, "Fits.", (&Term{Definition: "Fits."}).Text())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hp.obo")
	require.NoError(t, os.WriteFile(path, []byte(sampleOBO), 0o600))

	ont, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12, ont.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.obo"))
	assert.Error(t, err)
}

func TestClassifier_DefaultClusters(t *testing.T) {
	cls, err := NewClassifier(loadSample(t), ClassifierOptions{})
	require.NoError(t, err)

	assert.Equal(t,
		[]types.TermID{"HP:0000478", "HP:0000707", "HP:0001626"},
		cls.Clusters())

	tests := []struct {
		term    types.TermID
		cluster types.TermID
		ok      bool
	}{
		{"HP:0001250", "HP:0000707", true},
		{"HP:0002069", "HP:0000707", true},
		{"HP:0000504", "HP:0000478", true},
		{"HP:0000707", "HP:0000707", true}, // a cluster maps to itself
		{"HP:0002279", "HP:0000707", true}, // alt_id
		{"HP:0000003", "HP:0000707", true}, // replaced_by
		{"HP:0012823", "", false},           // outside every cluster
		{"HP:0000118", "", false},           // above the clusters
		{"HP:9999999", "", false},           // unknown
	}

	for _, tt := range tests {
		t.Run(string(tt.term), func(t *testing.T) {
			cluster, ok := cls.OrganSystem(tt.term)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.cluster, cluster)
		})
	}
}

func TestClassifier_NearestLevelThenSmallest(t *testing.T) {
	cls, err := NewClassifier(loadSample(t), ClassifierOptions{})
	require.NoError(t, err)

	// HP:0030000 reaches HP:0000478 and HP:0000707 both at depth 2
	cluster, ok := cls.OrganSystem("HP:0030000")
	require.True(t, ok)
	assert.Equal(t, types.TermID("HP:0000478"), cluster)

	// With HP:0100022 as a cluster it is nearer (depth 1) and wins
	cls, err = NewClassifier(loadSample(t), ClassifierOptions{
		Clusters: []types.TermID{"HP:0000478", "HP:0100022"},
	})
	require.NoError(t, err)
	cluster, ok = cls.OrganSystem("HP:0030000")
	require.True(t, ok)
	assert.Equal(t, types.TermID("HP:0100022"), cluster)
}

func TestClassifier_Options(t *testing.T) {
	ont := loadSample(t)

	cls, err := NewClassifier(ont, ClassifierOptions{Root: "HP:0000707"})
	require.NoError(t, err)
	assert.Equal(t, []types.TermID{"HP:0001250", "HP:0100022"}, cls.Clusters())

	_, err = NewClassifier(ont, ClassifierOptions{Root: "HP:0002069"})
	assert.ErrorIs(t, err, ErrNoClusters)

	_, err = NewClassifier(nil, ClassifierOptions{})
	assert.Error(t, err)

	cls, err = NewClassifier(ont, ClassifierOptions{Clusters: []types.TermID{"HP:0001626", "HP:0001626", "HP:0000478"}})
	require.NoError(t, err)
	assert.Equal(t, []types.TermID{"HP:0000478", "HP:0001626"}, cls.Clusters())
}

func TestClassifier_ConcurrentAndCached(t *testing.T) {
	cls, err := NewClassifier(loadSample(t), ClassifierOptions{CacheSize: 2})
	require.NoError(t, err)

	terms := []types.TermID{"HP:0001250", "HP:0000504", "HP:0012823", "HP:0030000"}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, term := range terms {
				_, _ = cls.OrganSystem(term)
			}
		}()
	}
	wg.Wait()

	cluster, ok := cls.OrganSystem("HP:0001250")
	assert.True(t, ok)
	assert.Equal(t, types.TermID("HP:0000707"), cluster)
	assert.LessOrEqual(t, cls.cache.Len(), 2)
}
