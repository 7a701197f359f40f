// Package ontology loads the phenotype ontology and assigns terms to
// anatomical clusters.
//
// # OBO Files
//
// Parse reads the [Term] stanzas of an OBO 1.4 file (hp.obo). Only the tags
// needed for classification and embedding text are kept: id, name, def,
// is_a, alt_id, is_obsolete and replaced_by. Other stanza types such as
// [Typedef] are skipped.
//
// # Classification
//
// A Classifier maps every term to at most one cluster. Clusters default to
// the direct children of HP:0000118 (Phenotypic abnormality), which are the
// organ-system level terms:
//
//	ont, err := ontology.LoadFile("hp.obo")
//	cls, err := ontology.NewClassifier(ont, ontology.ClassifierOptions{})
//	organ, ok := cls.OrganSystem("HP:0001250") // HP:0000707, true
//
// The walk goes breadth-first up is_a. The nearest level that contains a
// cluster decides; when that level holds more than one cluster the
// lexicographically smallest wins.
package ontology
