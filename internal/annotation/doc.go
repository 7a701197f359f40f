// Package annotation builds the disease-to-phenotype index.
//
// The index is read from the tab-separated phenotype.hpoa annotation table:
//
//	#description: "HPO annotations for rare diseases"
//	database_id	disease_name	qualifier	hpo_id	reference	...
//	OMIM:619340	Developmental ...		HP:0011097	PMID:31675180	...
//
// Comment lines and the header are skipped, rows with fewer than four
// columns are ignored, and duplicate (disease, term) pairs collapse.
//
// The same index can be assembled from vector-store records whose metadata
// carries "disease" and "phenotype" keys, either directly or inside the
// "_json" document written by ontology curation tools.
package annotation
