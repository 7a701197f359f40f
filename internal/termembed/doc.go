// Package termembed holds phenotype term embeddings in memory.
//
// A Cache reads every vector of the term collection once and serves lookups
// by term ID. Ingest fills that collection from ontology term text using an
// embedding provider.
package termembed
