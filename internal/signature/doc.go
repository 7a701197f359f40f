// Package signature aggregates phenotype term embeddings into disease or
// query signatures.
//
// Two aggregators are provided:
//
//   - Mean: the element-wise mean of the term embeddings.
//   - Clustered: one mean per organ-system cluster, concatenated in sorted
//     cluster order. A cluster with no terms is filled with -1 so that
//     "absent" stays distinguishable from a zero mean.
//
// Both accumulate in float64 and emit float32 vectors.
package signature
