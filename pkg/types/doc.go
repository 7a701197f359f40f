// Package types provides shared type definitions for phenorank.
//
// This package defines the domain identifiers and result types passed between
// the ranking pipeline, the MCP server and the CLI.
//
// # Identifiers
//
// TermID is a phenotype ontology CURIE such as "HP:0001250". DiseaseID is a
// disease CURIE such as "OMIM:619340" or "ORPHA:558":
//
//	terms := []types.TermID{"HP:0001250", "HP:0001263"}
//	if err := types.ValidateTerms(terms); err != nil {
//	    log.Fatal(err)
//	}
//
// # Ranked Results
//
// RankedDisease carries a disease, its distance to the query signature and its
// 1-based position in the ranking:
//
//	result := types.RankedDisease{
//	    DiseaseID: "OMIM:619340",
//	    Distance:  0.083,
//	    Rank:      1,
//	}
//
// Distances are non-negative and smaller values indicate closer matches.
package types
