// Package config loads phenorank configuration from YAML.
//
// Load starts from DefaultConfig, overlays the file (a missing file keeps the
// defaults) and then applies environment overrides: PHENORANK_DB_PATH for the
// store and PHENORANK_EMBEDDING_PROVIDER for the embedding provider.
// PHENORANK_CONFIG selects the file when no path is given on the command line.
//
//	storage:
//	  db_path: data/phenorank.db
//	data:
//	  annotations: data/phenotype.hpoa
//	  ontology: data/hp.obo
//	  cluster_root: HP:0000118
//	collections:
//	  term: ont_hp
//	  average: average
//	  organ: DiseaseOrganEmbeddings
//	  metric: cosine
//	build:
//	  batch_size: 25
//	query:
//	  probe_lower_bound: 11700
//	embedding:
//	  provider: openai
//	  rate_limit: 3
package config
