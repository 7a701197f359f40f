// Package mcp implements the Model Context Protocol (MCP) server for phenorank.
//
// The MCP server exposes three tools:
//   - rank_diseases: Rank diseases against observed phenotype terms
//   - build_signatures: Build the average and organ-system signature collections
//   - get_status: Report collection statistics and build history
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started via the serve command and writes logs to stderr so
// stdout carries only protocol messages:
//
//	phenorank serve --config phenorank.yaml
//
// # Tool: rank_diseases
//
//	Request:
//	{
//	  "name": "rank_diseases",
//	  "arguments": {
//	    "terms": ["HP:0001250", "HP:0001263"],
//	    "mode": "organ",
//	    "limit": 10
//	  }
//	}
//
//	Response:
//	{
//	  "mode": "organ",
//	  "collection": "DiseaseOrganEmbeddings",
//	  "limit": 10,
//	  "probed": false,
//	  "results": [
//	    {"rank": 1, "disease_id": "OMIM:619340", "distance": 0.083},
//	    ...
//	  ]
//	}
//
// A limit of 0 (the default) ranks as many diseases as the vector store
// allows; the response then reports "probed": true.
//
// # Tool: build_signatures
//
//	Request:
//	{
//	  "name": "build_signatures",
//	  "arguments": {"mode": "all", "ingest_terms": true, "force": false}
//	}
//
// Populated collections are left untouched unless force is set.
//
// # Tool: get_status
//
// Reports every configured collection (term, average, organ) with vector
// counts, dimension, result ceiling and the last build run.
//
// # Error Codes
//
//	-32602  Invalid params (malformed term, unknown mode, limit above ceiling)
//	-32603  Internal error
//	-32002  A signature build is already in progress
//	-32003  Signature collection not built
//	-32004  Terms parameter is empty
package mcp
