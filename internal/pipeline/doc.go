// Package pipeline wires the term cache, annotation index, ontology
// classifier, signature builder and ranker into one runner used by the CLI
// and the MCP server.
//
//	p, err := pipeline.New(pipeline.Options{Config: cfg, Store: store, Embedder: emb, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	if _, err := p.Setup(ctx, pipeline.SetupOptions{IngestTerms: true}); err != nil {
//	    return err
//	}
//	resp, err := p.Rank(ctx, terms, signature.KindOrgan, 0)
//
// Inputs are loaded lazily and at most once. A failed load is retried on the
// next call. Ingesting terms drops the loaded term embeddings, and a build
// that writes vectors invalidates the ranker's probe and result caches.
package pipeline
