// Package embedder generates vector embeddings for ontology term text.
//
// Three providers are available: OpenAI (text-embedding-3-small, 1536
// dimensions), Jina AI (jina-embeddings-v3, 1024 dimensions) and a local
// deterministic provider for offline use and tests.
//
// # Basic Usage
//
//	emb, err := embedder.NewFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	vectors, err := embedder.EmbedAll(ctx, emb, texts, embedder.DefaultBatchSize)
//
// EmbedBatch accepts at most MaxBatchSize texts; EmbedAll splits larger
// inputs and preserves order.
//
// # Provider Selection
//
//  1. If PHENORANK_EMBEDDING_PROVIDER is set, use that provider
//  2. Else if OPENAI_API_KEY is set, use OpenAI
//  3. Else if JINA_API_KEY is set, use Jina AI
//  4. Else fall back to the local provider
//
// # Caching, Retries and Rate Limits
//
// Remote providers share an LRU cache keyed by the SHA-256 of the text, so
// repeated ingestion of unchanged terms costs no API calls. Failed requests
// are retried with exponential backoff; client errors other than 429 are
// not retried. Requests are paced by a token-bucket limiter
// (golang.org/x/time/rate) when RequestsPerSecond is set.
package embedder
