// Package embedder turns chunk text and queries into vectors.
//
// Two providers are available:
//
//   - http: any OpenAI-compatible /v1/embeddings endpoint (text-embeddings-inference,
//     vLLM, OpenAI itself). Requests are paced with a token-bucket limiter and
//     retried with exponential backoff.
//   - local: a deterministic feature-hashing embedder for tests and offline runs.
//     Texts sharing words produce nearby vectors.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{
//	    Provider: embedder.ProviderHTTP,
//	    URL:      "http://embeddings:8080/v1",
//	    Model:    "sentence-transformers/all-MiniLM-L6-v2",
//	})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
//
// # Caching
//
// Both providers consult an LRU cache keyed by model and SHA-256 of the text.
// Query embeddings for repeated questions are served without a network call.
//
// # Batching
//
// GenerateBatch accepts any number of texts. Only cache misses are sent, split
// into groups of Config.BatchSize.
package embedder
