// Package types provides shared type definitions for ragsync.
//
// This package defines the domain types passed between the indexing pipeline
// and the retrieval path: chunks cut from source documents, the spans they
// cover, and search results read back from the vector store.
//
// # Chunks
//
// A Chunk is a contiguous slice of a document's extracted text. Its identity
// is the pair (file path, ordinal), serialized with ChunkID:
//
//	id := types.ChunkID("/docs/guide.md", 2) // "/docs/guide.md::2"
//
// Spans are half-open rune offsets [Start, End) into the extracted text.
// For one file, ordinals are contiguous from 0 and spans never move backwards.
//
// # Search Results
//
// SearchResult carries the chunk text, its metadata and the raw vector-store
// distance. Similarity is derived as 1 - distance and is nil whenever the
// store did not return a distance:
//
//	if r.Similarity != nil {
//	    fmt.Printf("%s %.3f\n", r.ID, *r.Similarity)
//	}
package types
