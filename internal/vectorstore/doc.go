// Package vectorstore is the client side of the embedding collection.
//
// A Store is a CRUD collection addressed by chunk id and filtered by
// metadata. Filters are tagged expressions built with Eq, In and And and are
// validated before any backend sees them:
//
//	where := vectorstore.And(
//	    vectorstore.Eq("file_path", "/docs/a.md"),
//	    vectorstore.In("chunk_index", 0, 1, 2),
//	)
//	n, err := store.Count(ctx, where)
//
// Backends:
//
//   - chroma: the Chroma HTTP v1 API (collection is get-or-created lazily)
//   - pgvector: PostgreSQL with the vector extension, via lib/pq
//   - memory: an in-process store with cosine distance
package vectorstore
