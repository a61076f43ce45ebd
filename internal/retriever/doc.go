// Package retriever answers similarity queries over the indexed chunks.
//
// Retriever embeds the query text and asks the vector store for the nearest
// chunks. Keyword mode goes to the full-text store instead, and hybrid mode
// runs both concurrently and merges them with Reciprocal Rank Fusion:
//
//	RRF(d) = sum over lists of 1 / (60 + rank(d))
//
// A PathContains restriction is applied after the query. When it leaves
// fewer than K hits, the query is repeated with 4*K and the list topped up,
// so a narrow restriction still tends to return K results.
//
// Client implements the same Searcher interface against a remote search
// service, so callers such as the proxy do not care where retrieval runs.
package retriever
