// Package memory provides long-term conversational memory on top of a
// core.VectorIndex.
//
// InMemoryIndex is a process-local, brute-force cosine index suitable for
// tests and single-node deployments. LongTerm couples an index with an
// embedding.Embedder: persisted messages are remembered as vectors carrying
// room and author metadata, and Recall returns the top matches for a query
// restricted to one room.
package memory
