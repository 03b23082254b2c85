// Package index defines the contract every nearest-neighbor backend satisfies.
//
// An Index is created empty for a fixed metric space and dimensionality.
// Backends that pre-size their storage defer allocation until the first
// insert and grow transparently afterwards (see Capacity). Reads against an
// index that has not allocated yet return empty results, never an error.
//
// # Backends
//
//   - exact: brute-force reference, always available
//   - hnsw: in-memory graph index with bounded, growable capacity
//   - flat: id-mapped flat index with optional SQ8/PQ compression
//   - redis: Redis Stack vector search over hashes
//   - qdrant: Qdrant collection over gRPC
//
// # Optional Capabilities
//
// Engine-specific operations are not part of Index. Callers probe for them
// with a type assertion:
//
//	if r, ok := idx.(index.Resizer); ok {
//	    err = r.Resize(ctx, 1_000_000)
//	}
//
// # Persistence
//
// In-process backends persist through a self-describing snapshot envelope
// written to a blobstore.Store. A snapshot records the engine that wrote it
// and loading it into a different engine fails with ErrEngineMismatch.
package index
