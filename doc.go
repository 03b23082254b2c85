// Package vecswitch provides one nearest-neighbor index contract over
// interchangeable engines, selected at runtime by name.
//
// # Quick Start
//
//	ctx := context.Background()
//	idx, _ := vecswitch.Open(ctx, "hnswlib", metric.Cosine, 128)
//	defer idx.Close()
//
//	_ = idx.AddItems(ctx, vectors, ids)
//	results, _ := idx.Search(ctx, queries, 10)
//
// # Backends
//
// Names are case-insensitive:
//
//	sklearn, exact, bruteforce   exact linear scan (always available)
//	hnswlib, hnsw                in-memory HNSW graph with lazy allocation
//	faiss, flatfaiss, flat       flat index with optional SQ8/PQ quantization
//	redis, redisearch            Redis vector search (needs credentials)
//	qdrant                       Qdrant over gRPC (needs credentials)
//
// A name that is unknown, or whose engine was left out of the build with a
// no<engine> tag or disabled through VECSWITCH_DISABLE, resolves to the exact
// engine. Resolution never fails; Index.Engine reports what was built.
//
// # Capabilities
//
// Engine-specific operations are optional interfaces in package index
// (Resizer, EFSetter, Partitioner, BatchWriter). Use As to reach them through
// an instrumented index:
//
//	if p, ok := vecswitch.As[index.Partitioner](idx); ok {
//		_ = p.AddItemsPartition(ctx, "books", vectors, ids)
//	}
package vecswitch
