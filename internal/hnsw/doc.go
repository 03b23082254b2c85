// Package hnsw implements a capacity-bounded Hierarchical Navigable Small World graph.
//
// The graph follows the hnswlib model: it is initialized with a fixed maximum
// number of elements, items are addressed by caller-assigned labels, and the
// capacity can be grown with Resize. Inserting beyond capacity fails with
// ErrFull; growth policy belongs to the caller.
//
// # Parameters
//
//   - M: max connections per node on upper layers, 2*M on layer 0 (default: 16)
//   - EFConstruction: candidate list size during inserts (default: 200)
//   - EF: candidate list size during search, raised to k when smaller (default: 10)
//
// # Distances
//
//   - metric.Euclidean: L2 distance
//   - metric.Cosine: 1 - cosine similarity (vectors are normalized on insert)
//   - metric.InnerProduct: 1 - dot product
//
// # Reference
//
// Malkov & Yashunin, "Efficient and robust approximate nearest neighbor search
// using Hierarchical Navigable Small World graphs", IEEE TPAMI 2018.
package hnsw
