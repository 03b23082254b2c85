// Package redis implements index.Index on top of a Redis Stack (RediSearch)
// vector index.
//
// Items are stored as hashes under "item:<id>" with three fields:
//
//	embedding  raw little-endian float32 bytes (4*dim)
//	item_id    the decimal id
//	partition  tag value, empty when unpartitioned
//
// The FT index over those hashes is created at construction time with an
// HNSW vector field. Search issues one KNN query per input vector, optionally
// pre-filtered by partition. Scores are returned exactly as RediSearch reports
// them (squared L2 for L2, 1-cos for COSINE, 1-dot for IP).
//
// Redis reports no cheap item count for an FT index, so Count returns
// index.ErrNotImplemented. Save and Load are not supported: persistence is the
// server's concern.
package redis
