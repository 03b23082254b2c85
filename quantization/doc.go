// Package quantization provides vector compression for the flat engine.
//
// Two methods are supported:
//
//   - Scalar Quantization (SQ8): 4x compression, one byte per dimension
//   - Product Quantization (PQ): splits vectors into m subvectors and stores
//     one centroid index per subvector
//
// Both must be trained before encoding:
//
//	sq := quantization.NewScalarQuantizer(128)
//	err := sq.Train(vectors)
//	code := sq.Encode(vector) // 128 floats -> 128 bytes
//
//	pq, err := quantization.NewProductQuantizer(128, 8, 256)
//	err = pq.Train(vectors)
//	code := pq.Encode(vector) // 128 floats -> 8 bytes
//
// Product quantization supports asymmetric distance computation: the query
// stays at full precision and distances are looked up per subvector from a
// precomputed table.
package quantization
