// Package blobstore provides the storage abstraction used to persist index snapshots.
//
// Store is the interface for reading and writing whole blobs by name.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, atomic rename on write, mmap on read
//   - MemoryStore: in-process map, for tests and ephemeral indexes
//   - BoltStore: a single bbolt file holding every blob
//   - CachingStore: read-through cache in front of any Store
//   - s3.Store / s3.CommitStore: Amazon S3, optionally versioned through DynamoDB
//   - minio.Store: MinIO and S3-compatible services
package blobstore
