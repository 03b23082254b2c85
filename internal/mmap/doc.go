// Package mmap provides read-only memory-mapped file access used when loading
// snapshots from the local filesystem.
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2)
//   - Windows: CreateFileMapping/MapViewOfFile
//
// Close is idempotent. Callers must not touch Bytes() after Close returns.
package mmap
