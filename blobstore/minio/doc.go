// Package minio provides a blobstore.Store implementation using the MinIO client.
//
// MinIO is an S3-compatible object storage system. This package uses the
// official MinIO Go client, which also works against Ceph, SeaweedFS and
// Garage without pulling in the AWS SDK.
//
// # Basic Usage
//
//	store, err := minioblob.New("localhost:9000", "minioadmin", "minioadmin", "snapshots", "indexes/", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = vecswitch.SaveSnapshot(ctx, idx, store, "products.vsw")
package minio
