package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/vecswitch/blobstore"
	"github.com/hupe1980/vecswitch/blobstore/minio"
	"github.com/hupe1980/vecswitch/blobstore/s3"
	"github.com/hupe1980/vecswitch/internal/config"
)

// openStore builds the snapshot store described by c.
func openStore(ctx context.Context, c config.StorageConfig) (blobstore.Store, func(), error) {
	var (
		store   blobstore.Store
		cleanup = func() {}
	)

	switch strings.ToLower(c.Kind) {
	case "", "local":
		store = blobstore.NewLocalStore(c.Path)
	case "memory":
		store = blobstore.NewMemoryStore()
	case "bolt":
		bs, err := blobstore.NewBoltStore(c.Path)
		if err != nil {
			return nil, nil, err
		}
		store = bs
		cleanup = func() { _ = bs.Close() }
	case "s3":
		opts := []s3.Option{s3.WithPrefix(c.Prefix)}
		if c.Region != "" {
			opts = append(opts, s3.WithRegion(c.Region))
		}
		if c.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(c.Endpoint))
		}

		var err error
		if c.CommitTable != "" {
			store, err = s3.NewVersioned(ctx, c.Bucket, c.CommitTable, opts...)
		} else {
			store, err = s3.New(ctx, c.Bucket, opts...)
		}
		if err != nil {
			return nil, nil, err
		}
	case "minio":
		ms, err := minio.New(c.Endpoint, c.AccessKey, c.SecretKey, c.Bucket, c.Prefix, c.UseSSL)
		if err != nil {
			return nil, nil, err
		}
		store = ms
	default:
		return nil, nil, fmt.Errorf("unknown storage kind %q", c.Kind)
	}

	if c.CacheBytes > 0 {
		store = blobstore.NewCachingStore(store, c.CacheBytes)
	}

	return store, cleanup, nil
}
