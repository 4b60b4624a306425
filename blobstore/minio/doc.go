// Package minio provides a BlobStore implementation using the MinIO client.
//
// It works with MinIO and other S3-compatible object stores (Ceph, Garage,
// SeaweedFS) without pulling in the AWS SDK.
//
//	store, err := minio.New(ctx, minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "vecclf",
//	    Prefix:    "runs/",
//	})
package minio
