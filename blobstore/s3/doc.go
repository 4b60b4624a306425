// Package s3 provides an Amazon S3 implementation of blobstore.BlobStore.
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("runs/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//
// Blobs are read with ranged GETs and written either with a single PutObject (Put)
// or a streaming multipart upload (Create).
package s3
