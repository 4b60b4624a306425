// Package blobstore provides the storage abstraction for pipeline artifacts.
//
// Embedding dumps, label dumps and model checkpoints are written as named blobs.
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, atomic writes through temp file + rename
//   - MemoryStore: in-process map, used by tests
//   - minio.Store: MinIO and other S3-compatible object stores
//   - s3.Store: Amazon S3 with multipart streaming uploads
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
