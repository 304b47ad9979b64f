// Package s3 provides an S3 implementation of the blobstore.Store interface.
//
// # Usage
//
//	client := s3.NewFromConfig(cfg)
//	store := s3.NewStore(client, "my-bucket", "pivotgo/orders/")
//
//	ckpt := checkpoint.NewBlobStore(store)
//
// # Features
//
//   - Atomic object puts, so checkpoint reads never observe torn writes
//   - Range reads for partial fetches
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
