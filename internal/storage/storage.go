package storage

import (
	"context"
	"io"
	"time"
)

// Default expiry duration for presigned URLs
const DefaultPresignedURLExpiry = 15 * time.Minute

// CompletedPart identifies one written part when assembling a multipart
// object. PartNumber is 1-based per the storage provider's convention.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// ObjectStorage defines the interface for object storage operations. The
// upload coordinator treats it as an externally-consistent collaborator:
// one finalize per session, one part write per index, with idempotent
// retry semantics on the caller's side.
type ObjectStorage interface {
	// BeginMultipart allocates a storage-side handle for an in-progress
	// multipart object at the given key.
	BeginMultipart(ctx context.Context, objectKey, contentType string) (handle string, err error)

	// WritePart writes one part's payload. Re-writing the same part number
	// replaces the prior payload. Returns the provider ETag for the part.
	WritePart(ctx context.Context, objectKey, handle string, partNumber int32, data []byte) (etag string, err error)

	// CompleteMultipart assembles the object from the listed parts in part
	// number order and returns the assembled object's byte size.
	CompleteMultipart(ctx context.Context, objectKey, handle string, parts []CompletedPart) (size int64, err error)

	// AbortMultipart discards an in-progress multipart object and any
	// parts written so far.
	AbortMultipart(ctx context.Context, objectKey, handle string) error

	// PutObject stores a whole object in one call and returns the number
	// of bytes durably written. contentLength must be the exact byte
	// length of body; the provider needs it to sign a non-seekable stream.
	PutObject(ctx context.Context, objectKey, contentType string, body io.Reader, contentLength int64) (size int64, err error)

	// DeleteObject removes an object from the storage provider.
	DeleteObject(ctx context.Context, objectKey string) error

	// GeneratePresignedDownloadURL creates a temporary URL that allows GET
	// requests for downloading an object directly from the provider.
	GeneratePresignedDownloadURL(ctx context.Context, objectKey string, expires time.Duration) (string, error)

	// ObjectURL returns the stable (non-presigned) URL for an object key.
	ObjectURL(objectKey string) string
}
