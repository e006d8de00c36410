package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UploadStatus tracks the lifecycle of a chunked upload session.
type UploadStatus string

const (
	UploadStatusInitializing UploadStatus = "initializing"
	UploadStatusUploading    UploadStatus = "uploading"
	UploadStatusFinalizing   UploadStatus = "finalizing"
	UploadStatusCompleted    UploadStatus = "completed"
	UploadStatusFailed       UploadStatus = "failed"
	UploadStatusExpired      UploadStatus = "expired"
)

// Terminal reports whether no further chunk admissions are accepted.
func (s UploadStatus) Terminal() bool {
	return s == UploadStatusCompleted || s == UploadStatusFailed || s == UploadStatusExpired
}

// ChunkRecord holds what the session knows about one admitted chunk index.
// Re-admission of an index replaces its record rather than adding a new one.
type ChunkRecord struct {
	Size       int64
	ETag       string // Returned by the storage provider for the written part
	Hash       string // Verified sha256 of the payload, hex-encoded
	ReceivedAt time.Time
}

// UploadSession is the server-side record for one in-flight chunked
// transfer. All fields except Chunks/UploadedSize/Status/LastUpdated are
// immutable after initialization. Mutation must happen under the
// per-session lock held by the registry.
type UploadSession struct {
	UploadID      string
	FileName      string
	MimeType      string
	TotalSize     int64
	ChunkSize     int64
	TotalChunks   int
	OwnerID       primitive.ObjectID
	StorageKey    string
	StorageHandle string // Multipart upload id held by the storage provider
	Chunks        map[int]ChunkRecord
	UploadedSize  int64
	Status        UploadStatus
	FailureReason string
	Compensated   bool // Storage-side multipart upload has been aborted
	AssetID       primitive.ObjectID
	CreatedAt     time.Time
	LastUpdated   time.Time
}

// ExpectedChunkLength returns the only legal byte length for the given
// index under the declared plan: ChunkSize for every index except the
// last, which carries the remainder.
func (s *UploadSession) ExpectedChunkLength(index int) int64 {
	if index == s.TotalChunks-1 {
		remainder := s.TotalSize - int64(s.TotalChunks-1)*s.ChunkSize
		return remainder
	}
	return s.ChunkSize
}

// RecomputeUploadedSize derives UploadedSize as the sum over the current
// set of distinct admitted indices. Never double-counts a re-sent index.
func (s *UploadSession) RecomputeUploadedSize() {
	var total int64
	for _, rec := range s.Chunks {
		total += rec.Size
	}
	s.UploadedSize = total
}

// CompletionInvariantHolds reports whether every declared chunk has been
// admitted and the admitted bytes add up to the declared total.
func (s *UploadSession) CompletionInvariantHolds() bool {
	return len(s.Chunks) == s.TotalChunks && s.UploadedSize == s.TotalSize
}

// TryBeginFinalize performs the single atomic uploading -> finalizing
// transition. It succeeds for exactly one caller per session: the one that
// observes the completion invariant while the session is still uploading.
func (s *UploadSession) TryBeginFinalize() bool {
	if s.Status != UploadStatusUploading || !s.CompletionInvariantHolds() {
		return false
	}
	s.Status = UploadStatusFinalizing
	return true
}

// ProgressSnapshot is the derived, read-only view of a session returned
// after every admission and on progress queries.
type ProgressSnapshot struct {
	UploadID       string       `json:"uploadId"`
	FileName       string       `json:"fileName"`
	TotalSize      int64        `json:"totalSize"`
	UploadedSize   int64        `json:"uploadedSize"`
	ChunksUploaded int          `json:"chunksUploaded"`
	TotalChunks    int          `json:"totalChunks"`
	Progress       int          `json:"progress"` // floor(uploadedSize*100/totalSize)
	Status         UploadStatus `json:"status"`
	AssetID        string       `json:"assetId,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	LastUpdated    time.Time    `json:"lastUpdated"`
}

// Snapshot derives the progress view from the session. Purely computed,
// no independent state.
func (s *UploadSession) Snapshot() ProgressSnapshot {
	snap := ProgressSnapshot{
		UploadID:       s.UploadID,
		FileName:       s.FileName,
		TotalSize:      s.TotalSize,
		UploadedSize:   s.UploadedSize,
		ChunksUploaded: len(s.Chunks),
		TotalChunks:    s.TotalChunks,
		Status:         s.Status,
		CreatedAt:      s.CreatedAt,
		LastUpdated:    s.LastUpdated,
	}
	if s.TotalSize > 0 {
		snap.Progress = int(s.UploadedSize * 100 / s.TotalSize)
	}
	if s.AssetID != primitive.NilObjectID {
		snap.AssetID = s.AssetID.Hex()
	}
	return snap
}
