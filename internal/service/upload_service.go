package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rardoz/witchly-app-api-sub002/internal/domain"
	"github.com/rardoz/witchly-app-api-sub002/internal/repository"
	"github.com/rardoz/witchly-app-api-sub002/internal/storage"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// --- Error Definitions ---
var (
	ErrInvalidUploadPlan   = errors.New("upload plan arithmetic is inconsistent")
	ErrValidationFailed    = errors.New("validation failed")
	ErrChunkOutOfRange     = errors.New("chunk index out of range")
	ErrChunkLengthMismatch = errors.New("chunk length does not match declared plan")
	ErrChunkHashMismatch   = errors.New("chunk hash does not match payload")
	ErrNotSessionOwner     = errors.New("caller does not own this upload session")
	ErrFileTooLarge        = errors.New("file exceeds maximum allowed size")
	ErrAssetNotFound       = errors.New("asset not found")
	ErrStorageFailure      = errors.New("object storage failure")
)

// Caller identifies who is invoking an upload operation. Admins may act
// on sessions and assets they do not own.
type Caller struct {
	ID    primitive.ObjectID
	Admin bool
}

// InitializeUploadInput carries the declared chunk plan for a new session.
type InitializeUploadInput struct {
	FileName    string
	MimeType    string
	TotalSize   int64
	ChunkSize   int64
	TotalChunks int
	Owner       primitive.ObjectID
}

// DirectUploadInput carries one whole file streamed in a single request.
// Size is the exact byte length of Body as reported by the transport;
// the limit is still enforced against the storage-confirmed count after
// the bytes are durably stored.
type DirectUploadInput struct {
	FileName string
	MimeType string
	Owner    primitive.ObjectID
	Body     io.Reader
	Size     int64
}

// UploadService coordinates resumable chunked uploads and the
// single-request direct path into durable asset records.
type UploadService interface {
	InitializeUpload(ctx context.Context, input InitializeUploadInput) (domain.ProgressSnapshot, error)
	AdmitChunk(ctx context.Context, uploadID string, chunkIndex int, chunkBytes []byte, claimedHash string, caller Caller) (domain.ProgressSnapshot, error)
	GetProgress(ctx context.Context, uploadID string, caller Caller) (domain.ProgressSnapshot, error)
	DirectUpload(ctx context.Context, input DirectUploadInput) (*domain.Asset, error)
	GetAssetWithURL(ctx context.Context, id primitive.ObjectID) (*domain.Asset, string, error)
	ListAssets(ctx context.Context, owner primitive.ObjectID) ([]domain.Asset, error)
	RunSweeper(ctx context.Context, interval time.Duration)
}

// uploadService implements the UploadService interface.
type uploadService struct {
	registry      *SessionRegistry
	assetRepo     repository.AssetRepository
	objectStorage storage.ObjectStorage
	maxDirectSize int64
	maxChunkSize  int64
	logger        *zap.Logger
}

// NewUploadService creates a new instance of uploadService.
func NewUploadService(
	registry *SessionRegistry,
	assetRepo repository.AssetRepository,
	objectStorage storage.ObjectStorage,
	maxDirectSize int64,
	maxChunkSize int64,
	logger *zap.Logger,
) UploadService {
	return &uploadService{
		registry:      registry,
		assetRepo:     assetRepo,
		objectStorage: objectStorage,
		maxDirectSize: maxDirectSize,
		maxChunkSize:  maxChunkSize,
		logger:        logger,
	}
}

// === Session Initialization ===

// InitializeUpload validates the declared chunk plan, allocates a
// storage-side multipart handle, and registers the session. The session
// is created initializing and advanced to uploading before it is returned.
func (s *uploadService) InitializeUpload(ctx context.Context, input InitializeUploadInput) (domain.ProgressSnapshot, error) {
	if input.FileName == "" || input.MimeType == "" {
		return domain.ProgressSnapshot{}, fmt.Errorf("%w: fileName and mimeType are required", ErrValidationFailed)
	}
	if input.Owner == primitive.NilObjectID {
		return domain.ProgressSnapshot{}, fmt.Errorf("%w: owner is required", ErrValidationFailed)
	}
	if input.TotalSize <= 0 {
		return domain.ProgressSnapshot{}, fmt.Errorf("%w: totalSize must be positive, got %d", ErrValidationFailed, input.TotalSize)
	}
	if input.ChunkSize <= 0 {
		return domain.ProgressSnapshot{}, fmt.Errorf("%w: chunkSize must be positive, got %d", ErrValidationFailed, input.ChunkSize)
	}
	if s.maxChunkSize > 0 && input.ChunkSize > s.maxChunkSize {
		return domain.ProgressSnapshot{}, fmt.Errorf("%w: chunkSize %d exceeds maximum %d", ErrValidationFailed, input.ChunkSize, s.maxChunkSize)
	}

	wantChunks := int((input.TotalSize + input.ChunkSize - 1) / input.ChunkSize)
	if input.TotalChunks != wantChunks {
		return domain.ProgressSnapshot{}, fmt.Errorf("%w: declared %d chunks, plan requires %d",
			ErrInvalidUploadPlan, input.TotalChunks, wantChunks)
	}

	uploadID := uuid.NewString()
	objectKey := buildObjectKey(input.Owner, uploadID, input.FileName)

	handle, err := s.objectStorage.BeginMultipart(ctx, objectKey, input.MimeType)
	if err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("%w: begin multipart: %v", ErrStorageFailure, err)
	}

	now := time.Now().UTC()
	session := &domain.UploadSession{
		UploadID:      uploadID,
		FileName:      input.FileName,
		MimeType:      input.MimeType,
		TotalSize:     input.TotalSize,
		ChunkSize:     input.ChunkSize,
		TotalChunks:   wantChunks,
		OwnerID:       input.Owner,
		StorageKey:    objectKey,
		StorageHandle: handle,
		Chunks:        make(map[int]domain.ChunkRecord),
		Status:        domain.UploadStatusInitializing,
		CreatedAt:     now,
		LastUpdated:   now,
	}
	session.Status = domain.UploadStatusUploading
	s.registry.Register(session)

	s.logger.Info("upload session initialized",
		zap.String("uploadId", uploadID),
		zap.String("fileName", input.FileName),
		zap.Int64("totalSize", input.TotalSize),
		zap.Int("totalChunks", wantChunks))

	return session.Snapshot(), nil
}

// === Chunk Admission ===

// AdmitChunk validates and records one chunk's arrival. Admissions for
// the same session are serialized by the registry's per-session lock;
// different sessions proceed fully in parallel. Re-admitting an index
// with the same length overwrites the prior payload without
// double-counting; a size-changing re-send is rejected because each index
// has exactly one legal length under the declared plan.
func (s *uploadService) AdmitChunk(ctx context.Context, uploadID string, chunkIndex int, chunkBytes []byte, claimedHash string, caller Caller) (domain.ProgressSnapshot, error) {
	var snapshot domain.ProgressSnapshot

	err := s.registry.WithSession(uploadID, func(session *domain.UploadSession) error {
		if session.OwnerID != caller.ID && !caller.Admin {
			return ErrNotSessionOwner
		}

		switch {
		case session.Status == domain.UploadStatusExpired:
			return fmt.Errorf("%w: no chunks accepted after expiry", ErrSessionExpired)
		case session.Status.Terminal():
			return fmt.Errorf("%w: status is %s", ErrSessionFinished, session.Status)
		case session.Status != domain.UploadStatusUploading:
			return fmt.Errorf("%w: status is %s", ErrSessionFinished, session.Status)
		}

		if chunkIndex < 0 || chunkIndex >= session.TotalChunks {
			return fmt.Errorf("%w: index %d, valid range [0,%d)", ErrChunkOutOfRange, chunkIndex, session.TotalChunks)
		}

		expected := session.ExpectedChunkLength(chunkIndex)
		if int64(len(chunkBytes)) != expected {
			return fmt.Errorf("%w: index %d expects %d bytes, got %d",
				ErrChunkLengthMismatch, chunkIndex, expected, len(chunkBytes))
		}

		sum := sha256.Sum256(chunkBytes)
		computedHash := hex.EncodeToString(sum[:])
		if !strings.EqualFold(computedHash, claimedHash) {
			return fmt.Errorf("%w: index %d", ErrChunkHashMismatch, chunkIndex)
		}

		// Part numbers are 1-based on the storage side.
		etag, err := s.objectStorage.WritePart(ctx, session.StorageKey, session.StorageHandle, int32(chunkIndex+1), chunkBytes)
		if err != nil {
			// Session state is untouched; the chunk can be retried.
			return fmt.Errorf("%w: write part %d: %v", ErrStorageFailure, chunkIndex, err)
		}

		now := time.Now().UTC()
		session.Chunks[chunkIndex] = domain.ChunkRecord{
			Size:       int64(len(chunkBytes)),
			ETag:       etag,
			Hash:       computedHash,
			ReceivedAt: now,
		}
		session.RecomputeUploadedSize()
		session.LastUpdated = now

		// Exactly one admission wins this transition, even when the last
		// chunks land back to back.
		if session.TryBeginFinalize() {
			s.finalize(ctx, session)
		}

		snapshot = session.Snapshot()
		return nil
	})
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	return snapshot, nil
}

// === Finalization ===

// finalize assembles the storage object, verifies its size, and creates
// the asset record exactly once. Runs under the session lock, only for
// the caller that won the uploading -> finalizing transition. Any failure
// leaves the session failed with state preserved for diagnostics; there
// is no automatic retry.
func (s *uploadService) finalize(ctx context.Context, session *domain.UploadSession) {
	indices := make([]int, 0, len(session.Chunks))
	for idx := range session.Chunks {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	parts := make([]storage.CompletedPart, len(indices))
	hashDigest := sha256.New()
	for i, idx := range indices {
		rec := session.Chunks[idx]
		parts[i] = storage.CompletedPart{PartNumber: int32(idx + 1), ETag: rec.ETag}
		hashDigest.Write([]byte(rec.Hash))
	}

	assembledSize, err := s.objectStorage.CompleteMultipart(ctx, session.StorageKey, session.StorageHandle, parts)
	if err != nil {
		s.failSession(session, fmt.Sprintf("complete multipart: %v", err))
		// The multipart upload may still be open; the sweeper aborts it.
		return
	}

	if assembledSize != session.TotalSize {
		if delErr := s.objectStorage.DeleteObject(ctx, session.StorageKey); delErr != nil {
			s.logger.Error("failed to delete size-mismatched object",
				zap.String("uploadId", session.UploadID), zap.Error(delErr))
		} else {
			session.Compensated = true
		}
		s.failSession(session, fmt.Sprintf("assembled size %d does not match declared %d", assembledSize, session.TotalSize))
		return
	}

	asset := &domain.Asset{
		UserID:      session.OwnerID,
		FileName:    session.FileName,
		UniqueName:  deriveUniqueName(session.UploadID, session.FileName),
		ContentHash: hex.EncodeToString(hashDigest.Sum(nil)),
		MimeType:    session.MimeType,
		AssetType:   domain.ClassifyMimeType(session.MimeType),
		Size:        assembledSize,
		StorageKey:  session.StorageKey,
		StorageURL:  s.objectStorage.ObjectURL(session.StorageKey),
	}

	assetID, err := s.assetRepo.Create(ctx, asset)
	if err != nil {
		// The assembled object stays behind, eligible for cleanup. No
		// asset record may reference an unverified object, and none does.
		session.Compensated = true
		s.failSession(session, fmt.Sprintf("create asset record: %v", err))
		return
	}

	session.AssetID = assetID
	session.Status = domain.UploadStatusCompleted
	session.LastUpdated = time.Now().UTC()

	s.logger.Info("upload finalized",
		zap.String("uploadId", session.UploadID),
		zap.String("assetId", assetID.Hex()),
		zap.Int64("size", assembledSize))
}

// failSession moves the session to its terminal failed state. The caller
// must restart the whole upload with a new initialize call.
func (s *uploadService) failSession(session *domain.UploadSession, reason string) {
	session.Status = domain.UploadStatusFailed
	session.FailureReason = reason
	session.LastUpdated = time.Now().UTC()
	s.logger.Error("upload finalization failed",
		zap.String("uploadId", session.UploadID),
		zap.String("reason", reason))
}

// === Progress Queries ===

// GetProgress returns the derived progress snapshot, scoped to the
// session owner or an admin.
func (s *uploadService) GetProgress(ctx context.Context, uploadID string, caller Caller) (domain.ProgressSnapshot, error) {
	var snapshot domain.ProgressSnapshot
	err := s.registry.WithSession(uploadID, func(session *domain.UploadSession) error {
		if session.OwnerID != caller.ID && !caller.Admin {
			return ErrNotSessionOwner
		}
		snapshot = session.Snapshot()
		return nil
	})
	if err != nil {
		return domain.ProgressSnapshot{}, err
	}
	return snapshot, nil
}

// === Direct Upload ===

// DirectUpload streams one whole file to storage, then enforces the size
// limit against the storage-confirmed byte count. An oversize object is
// deleted before the error is reported so nothing orphaned is left
// behind; within limits, the asset record is created exactly as on the
// finalizer's success path.
func (s *uploadService) DirectUpload(ctx context.Context, input DirectUploadInput) (*domain.Asset, error) {
	if input.FileName == "" || input.MimeType == "" {
		return nil, fmt.Errorf("%w: fileName and mimeType are required", ErrValidationFailed)
	}
	if input.Owner == primitive.NilObjectID {
		return nil, fmt.Errorf("%w: owner is required", ErrValidationFailed)
	}
	if input.Body == nil {
		return nil, fmt.Errorf("%w: file body is required", ErrValidationFailed)
	}
	if input.Size < 0 {
		return nil, fmt.Errorf("%w: negative body size %d", ErrValidationFailed, input.Size)
	}

	token := uuid.NewString()
	objectKey := buildObjectKey(input.Owner, token, input.FileName)

	hasher := sha256.New()
	body := io.TeeReader(input.Body, hasher)

	storedSize, err := s.objectStorage.PutObject(ctx, objectKey, input.MimeType, body, input.Size)
	if err != nil {
		return nil, fmt.Errorf("%w: put object: %v", ErrStorageFailure, err)
	}

	if storedSize <= 0 {
		_ = s.objectStorage.DeleteObject(ctx, objectKey)
		return nil, fmt.Errorf("%w: empty file body", ErrValidationFailed)
	}

	if s.maxDirectSize > 0 && storedSize > s.maxDirectSize {
		// The bytes are already durably stored; delete them before
		// reporting the limit violation.
		if delErr := s.objectStorage.DeleteObject(ctx, objectKey); delErr != nil {
			return nil, fmt.Errorf("%w: delete oversize object: %v", ErrStorageFailure, delErr)
		}
		return nil, fmt.Errorf("%w: stored %d bytes, maximum is %d", ErrFileTooLarge, storedSize, s.maxDirectSize)
	}

	asset := &domain.Asset{
		UserID:      input.Owner,
		FileName:    input.FileName,
		UniqueName:  deriveUniqueName(token, input.FileName),
		ContentHash: hex.EncodeToString(hasher.Sum(nil)),
		MimeType:    input.MimeType,
		AssetType:   domain.ClassifyMimeType(input.MimeType),
		Size:        storedSize,
		StorageKey:  objectKey,
		StorageURL:  s.objectStorage.ObjectURL(objectKey),
	}

	assetID, err := s.assetRepo.Create(ctx, asset)
	if err != nil {
		_ = s.objectStorage.DeleteObject(ctx, objectKey)
		return nil, err
	}
	asset.ID = assetID

	s.logger.Info("direct upload stored",
		zap.String("assetId", assetID.Hex()),
		zap.String("fileName", input.FileName),
		zap.Int64("size", storedSize))

	return asset, nil
}

// === Asset Queries ===

// GetAssetWithURL fetches an asset record and a presigned download URL.
func (s *uploadService) GetAssetWithURL(ctx context.Context, id primitive.ObjectID) (*domain.Asset, string, error) {
	asset, err := s.assetRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, "", ErrAssetNotFound
		}
		return nil, "", err
	}

	downloadURL, err := s.objectStorage.GeneratePresignedDownloadURL(ctx, asset.StorageKey, storage.DefaultPresignedURLExpiry)
	if err != nil {
		return nil, "", fmt.Errorf("%w: presign download: %v", ErrStorageFailure, err)
	}
	return asset, downloadURL, nil
}

// ListAssets returns the caller's assets, newest first.
func (s *uploadService) ListAssets(ctx context.Context, owner primitive.ObjectID) ([]domain.Asset, error) {
	return s.assetRepo.GetByUserID(ctx, owner)
}

// === Expiry Sweep ===

// RunSweeper periodically expires idle sessions, aborts the storage-side
// multipart uploads they abandoned, and purges terminal sessions past
// their retention window. Blocks until ctx is cancelled.
func (s *uploadService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep performs one expiry pass.
func (s *uploadService) sweep(ctx context.Context) {
	for _, abandoned := range s.registry.expireIdle() {
		err := s.objectStorage.AbortMultipart(ctx, abandoned.StorageKey, abandoned.StorageHandle)
		if err != nil {
			s.logger.Warn("failed to abort abandoned multipart upload",
				zap.String("uploadId", abandoned.UploadID), zap.Error(err))
			continue
		}
		s.registry.markCompensated(abandoned.UploadID)
		s.logger.Info("aborted abandoned multipart upload",
			zap.String("uploadId", abandoned.UploadID))
	}

	if purged := s.registry.purgeTerminal(); purged > 0 {
		s.logger.Info("purged terminal upload sessions", zap.Int("count", purged))
	}
}

// --- Helpers ---

// buildObjectKey places objects under the owning user with an opaque
// token, keeping the original extension for content-type sniffing.
func buildObjectKey(owner primitive.ObjectID, token, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return path.Join("uploads", owner.Hex(), token+ext)
}

// deriveUniqueName produces a stable, collision-resistant name from the
// upload token and the declared filename.
func deriveUniqueName(token, fileName string) string {
	sum := sha256.Sum256([]byte(token + "/" + fileName))
	return hex.EncodeToString(sum[:]) + strings.ToLower(path.Ext(fileName))
}
