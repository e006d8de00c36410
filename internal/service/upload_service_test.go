package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rardoz/witchly-app-api-sub002/internal/domain"
	"github.com/rardoz/witchly-app-api-sub002/internal/repository"
	"github.com/rardoz/witchly-app-api-sub002/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// --- Fakes ---

// fakeObjectStorage is an in-memory stand-in for the S3 layer. It tracks
// every call so tests can assert on compensation behavior.
type fakeObjectStorage struct {
	mu sync.Mutex

	parts   map[string]map[int32][]byte // handle -> partNumber -> payload
	objects map[string][]byte           // objectKey -> assembled/put payload

	beginCalls    int
	completeCalls int
	abortCalls    int
	deletedKeys   []string
	putLengths    []int64 // declared content lengths seen by PutObject

	beginErr    error
	writeErr    error
	completeErr error
	putErr      error
	deleteErr   error

	// When nonzero, CompleteMultipart reports this size instead of the
	// real byte count.
	reportedSize int64
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{
		parts:   make(map[string]map[int32][]byte),
		objects: make(map[string][]byte),
	}
}

func (f *fakeObjectStorage) BeginMultipart(_ context.Context, objectKey, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return "", f.beginErr
	}
	f.beginCalls++
	handle := fmt.Sprintf("mpu-%d-%s", f.beginCalls, objectKey)
	f.parts[handle] = make(map[int32][]byte)
	return handle, nil
}

func (f *fakeObjectStorage) WritePart(_ context.Context, _, handle string, partNumber int32, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return "", f.writeErr
	}
	bucket, ok := f.parts[handle]
	if !ok {
		return "", errors.New("unknown multipart handle")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	bucket[partNumber] = buf
	return fmt.Sprintf("etag-%d-%d", partNumber, len(data)), nil
}

func (f *fakeObjectStorage) CompleteMultipart(_ context.Context, objectKey, handle string, parts []storage.CompletedPart) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return 0, f.completeErr
	}
	bucket, ok := f.parts[handle]
	if !ok {
		return 0, errors.New("unknown multipart handle")
	}
	f.completeCalls++

	var assembled []byte
	for _, p := range parts {
		assembled = append(assembled, bucket[p.PartNumber]...)
	}
	f.objects[objectKey] = assembled
	delete(f.parts, handle)

	if f.reportedSize != 0 {
		return f.reportedSize, nil
	}
	return int64(len(assembled)), nil
}

func (f *fakeObjectStorage) AbortMultipart(_ context.Context, _, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abortCalls++
	delete(f.parts, handle)
	return nil
}

func (f *fakeObjectStorage) PutObject(_ context.Context, objectKey, _ string, body io.Reader, contentLength int64) (int64, error) {
	if f.putErr != nil {
		return 0, f.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putLengths = append(f.putLengths, contentLength)
	f.objects[objectKey] = data
	return int64(len(data)), nil
}

func (f *fakeObjectStorage) DeleteObject(_ context.Context, objectKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.objects, objectKey)
	f.deletedKeys = append(f.deletedKeys, objectKey)
	return nil
}

func (f *fakeObjectStorage) GeneratePresignedDownloadURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://signed.example.com/" + objectKey, nil
}

func (f *fakeObjectStorage) ObjectURL(objectKey string) string {
	return "https://bucket.example.com/" + objectKey
}

// fakeAssetRepo is an in-memory AssetRepository.
type fakeAssetRepo struct {
	mu          sync.Mutex
	assets      map[primitive.ObjectID]*domain.Asset
	createCalls int
	createErr   error
}

func newFakeAssetRepo() *fakeAssetRepo {
	return &fakeAssetRepo{assets: make(map[primitive.ObjectID]*domain.Asset)}
}

func (f *fakeAssetRepo) Create(_ context.Context, asset *domain.Asset) (primitive.ObjectID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return primitive.NilObjectID, f.createErr
	}
	id := primitive.NewObjectID()
	stored := *asset
	stored.ID = id
	f.assets[id] = &stored
	return id, nil
}

func (f *fakeAssetRepo) GetByID(_ context.Context, id primitive.ObjectID) (*domain.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	asset, ok := f.assets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return asset, nil
}

func (f *fakeAssetRepo) GetByUserID(_ context.Context, userID primitive.ObjectID) ([]domain.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Asset
	for _, a := range f.assets {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

// --- Helpers ---

const (
	testMaxDirect = int64(1 << 20)
	testMaxChunk  = int64(1 << 20)
)

func newTestUploadService(t *testing.T, ttl time.Duration) (UploadService, *SessionRegistry, *fakeObjectStorage, *fakeAssetRepo) {
	t.Helper()
	registry := NewSessionRegistry(ttl, zap.NewNop())
	objStore := newFakeObjectStorage()
	assetRepo := newFakeAssetRepo()
	svc := NewUploadService(registry, assetRepo, objStore, testMaxDirect, testMaxChunk, zap.NewNop())
	return svc, registry, objStore, assetRepo
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func chunkPayload(index int, size int64) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(index + i)
	}
	return data
}

// startSession initializes a 1 MiB / 256 KiB plan (4 chunks) for owner.
func startSession(t *testing.T, svc UploadService, owner primitive.ObjectID) domain.ProgressSnapshot {
	t.Helper()
	snap, err := svc.InitializeUpload(context.Background(), InitializeUploadInput{
		FileName:    "broomstick.mp4",
		MimeType:    "video/mp4",
		TotalSize:   1048576,
		ChunkSize:   262144,
		TotalChunks: 4,
		Owner:       owner,
	})
	require.NoError(t, err)
	return snap
}

// --- Initialization ---

func TestInitializeUploadRejectsInconsistentPlan(t *testing.T) {
	svc, _, _, _ := newTestUploadService(t, time.Minute)
	owner := primitive.NewObjectID()
	ctx := context.Background()

	base := InitializeUploadInput{
		FileName:    "grimoire.pdf",
		MimeType:    "application/pdf",
		TotalSize:   1048576,
		ChunkSize:   262144,
		TotalChunks: 4,
		Owner:       owner,
	}

	// Declared chunk count disagrees with ceil(totalSize/chunkSize).
	bad := base
	bad.TotalChunks = 5
	_, err := svc.InitializeUpload(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidUploadPlan)

	bad = base
	bad.TotalChunks = 3
	_, err = svc.InitializeUpload(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalidUploadPlan)

	bad = base
	bad.TotalSize = 0
	_, err = svc.InitializeUpload(ctx, bad)
	assert.ErrorIs(t, err, ErrValidationFailed)

	bad = base
	bad.ChunkSize = -1
	_, err = svc.InitializeUpload(ctx, bad)
	assert.ErrorIs(t, err, ErrValidationFailed)

	bad = base
	bad.FileName = ""
	_, err = svc.InitializeUpload(ctx, bad)
	assert.ErrorIs(t, err, ErrValidationFailed)

	bad = base
	bad.ChunkSize = testMaxChunk + 1
	bad.TotalChunks = 1
	_, err = svc.InitializeUpload(ctx, bad)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestInitializeUploadStartsEmpty(t *testing.T) {
	svc, registry, objStore, _ := newTestUploadService(t, time.Minute)
	snap := startSession(t, svc, primitive.NewObjectID())

	assert.NotEmpty(t, snap.UploadID)
	assert.Equal(t, domain.UploadStatusUploading, snap.Status)
	assert.Equal(t, 0, snap.Progress)
	assert.Equal(t, int64(0), snap.UploadedSize)
	assert.Equal(t, 4, snap.TotalChunks)
	assert.Equal(t, 1, registry.Len())
	assert.Equal(t, 1, objStore.beginCalls)
}

// --- Chunk Admission ---

func TestChunkedUploadScenario(t *testing.T) {
	svc, _, objStore, assetRepo := newTestUploadService(t, time.Minute)
	owner := primitive.NewObjectID()
	caller := Caller{ID: owner}
	ctx := context.Background()

	snap := startSession(t, svc, owner)
	uploadID := snap.UploadID

	// Three of four chunks uploaded: 75 percent, still uploading.
	for i := 0; i < 3; i++ {
		payload := chunkPayload(i, 262144)
		snap, err := svc.AdmitChunk(ctx, uploadID, i, payload, hashHex(payload), caller)
		require.NoError(t, err)
		assert.Equal(t, domain.UploadStatusUploading, snap.Status)
	}

	progress, err := svc.GetProgress(ctx, uploadID, caller)
	require.NoError(t, err)
	assert.Equal(t, 75, progress.Progress)
	assert.Equal(t, int64(786432), progress.UploadedSize)
	assert.Equal(t, 3, progress.ChunksUploaded)

	// Final chunk triggers finalization.
	payload := chunkPayload(3, 262144)
	snap, err = svc.AdmitChunk(ctx, uploadID, 3, payload, hashHex(payload), caller)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadStatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
	assert.NotEmpty(t, snap.AssetID)

	assert.Equal(t, 1, objStore.completeCalls)
	assert.Equal(t, 1, assetRepo.createCalls)

	// The recorded asset matches the declared plan.
	assetID, err := primitive.ObjectIDFromHex(snap.AssetID)
	require.NoError(t, err)
	asset, err := assetRepo.GetByID(ctx, assetID)
	require.NoError(t, err)
	assert.Equal(t, int64(1048576), asset.Size)
	assert.Equal(t, owner, asset.UserID)
	assert.Equal(t, domain.AssetTypeVideo, asset.AssetType)
	assert.NotEmpty(t, asset.ContentHash)

	// A retry after completion is a conflict, not a re-finalize.
	_, err = svc.AdmitChunk(ctx, uploadID, 3, payload, hashHex(payload), caller)
	assert.ErrorIs(t, err, ErrSessionFinished)
	assert.Equal(t, 1, objStore.completeCalls)
	assert.Equal(t, 1, assetRepo.createCalls)
}

func TestAdmitChunkIdempotentResend(t *testing.T) {
	svc, _, _, _ := newTestUploadService(t, time.Minute)
	owner := primitive.NewObjectID()
	caller := Caller{ID: owner}
	ctx := context.Background()

	snap := startSession(t, svc, owner)
	payload := chunkPayload(1, 262144)

	first, err := svc.AdmitChunk(ctx, snap.UploadID, 1, payload, hashHex(payload), caller)
	require.NoError(t, err)

	// Same index, same length: overwrite without double counting.
	second, err := svc.AdmitChunk(ctx, snap.UploadID, 1, payload, hashHex(payload), caller)
	require.NoError(t, err)
	assert.Equal(t, first.UploadedSize, second.UploadedSize)
	assert.Equal(t, first.ChunksUploaded, second.ChunksUploaded)
	assert.Equal(t, first.Progress, second.Progress)
}

func TestAdmitChunkRejectsSizeChangingResend(t *testing.T) {
	svc, _, _, _ := newTestUploadService(t, time.Minute)
	owner := primitive.NewObjectID()
	caller := Caller{ID: owner}
	ctx := context.Background()

	snap := startSession(t, svc, owner)
	payload := chunkPayload(0, 262144)
	_, err := svc.AdmitChunk(ctx, snap.UploadID, 0, payload, hashHex(payload), caller)
	require.NoError(t, err)

	shorter := chunkPayload(0, 1000)
	_, err = svc.AdmitChunk(ctx, snap.UploadID, 0, shorter, hashHex(shorter), caller)
	assert.ErrorIs(t, err, ErrChunkLengthMismatch)

	progress, err := svc.GetProgress(ctx, snap.UploadID, caller)
	require.NoError(t, err)
	assert.Equal(t, int64(262144), progress.UploadedSize)
}

func TestAdmitChunkHashMismatchLeavesStateUntouched(t *testing.T) {
	svc, _, objStore, _ := newTestUploadService(t, time.Minute)
	owner := primitive.NewObjectID()
	caller := Caller{ID: owner}
	ctx := context.Background()

	snap := startSession(t, svc, owner)
	payload := chunkPayload(2, 262144)

	_, err := svc.AdmitChunk(ctx, snap.UploadID, 2, payload, hashHex([]byte("different bytes")), caller)
	assert.ErrorIs(t, err, ErrChunkHashMismatch)

	progress, err := svc.GetProgress(ctx, snap.UploadID, caller)
	require.NoError(t, err)
	assert.Equal(t, int64(0), progress.UploadedSize)
	assert.Equal(t, 0, progress.ChunksUploaded)
	assert.Equal(t, domain.UploadStatusUploading, progress.Status)

	// Nothing reached the storage layer.
	objStore.mu.Lock()
	for _, bucket := range objStore.parts {
		assert.Empty(t, bucket)
	}
	objStore.mu.Unlock()

	// Hash comparison is case-insensitive.
	upper := strings.ToUpper(hashHex(payload))
	_, err = svc.AdmitChunk(ctx, snap.UploadID, 2, payload, upper, caller)
	assert.NoError(t, err)
}

func TestAdmitChunkOutOfRange(t *testing.T) {
	svc, _, _, _ := newTestUploadService(t, time.Minute)
	owner := primitive.NewObjectID()
	caller := Caller{ID: owner}
	ctx := context.Background()

	snap := startSession(t, svc, owner)
	payload := chunkPayload(0, 262144)

	_, err := svc.AdmitChunk(ctx, snap.UploadID, 4, payload, hashHex(payload), caller)
	assert.ErrorIs(t, err, ErrChunkOutOfRange)

	_, err = svc.AdmitChunk(ctx, snap.UploadID, -1, payload, hashHex(payload), caller)
	assert.ErrorIs(t, err, ErrChunkOutOfRange)
}

func TestAdmitChunkOwnership(t *testing.T) {
	svc, _, _, _ := newTestUploadService(t, time.Minute)
	owner := primitive.NewObjectID()
	ctx := context.Background()

	snap := startSession(t, svc, owner)
	payload := chunkPayload(0, 262144)

	stranger := Caller{ID: primitive.NewObjectID()}
	_, err := svc.AdmitChunk(ctx, snap.UploadID, 0, payload, hashHex(payload), stranger)
	assert.ErrorIs(t, err, ErrNotSessionOwner)

	_, err = svc.GetProgress(ctx, snap.UploadID, stranger)
	assert.ErrorIs(t, err, ErrNotSessionOwner)

	// Admins may inspect and act on any session.
	admin := Caller{ID: primitive.NewObjectID(), Admin: true}
	_, err = svc.GetProgress(ctx, snap.UploadID, admin)
	assert.NoError(t, err)
	_, err = svc.AdmitChunk(ctx, snap.UploadID, 0, payload, hashHex(payload), admin)
	assert.NoError(t, err)
}

func TestAdmitChunkMalformedAndUnknownUploadID(t *testing.T) {
	svc, _, _, _ := newTestUploadService(t, time.Minute)
	caller := Caller{ID: primitive.NewObjectID()}
	ctx := context.Background()
	payload := []byte("x")

	_, err := svc.AdmitChunk(ctx, "not-a-uuid", 0, payload, hashHex(payload), caller)
	assert.ErrorIs(t, err, ErrMalformedUploadID)

	_, err = svc.AdmitChunk(ctx, "00000000-0000-4000-8000-000000000000", 0, payload, hashHex(payload), caller)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.GetProgress(ctx, "nope", caller)
	assert.ErrorIs(t, err, ErrMalformedUploadID)
}

func TestConcurrentLastChunkFinalizesOnce(t *testing.T) {
	svc, _, objStore, assetRepo := newTestUploadService(t, time.Minute)
	owner := primitive.NewObjectID()
	caller := Caller{ID: owner}
	ctx := context.Background()

	snap := startSession(t, svc, owner)
	for i := 0; i < 3; i++ {
		payload := chunkPayload(i, 262144)
		_, err := svc.AdmitChunk(ctx, snap.UploadID, i, payload, hashHex(payload), caller)
		require.NoError(t, err)
	}

	// Many clients retry the last chunk at once. One admission wins the
	// finalize transition; the rest land after the terminal state.
	const racers = 16
	lastPayload := chunkPayload(3, 262144)
	lastHash := hashHex(lastPayload)

	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, err := svc.AdmitChunk(ctx, snap.UploadID, 3, lastPayload, lastHash, caller)
			results[slot] = err
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrSessionFinished)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, objStore.completeCalls)
	assert.Equal(t, 1, assetRepo.createCalls)
	assert.Len(t, assetRepo.assets, 1)
}

func TestProgressNeverDecreases(t *testing.T) {
	svc, _, _, _ := newTestUploadService(t, time.Minute)
	owner := primitive.NewObjectID()
	caller := Caller{ID: owner}
	ctx := context.Background()

	snap := startSession(t, svc, owner)

	last := 0
	order := []int{2, 0, 2, 1, 3} // includes one re-send
	for _, idx := range order {
		payload := chunkPayload(idx, 262144)
		s, err := svc.AdmitChunk(ctx, snap.UploadID, idx, payload, hashHex(payload), caller)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s.Progress, last)
		last = s.Progress
	}
	assert.Equal(t, 100, last)
}

// --- Finalization Failures ---

func TestFinalizeSizeMismatchCompensates(t *testing.T) {
	svc, _, objStore, assetRepo := newTestUploadService(t, time.Minute)
	owner := primitive.NewObjectID()
	caller := Caller{ID: owner}
	ctx := context.Background()

	snap := startSession(t, svc, owner)
	objStore.reportedSize = 999 // storage claims the wrong assembled size

	var final domain.ProgressSnapshot
	for i := 0; i < 4; i++ {
		payload := chunkPayload(i, 262144)
		s, err := svc.AdmitChunk(ctx, snap.UploadID, i, payload, hashHex(payload), caller)
		require.NoError(t, err)
		final = s
	}

	assert.Equal(t, domain.UploadStatusFailed, final.Status)
	assert.Empty(t, final.AssetID)
	assert.Equal(t, 0, assetRepo.createCalls)
	// The mismatched object was deleted so no asset can ever point at it.
	assert.Len(t, objStore.deletedKeys, 1)
}

func TestFinalizeAssetCreateFailureFailsSession(t *testing.T) {
	svc, _, objStore, assetRepo := newTestUploadService(t, time.Minute)
	owner := primitive.NewObjectID()
	caller := Caller{ID: owner}
	ctx := context.Background()

	snap := startSession(t, svc, owner)
	assetRepo.createErr = errors.New("mongo unavailable")

	var final domain.ProgressSnapshot
	for i := 0; i < 4; i++ {
		payload := chunkPayload(i, 262144)
		s, err := svc.AdmitChunk(ctx, snap.UploadID, i, payload, hashHex(payload), caller)
		require.NoError(t, err)
		final = s
	}

	assert.Equal(t, domain.UploadStatusFailed, final.Status)
	assert.Equal(t, 1, objStore.completeCalls)
	assert.Empty(t, assetRepo.assets)

	// Retrying into a failed session is a conflict.
	payload := chunkPayload(0, 262144)
	_, err := svc.AdmitChunk(ctx, snap.UploadID, 0, payload, hashHex(payload), caller)
	assert.ErrorIs(t, err, ErrSessionFinished)
}

// --- Expiry ---

func TestIdleSessionExpires(t *testing.T) {
	svc, registry, _, _ := newTestUploadService(t, 30*time.Minute)
	owner := primitive.NewObjectID()
	caller := Caller{ID: owner}
	ctx := context.Background()

	snap := startSession(t, svc, owner)
	payload := chunkPayload(0, 262144)
	_, err := svc.AdmitChunk(ctx, snap.UploadID, 0, payload, hashHex(payload), caller)
	require.NoError(t, err)

	// Jump past the TTL.
	registry.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

	_, err = svc.AdmitChunk(ctx, snap.UploadID, 1, chunkPayload(1, 262144), hashHex(chunkPayload(1, 262144)), caller)
	assert.ErrorIs(t, err, ErrSessionExpired)

	// Progress is still queryable and reports the expired state.
	progress, err := svc.GetProgress(ctx, snap.UploadID, caller)
	require.NoError(t, err)
	assert.Equal(t, domain.UploadStatusExpired, progress.Status)
	assert.Equal(t, int64(262144), progress.UploadedSize)
}

func TestSweepAbortsAbandonedUploads(t *testing.T) {
	svc, registry, objStore, _ := newTestUploadService(t, 30*time.Minute)
	owner := primitive.NewObjectID()
	caller := Caller{ID: owner}
	ctx := context.Background()

	snap := startSession(t, svc, owner)
	payload := chunkPayload(0, 262144)
	_, err := svc.AdmitChunk(ctx, snap.UploadID, 0, payload, hashHex(payload), caller)
	require.NoError(t, err)

	registry.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

	impl := svc.(*uploadService)
	impl.sweep(ctx)

	assert.Equal(t, 1, objStore.abortCalls)

	// A second sweep does not abort again.
	impl.sweep(ctx)
	assert.Equal(t, 1, objStore.abortCalls)

	// Past the retention window the session is purged entirely.
	registry.now = func() time.Time { return time.Now().Add(100 * time.Hour) }
	impl.sweep(ctx)
	assert.Equal(t, 0, registry.Len())
}

// --- Direct Upload ---

func TestDirectUploadStoresAsset(t *testing.T) {
	svc, _, objStore, assetRepo := newTestUploadService(t, time.Minute)
	owner := primitive.NewObjectID()
	ctx := context.Background()

	content := []byte("a small sigil png payload")
	asset, err := svc.DirectUpload(ctx, DirectUploadInput{
		FileName: "sigil.png",
		MimeType: "image/png",
		Owner:    owner,
		Body:     bytes.NewReader(content),
		Size:     int64(len(content)),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(len(content)), asset.Size)
	assert.Equal(t, hashHex(content), asset.ContentHash)
	assert.Equal(t, domain.AssetTypeImage, asset.AssetType)
	assert.Equal(t, owner, asset.UserID)
	assert.False(t, asset.ID.IsZero())
	assert.Equal(t, 1, assetRepo.createCalls)

	// The declared length reaches the storage layer; S3 needs it to sign
	// a streamed body.
	require.Len(t, objStore.putLengths, 1)
	assert.Equal(t, int64(len(content)), objStore.putLengths[0])

	stored, ok := objStore.objects[asset.StorageKey]
	require.True(t, ok)
	assert.Equal(t, content, stored)
}

func TestDirectUploadOversizeDeletedBeforeError(t *testing.T) {
	svc, _, objStore, assetRepo := newTestUploadService(t, time.Minute)
	owner := primitive.NewObjectID()
	ctx := context.Background()

	// One byte over the limit. The size is only known after storing, so
	// the object must be deleted before the error surfaces.
	content := make([]byte, testMaxDirect+1)
	_, err := svc.DirectUpload(ctx, DirectUploadInput{
		FileName: "oversized.mp4",
		MimeType: "video/mp4",
		Owner:    owner,
		Body:     bytes.NewReader(content),
		Size:     int64(len(content)),
	})
	assert.ErrorIs(t, err, ErrFileTooLarge)
	assert.Len(t, objStore.deletedKeys, 1)
	assert.Empty(t, objStore.objects)
	assert.Equal(t, 0, assetRepo.createCalls)
}

func TestDirectUploadRejectsEmptyBody(t *testing.T) {
	svc, _, _, assetRepo := newTestUploadService(t, time.Minute)
	ctx := context.Background()

	_, err := svc.DirectUpload(ctx, DirectUploadInput{
		FileName: "empty.txt",
		MimeType: "text/plain",
		Owner:    primitive.NewObjectID(),
		Body:     bytes.NewReader(nil),
		Size:     0,
	})
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Equal(t, 0, assetRepo.createCalls)
}

func TestDirectUploadValidation(t *testing.T) {
	svc, _, _, _ := newTestUploadService(t, time.Minute)
	ctx := context.Background()

	_, err := svc.DirectUpload(ctx, DirectUploadInput{MimeType: "image/png", Owner: primitive.NewObjectID(), Body: bytes.NewReader([]byte("x")), Size: 1})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = svc.DirectUpload(ctx, DirectUploadInput{FileName: "a.png", MimeType: "image/png", Body: bytes.NewReader([]byte("x")), Size: 1})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = svc.DirectUpload(ctx, DirectUploadInput{FileName: "a.png", MimeType: "image/png", Owner: primitive.NewObjectID()})
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, err = svc.DirectUpload(ctx, DirectUploadInput{FileName: "a.png", MimeType: "image/png", Owner: primitive.NewObjectID(), Body: bytes.NewReader([]byte("x")), Size: -1})
	assert.ErrorIs(t, err, ErrValidationFailed)
}

// --- Asset Queries ---

func TestGetAssetWithURL(t *testing.T) {
	svc, _, _, _ := newTestUploadService(t, time.Minute)
	owner := primitive.NewObjectID()
	ctx := context.Background()

	_, _, err := svc.GetAssetWithURL(ctx, primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrAssetNotFound)

	created, err := svc.DirectUpload(ctx, DirectUploadInput{
		FileName: "candle.jpg",
		MimeType: "image/jpeg",
		Owner:    owner,
		Body:     bytes.NewReader([]byte("jpeg bytes")),
		Size:     int64(len("jpeg bytes")),
	})
	require.NoError(t, err)

	asset, url, err := svc.GetAssetWithURL(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, asset.ID)
	assert.Equal(t, "https://signed.example.com/"+asset.StorageKey, url)
}

func TestListAssetsScopedToOwner(t *testing.T) {
	svc, _, _, _ := newTestUploadService(t, time.Minute)
	ownerA := primitive.NewObjectID()
	ownerB := primitive.NewObjectID()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.DirectUpload(ctx, DirectUploadInput{
			FileName: fmt.Sprintf("a-%d.png", i),
			MimeType: "image/png",
			Owner:    ownerA,
			Body:     bytes.NewReader([]byte{byte(i), 1, 2}),
			Size:     3,
		})
		require.NoError(t, err)
	}
	_, err := svc.DirectUpload(ctx, DirectUploadInput{
		FileName: "b.png",
		MimeType: "image/png",
		Owner:    ownerB,
		Body:     bytes.NewReader([]byte("b")),
		Size:     1,
	})
	require.NoError(t, err)

	assetsA, err := svc.ListAssets(ctx, ownerA)
	require.NoError(t, err)
	assert.Len(t, assetsA, 2)

	assetsB, err := svc.ListAssets(ctx, ownerB)
	require.NoError(t, err)
	assert.Len(t, assetsB, 1)
}
